package mutation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/console-core/instrumentation"
	"github.com/giantswarm/console-core/query"
)

// Mutation describes one kind of write
type Mutation[Req, Res any] struct {
	// Name identifies the mutation in logs, metrics and errors
	Name string

	// Affects returns the cache prefixes the write touches. They are snapshotted
	// before Optimistic runs and invalidated once the write succeeds.
	Affects func(req *Req) []query.Key

	// Optimistic, when set, returns the edited value for one affected entry.
	// It must not modify data in place.
	Optimistic func(req *Req, key query.Key, data any) any

	// Call performs the write RPC
	Call func(ctx context.Context, req *Req) (*Res, error)
}

// Orchestrator runs mutations against one cache
type Orchestrator struct {
	cache *query.Cache

	mu     sync.Mutex
	active map[string]*record

	logger *slog.Logger
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
	now    func() time.Time
}

// record tracks an unsettled mutation for overlap detection
type record struct {
	prefixes   []query.Key
	overlapped bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithInstrumentation records mutation metrics and spans
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(o *Orchestrator) {
		o.inst = inst
		if inst != nil {
			o.tracer = inst.Tracer("mutation")
		}
	}
}

// New creates an orchestrator editing cache
func New(cache *query.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:  cache,
		active: make(map[string]*record),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Cache returns the cache the orchestrator edits
func (o *Orchestrator) Cache() *query.Cache {
	return o.cache
}

// InFlight returns the number of unsettled mutations
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Run starts m and waits for it to settle
func Run[Req, Res any](ctx context.Context, o *Orchestrator, m Mutation[Req, Res], req *Req) (*Res, error) {
	return Start(ctx, o, m, req).Wait(ctx)
}

// Start snapshots and optimistically edits the affected entries, then issues
// the write in the background. The optimistic edit is visible in the cache when
// Start returns. ctx governs the write RPC.
func Start[Req, Res any](ctx context.Context, o *Orchestrator, m Mutation[Req, Res], req *Req) *Pending[Res] {
	id := uuid.NewString()
	p := newPending[Res](id, m.Name)
	started := o.now()

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "mutation."+m.Name)
	}
	instrumentation.AddMutationAttributes(span, id, m.Name, StageSnapshot.String())

	if m.Call == nil {
		err := &Error{ID: id, Mutation: m.Name, Err: errors.New("no call configured")}
		o.finish(ctx, span, m.Name, started, err)
		p.settle(nil, err)
		return p
	}

	var prefixes []query.Key
	if m.Affects != nil {
		prefixes = m.Affects(req)
	}

	o.register(id, prefixes)

	// Snapshot and optimistic edit happen in one cache step; pending fetches
	// are canceled so they cannot overwrite the edit with pre-mutation data.
	var edit func(query.Key, any) any
	if m.Optimistic != nil {
		edit = func(key query.Key, data any) any {
			return m.Optimistic(req, key, data)
		}
	}
	snapshot, generation := o.cache.Edit(prefixes, edit)
	addStageEvent(span, StageSnapshot, len(snapshot))

	p.setStage(StageApply)
	addStageEvent(span, StageApply, len(snapshot))

	p.setStage(StageCall)
	addStageEvent(span, StageCall, len(snapshot))
	o.logger.Debug("Mutation started", "mutation", m.Name, "id", id, "snapshot_entries", len(snapshot))

	go func() {
		res, err := m.Call(ctx, req)
		overlapped := o.unregister(id)

		if err == nil {
			for _, prefix := range prefixes {
				o.cache.Invalidate(prefix)
			}
			o.finish(ctx, span, m.Name, started, nil)
			p.settle(res, nil)
			return
		}

		// A Clear during the call (sign-out, user change) supersedes the
		// snapshot; restoring it would resurrect the previous session's data.
		rolledBack := 0
		if o.cache.RestoreIf(generation, snapshot) {
			rolledBack = len(snapshot)
			if overlapped {
				for _, prefix := range prefixes {
					o.cache.Invalidate(prefix)
				}
			}
		}
		mErr := &Error{ID: id, Mutation: m.Name, RolledBack: rolledBack, Reconciled: overlapped && rolledBack > 0, Err: err}

		if o.inst != nil {
			o.inst.Metrics().RecordMutationRollback(ctx, m.Name, rolledBack)
		}
		o.logger.Warn("Mutation failed, cache rolled back",
			"mutation", m.Name,
			"id", id,
			"entries", rolledBack,
			"reconciled", mErr.Reconciled,
			"error", err)

		o.finish(ctx, span, m.Name, started, mErr)
		p.settle(nil, mErr)
	}()

	return p
}

// register records a new mutation and flags every unsettled mutation whose
// prefixes overlap with it, itself included
func (o *Orchestrator) register(id string, prefixes []query.Key) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := &record{prefixes: prefixes}
	for _, other := range o.active {
		if overlaps(rec.prefixes, other.prefixes) {
			other.overlapped = true
			rec.overlapped = true
		}
	}
	o.active[id] = rec
}

// unregister removes a settled mutation and reports whether it overlapped
// with another one
func (o *Orchestrator) unregister(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.active[id]
	if !ok {
		return false
	}
	delete(o.active, id)
	return rec.overlapped
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, name string, started time.Time, err error) {
	outcome := StageSucceeded
	if err != nil {
		outcome = StageFailed
	}

	if o.inst != nil {
		o.inst.Metrics().RecordMutation(ctx, name, outcome.String(), float64(o.now().Sub(started).Milliseconds()))
	}
	if span == nil {
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrMutationStage, outcome.String()))
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

func addStageEvent(span trace.Span, stage Stage, entries int) {
	if span == nil {
		return
	}
	span.AddEvent(stage.String(), trace.WithAttributes(attribute.Int(instrumentation.AttrCacheEntries, entries)))
}

func overlaps(a, b []query.Key) bool {
	for _, x := range a {
		for _, y := range b {
			if x.HasPrefix(y) || y.HasPrefix(x) {
				return true
			}
		}
	}
	return false
}
