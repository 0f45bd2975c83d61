package rpc

import (
	"context"
	"fmt"
)

// Invoker is the uniform capability shared by all procedures, independent of
// their request and response types.
type Invoker interface {
	// Name returns the fully qualified procedure name
	Name() string

	// InvokeAny invokes the procedure with an untyped request
	InvokeAny(ctx context.Context, req any) (any, error)
}

// Procedure is a typed remote procedure bound to a client
type Procedure[Req, Res any] struct {
	name   string
	client *Client
}

// NewProcedure binds the named procedure to client
func NewProcedure[Req, Res any](client *Client, name string) *Procedure[Req, Res] {
	return &Procedure[Req, Res]{name: name, client: client}
}

// Name returns the fully qualified procedure name
func (p *Procedure[Req, Res]) Name() string {
	return p.name
}

// Invoke calls the procedure with req and returns its decoded response
func (p *Procedure[Req, Res]) Invoke(ctx context.Context, req *Req) (*Res, error) {
	if p.client == nil {
		return nil, fmt.Errorf("procedure %s: no client configured", p.name)
	}

	var msg any = req
	if req == nil {
		var zero Req
		msg = &zero
	}

	res := new(Res)
	if err := p.client.Call(ctx, p.name, msg, res); err != nil {
		return nil, err
	}
	return res, nil
}

// InvokeAny implements Invoker. req must be a Req or *Req.
func (p *Procedure[Req, Res]) InvokeAny(ctx context.Context, req any) (any, error) {
	switch r := req.(type) {
	case *Req:
		return p.Invoke(ctx, r)
	case Req:
		return p.Invoke(ctx, &r)
	case nil:
		return p.Invoke(ctx, nil)
	default:
		return nil, NewError(CodeInvalidArgument, fmt.Sprintf("procedure %s: unexpected request type %T", p.name, req))
	}
}
