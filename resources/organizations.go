package resources

import (
	"context"
	"fmt"
	"slices"

	"github.com/giantswarm/console-core/mutation"
	"github.com/giantswarm/console-core/query"
	"github.com/giantswarm/console-core/rpc"
)

// Organizations reads and writes organizations
type Organizations struct {
	list   *rpc.Procedure[ListOrganizationsRequest, ListOrganizationsResponse]
	create *rpc.Procedure[CreateOrganizationRequest, CreateOrganizationResponse]
	del    *rpc.Procedure[DeleteOrganizationRequest, DeleteOrganizationResponse]

	orchestrator *mutation.Orchestrator
}

// NewOrganizations binds the organization procedures to client
func NewOrganizations(client *rpc.Client, orchestrator *mutation.Orchestrator) *Organizations {
	return &Organizations{
		list:         rpc.NewProcedure[ListOrganizationsRequest, ListOrganizationsResponse](client, ProcedureListOrganizations),
		create:       rpc.NewProcedure[CreateOrganizationRequest, CreateOrganizationResponse](client, ProcedureCreateOrganization),
		del:          rpc.NewProcedure[DeleteOrganizationRequest, DeleteOrganizationResponse](client, ProcedureDeleteOrganization),
		orchestrator: orchestrator,
	}
}

// Procedures returns the bound procedures
func (o *Organizations) Procedures() []rpc.Invoker {
	return []rpc.Invoker{o.list, o.create, o.del}
}

// List returns the organizations, from the cache when the entry is fresh
func (o *Organizations) List(ctx context.Context) ([]Organization, error) {
	orgs, err := query.Query(ctx, o.orchestrator.Cache(), OrganizationsKey(), func(ctx context.Context) ([]Organization, error) {
		res, err := o.list.Invoke(ctx, &ListOrganizationsRequest{})
		if err != nil {
			return nil, err
		}
		return res.Organizations, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

// Cached returns the cached organization list without fetching
func (o *Organizations) Cached() ([]Organization, bool) {
	orgs, ok, err := query.Get[[]Organization](o.orchestrator.Cache(), OrganizationsKey())
	if err != nil {
		return nil, false
	}
	return orgs, ok
}

// Subscribe observes changes to the cached organization list
func (o *Organizations) Subscribe(fn query.Listener) (unsubscribe func()) {
	return o.orchestrator.Cache().Subscribe(OrganizationsKey(), fn)
}

// Create creates an organization. The list is invalidated once the server confirms.
func (o *Organizations) Create(ctx context.Context, req *CreateOrganizationRequest) *mutation.Pending[CreateOrganizationResponse] {
	return mutation.Start(ctx, o.orchestrator, mutation.Mutation[CreateOrganizationRequest, CreateOrganizationResponse]{
		Name: "organizations.create",
		Affects: func(*CreateOrganizationRequest) []query.Key {
			return []query.Key{OrganizationsPrefix}
		},
		Call: o.create.Invoke,
	}, req)
}

// Delete removes the organization from the cached list immediately and deletes
// it on the server. Its cached projects are dropped with it.
func (o *Organizations) Delete(ctx context.Context, name string) *mutation.Pending[DeleteOrganizationResponse] {
	return mutation.Start(ctx, o.orchestrator, mutation.Mutation[DeleteOrganizationRequest, DeleteOrganizationResponse]{
		Name: "organizations.delete",
		Affects: func(req *DeleteOrganizationRequest) []query.Key {
			return []query.Key{OrganizationsPrefix, projectsOf(req.Name)}
		},
		Optimistic: func(req *DeleteOrganizationRequest, _ query.Key, data any) any {
			switch v := data.(type) {
			case []Organization:
				return slices.DeleteFunc(slices.Clone(v), func(org Organization) bool { return org.Name == req.Name })
			case []Project:
				return []Project{}
			default:
				return data
			}
		},
		Call: o.del.Invoke,
	}, &DeleteOrganizationRequest{Name: name})
}
