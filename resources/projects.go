package resources

import (
	"context"
	"fmt"
	"slices"

	"github.com/giantswarm/console-core/mutation"
	"github.com/giantswarm/console-core/query"
	"github.com/giantswarm/console-core/rpc"
)

// Projects reads and writes projects
type Projects struct {
	list   *rpc.Procedure[ListProjectsRequest, ListProjectsResponse]
	create *rpc.Procedure[CreateProjectRequest, CreateProjectResponse]
	del    *rpc.Procedure[DeleteProjectRequest, DeleteProjectResponse]

	orchestrator *mutation.Orchestrator
}

// NewProjects binds the project procedures to client
func NewProjects(client *rpc.Client, orchestrator *mutation.Orchestrator) *Projects {
	return &Projects{
		list:         rpc.NewProcedure[ListProjectsRequest, ListProjectsResponse](client, ProcedureListProjects),
		create:       rpc.NewProcedure[CreateProjectRequest, CreateProjectResponse](client, ProcedureCreateProject),
		del:          rpc.NewProcedure[DeleteProjectRequest, DeleteProjectResponse](client, ProcedureDeleteProject),
		orchestrator: orchestrator,
	}
}

// Procedures returns the bound procedures
func (p *Projects) Procedures() []rpc.Invoker {
	return []rpc.Invoker{p.list, p.create, p.del}
}

// List returns the projects of org, from the cache when the entry is fresh
func (p *Projects) List(ctx context.Context, org string) ([]Project, error) {
	if org == "" {
		return nil, rpc.NewError(rpc.CodeInvalidArgument, "organization is required")
	}

	projects, err := query.Query(ctx, p.orchestrator.Cache(), ProjectsKey(org), func(ctx context.Context) ([]Project, error) {
		res, err := p.list.Invoke(ctx, &ListProjectsRequest{Organization: org})
		if err != nil {
			return nil, err
		}
		return res.Projects, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects of %s: %w", org, err)
	}
	return projects, nil
}

// Cached returns the cached project list of org without fetching
func (p *Projects) Cached(org string) ([]Project, bool) {
	projects, ok, err := query.Get[[]Project](p.orchestrator.Cache(), ProjectsKey(org))
	if err != nil {
		return nil, false
	}
	return projects, ok
}

// Subscribe observes changes to the cached project list of org
func (p *Projects) Subscribe(org string, fn query.Listener) (unsubscribe func()) {
	return p.orchestrator.Cache().Subscribe(ProjectsKey(org), fn)
}

// Create creates a project. The organization's project lists are invalidated
// once the server confirms.
func (p *Projects) Create(ctx context.Context, req *CreateProjectRequest) *mutation.Pending[CreateProjectResponse] {
	return mutation.Start(ctx, p.orchestrator, mutation.Mutation[CreateProjectRequest, CreateProjectResponse]{
		Name: "projects.create",
		Affects: func(req *CreateProjectRequest) []query.Key {
			return []query.Key{projectsOf(req.Organization)}
		},
		Call: p.create.Invoke,
	}, req)
}

// Delete removes the project from the cached list immediately and deletes it on
// the server
func (p *Projects) Delete(ctx context.Context, org, name string) *mutation.Pending[DeleteProjectResponse] {
	return mutation.Start(ctx, p.orchestrator, mutation.Mutation[DeleteProjectRequest, DeleteProjectResponse]{
		Name: "projects.delete",
		Affects: func(req *DeleteProjectRequest) []query.Key {
			return []query.Key{projectsOf(req.Organization)}
		},
		Optimistic: func(req *DeleteProjectRequest, _ query.Key, data any) any {
			projects, ok := data.([]Project)
			if !ok {
				return data
			}
			return slices.DeleteFunc(slices.Clone(projects), func(project Project) bool { return project.Name == req.Name })
		},
		Call: p.del.Invoke,
	}, &DeleteProjectRequest{Organization: org, Name: name})
}
