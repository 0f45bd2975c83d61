package resources

import "github.com/giantswarm/console-core/query"

// Service prefixes. Invalidating one marks every cached read of that service stale.
var (
	OrganizationsPrefix = query.NewKey("console.v1.OrganizationService")
	ProjectsPrefix      = query.NewKey("console.v1.ProjectService")
)

// OrganizationsKey is the cache key of the organization list
func OrganizationsKey() query.Key {
	return query.ForProcedure(ProcedureListOrganizations)
}

// ProjectsKey is the cache key of one organization's project list
func ProjectsKey(org string) query.Key {
	return query.ForProcedure(ProcedureListProjects).With("organization", org)
}

// projectsOf matches every cached project read of org
func projectsOf(org string) query.Key {
	return ProjectsPrefix.With("organization", org)
}
