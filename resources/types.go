package resources

// Procedure names of the console API
const (
	ProcedureListOrganizations  = "console.v1.OrganizationService/ListOrganizations"
	ProcedureCreateOrganization = "console.v1.OrganizationService/CreateOrganization"
	ProcedureDeleteOrganization = "console.v1.OrganizationService/DeleteOrganization"

	ProcedureListProjects  = "console.v1.ProjectService/ListProjects"
	ProcedureCreateProject = "console.v1.ProjectService/CreateProject"
	ProcedureDeleteProject = "console.v1.ProjectService/DeleteProject"
)

// Organization is a tenant of the console
type Organization struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

// Project belongs to exactly one organization
type Project struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	DisplayName  string `json:"displayName,omitempty"`
}

type ListOrganizationsRequest struct{}

type ListOrganizationsResponse struct {
	Organizations []Organization `json:"organizations"`
}

type CreateOrganizationRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

type CreateOrganizationResponse struct {
	Organization Organization `json:"organization"`
}

type DeleteOrganizationRequest struct {
	Name string `json:"name"`
}

type DeleteOrganizationResponse struct{}

type ListProjectsRequest struct {
	Organization string `json:"organization"`
}

type ListProjectsResponse struct {
	Projects []Project `json:"projects"`
}

type CreateProjectRequest struct {
	Organization string `json:"organization"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName,omitempty"`
}

type CreateProjectResponse struct {
	Project Project `json:"project"`
}

type DeleteProjectRequest struct {
	Organization string `json:"organization"`
	Name         string `json:"name"`
}

type DeleteProjectResponse struct{}
