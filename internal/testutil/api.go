package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
)

// Console API procedure names served by API
const (
	ProcListOrganizations  = "console.v1.OrganizationService/ListOrganizations"
	ProcCreateOrganization = "console.v1.OrganizationService/CreateOrganization"
	ProcDeleteOrganization = "console.v1.OrganizationService/DeleteOrganization"
	ProcListProjects       = "console.v1.ProjectService/ListProjects"
	ProcCreateProject      = "console.v1.ProjectService/CreateProject"
	ProcDeleteProject      = "console.v1.ProjectService/DeleteProject"
)

type apiOrganization struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

type apiProject struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	DisplayName  string `json:"displayName,omitempty"`
}

type apiFailure struct {
	status int
	code   string
}

// API is an in-memory console API speaking the JSON RPC wire format
type API struct {
	Server *httptest.Server

	mu        sync.Mutex
	authorize func(token string) bool
	orgs     []apiOrganization
	projects map[string][]apiProject
	failures map[string]apiFailure
	holds    map[string]chan struct{}
	calls    map[string]int
	tokens   []string
}

// NewAPI starts an API server that is closed when the test ends
func NewAPI(t *testing.T) *API {
	t.Helper()
	a := &API{
		projects: make(map[string][]apiProject),
		failures: make(map[string]apiFailure),
		holds:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.Server.Close)
	return a
}

// URL returns the base URL of the API
func (a *API) URL() string {
	return a.Server.URL
}

// SetAuthorizer makes every call require a bearer token accepted by fn. A nil
// fn accepts unauthenticated calls.
func (a *API) SetAuthorizer(fn func(token string) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authorize = fn
}

// AddOrganization seeds an organization
func (a *API) AddOrganization(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orgs = append(a.orgs, apiOrganization{Name: name})
}

// AddProject seeds a project
func (a *API) AddProject(org, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.projects[org] = append(a.projects[org], apiProject{Name: name, Organization: org})
}

// FailNext makes the next call of procedure fail with the given status and code
func (a *API) FailNext(procedure string, status int, code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[procedure] = apiFailure{status: status, code: code}
}

// Hold blocks calls of procedure until the returned release function is called
func (a *API) Hold(procedure string) (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.holds[procedure] = ch
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.holds, procedure)
			a.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how often procedure was called
func (a *API) Calls(procedure string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[procedure]
}

// Tokens returns the bearer tokens seen so far, "" for calls without one
func (a *API) Tokens() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.tokens)
}

func (a *API) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "invalid_argument", "POST required")
		return
	}
	procedure := strings.TrimPrefix(r.URL.Path, "/")
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	a.mu.Lock()
	a.calls[procedure]++
	a.tokens = append(a.tokens, token)
	hold := a.holds[procedure]
	failure, fail := a.failures[procedure]
	delete(a.failures, procedure)
	authorize := a.authorize
	a.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	if authorize != nil && (token == "" || !authorize(token)) {
		writeAPIError(w, http.StatusUnauthorized, "unauthenticated", "invalid or missing credential")
		return
	}
	if fail {
		writeAPIError(w, failure.status, failure.code, "injected failure")
		return
	}

	var req struct {
		Name         string `json:"name"`
		Organization string `json:"organization"`
		DisplayName  string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "malformed request")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch procedure {
	case ProcListOrganizations:
		writeAPIResponse(w, map[string]any{"organizations": slices.Clone(a.orgs)})

	case ProcCreateOrganization:
		if req.Name == "" {
			writeAPIError(w, http.StatusBadRequest, "invalid_argument", "name is required")
			return
		}
		if slices.ContainsFunc(a.orgs, func(o apiOrganization) bool { return o.Name == req.Name }) {
			writeAPIError(w, http.StatusConflict, "already_exists", "organization exists")
			return
		}
		org := apiOrganization{Name: req.Name, DisplayName: req.DisplayName}
		a.orgs = append(a.orgs, org)
		writeAPIResponse(w, map[string]any{"organization": org})

	case ProcDeleteOrganization:
		i := slices.IndexFunc(a.orgs, func(o apiOrganization) bool { return o.Name == req.Name })
		if i < 0 {
			writeAPIError(w, http.StatusNotFound, "not_found", "organization not found")
			return
		}
		a.orgs = slices.Delete(a.orgs, i, i+1)
		delete(a.projects, req.Name)
		writeAPIResponse(w, map[string]any{})

	case ProcListProjects:
		writeAPIResponse(w, map[string]any{"projects": slices.Clone(a.projects[req.Organization])})

	case ProcCreateProject:
		if !slices.ContainsFunc(a.orgs, func(o apiOrganization) bool { return o.Name == req.Organization }) {
			writeAPIError(w, http.StatusNotFound, "not_found", "organization not found")
			return
		}
		if slices.ContainsFunc(a.projects[req.Organization], func(p apiProject) bool { return p.Name == req.Name }) {
			writeAPIError(w, http.StatusConflict, "already_exists", "project exists")
			return
		}
		p := apiProject{Name: req.Name, Organization: req.Organization, DisplayName: req.DisplayName}
		a.projects[req.Organization] = append(a.projects[req.Organization], p)
		writeAPIResponse(w, map[string]any{"project": p})

	case ProcDeleteProject:
		projects := a.projects[req.Organization]
		i := slices.IndexFunc(projects, func(p apiProject) bool { return p.Name == req.Name })
		if i < 0 {
			writeAPIError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		a.projects[req.Organization] = slices.Delete(projects, i, i+1)
		writeAPIResponse(w, map[string]any{})

	default:
		writeAPIError(w, http.StatusNotFound, "not_found", "unknown procedure")
	}
}

func writeAPIResponse(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
