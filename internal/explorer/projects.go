package explorer

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	crm "google.golang.org/api/cloudresourcemanager/v1"

	"github.com/Vadoid/iceberg-explorer/pkg/config"
	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
	"github.com/Vadoid/iceberg-explorer/pkg/logger"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

const (
	stateActive  = "ACTIVE"
	stateUnknown = "UNKNOWN"
)

// Project is one cloud project visible to the caller.
type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// ProjectList is the result of Projects.
type ProjectList struct {
	Projects    []Project `json:"projects"`
	TotalFound  int       `json:"total_found"`
	ActiveCount int       `json:"active_count"`
	Errors      []string  `json:"errors"`
}

// ProjectSource lists projects for a set of credentials.
type ProjectSource interface {
	ListProjects(ctx context.Context, creds storage.Credentials) ([]Project, error)
}

// ResourceManagerProjects lists projects through the Cloud Resource Manager API.
type ResourceManagerProjects struct {
	cfg    config.StorageConfig
	logger *zap.Logger
}

// NewResourceManagerProjects creates a ProjectSource backed by Resource Manager.
func NewResourceManagerProjects(cfg config.StorageConfig, logger *zap.Logger) *ResourceManagerProjects {
	return &ResourceManagerProjects{cfg: cfg, logger: logger}
}

// ListProjects implements ProjectSource.
func (r *ResourceManagerProjects) ListProjects(ctx context.Context, creds storage.Credentials) ([]Project, error) {
	if creds.CredentialsFile == "" {
		creds.CredentialsFile = r.cfg.CredentialsFile
	}
	svc, err := crm.NewService(ctx, creds.ClientOptions()...)
	if err != nil {
		return nil, storage.Classify(err, "failed to initialize Resource Manager client")
	}

	var projects []Project
	err = svc.Projects.List().Pages(ctx, func(page *crm.ListProjectsResponse) error {
		for _, p := range page.Projects {
			if p == nil || p.ProjectId == "" {
				continue
			}
			name := p.Name
			if name == "" {
				name = p.ProjectId
			}
			state := p.LifecycleState
			if state == "" {
				state = stateUnknown
			}
			projects = append(projects, Project{ID: p.ProjectId, Name: name, State: state})
		}
		return nil
	})
	if err != nil {
		return nil, storage.Classify(err, "Resource Manager API error")
	}
	return projects, nil
}

// Projects lists the caller's projects, active ones only when there are any.
// When the API yields nothing, the project of the service account key and the
// configured project are offered instead.
func (s *Service) Projects(ctx context.Context, creds storage.Credentials) (*ProjectList, error) {
	log := logger.WithContext(ctx, s.logger)

	var errs []string
	projects, apiErr := s.projects.ListProjects(ctx, creds)
	if apiErr != nil {
		if ctx.Err() != nil {
			return nil, apiErr
		}
		log.Warn("failed to list projects", zap.Error(apiErr))
		errs = append(errs, apiErr.Error())
	}

	for _, id := range []string{s.keyFileProject(creds), s.projectID("", creds)} {
		if id != "" && !containsProject(projects, id) {
			projects = append(projects, Project{ID: id, Name: id, State: stateUnknown})
		}
	}

	if len(projects) == 0 {
		if apiErr != nil && explorererrors.IsCredentialError(apiErr) {
			return nil, apiErr
		}
		msg := "no projects found; make sure the Resource Manager API is enabled and the credentials may list projects"
		if len(errs) > 0 {
			msg += ": " + strings.Join(errs, "; ")
		}
		return nil, explorererrors.New(explorererrors.ErrorTypeNotFound, msg)
	}

	var active []Project
	for _, p := range projects {
		if p.State == stateActive {
			active = append(active, p)
		}
	}
	list := &ProjectList{
		Projects:    projects,
		TotalFound:  len(projects),
		ActiveCount: len(active),
		Errors:      errs,
	}
	if len(active) > 0 {
		list.Projects = active
	}
	return list, nil
}

// keyFileProject reads project_id from the service account key, if any.
func (s *Service) keyFileProject(creds storage.Credentials) string {
	path := creds.CredentialsFile
	if path == "" {
		path = s.cfg.Storage.CredentialsFile
	}
	if path == "" {
		path = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var key struct {
		ProjectID string `json:"project_id"`
	}
	if err := jsonpkg.Unmarshal(data, &key); err != nil {
		return ""
	}
	return key.ProjectID
}

func containsProject(projects []Project, id string) bool {
	for _, p := range projects {
		if p.ID == id {
			return true
		}
	}
	return false
}
