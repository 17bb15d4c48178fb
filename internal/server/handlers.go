package server

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/internal/iceberg"
	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/logger"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

// credentials turns the Authorization header into request credentials. The
// token is passed through unchecked.
func credentials(r *http.Request) storage.Credentials {
	projectID := r.URL.Query().Get("project_id")
	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return storage.BearerToken(strings.TrimSpace(auth[len("Bearer "):]), projectID)
	}
	return storage.Credentials{ProjectID: projectID}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "Iceberg Explorer API",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	usage, err := observability.SampleResources(r.Context())
	if err != nil {
		logger.WithContext(r.Context(), s.logger).Debug("failed to sample resources", zap.Error(err))
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   Version,
		"resources": usage,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	analysis, err := s.svc.Analyze(r.Context(), credentials(r), q.Get("bucket"), q.Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, analysis)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := iceberg.SampleRequest{
		Bucket:       q.Get("bucket"),
		TablePath:    q.Get("path"),
		SnapshotID:   q.Get("snapshot_id"),
		ManifestPath: q.Get("manifest_path"),
		FilePath:     q.Get("file_path"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, explorererrors.Newf(explorererrors.ErrorTypeValidation, "invalid limit: %q", raw))
			return
		}
		req.Limit = limit
	}

	result, err := s.svc.Sample(r.Context(), credentials(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	diff, err := s.svc.Compare(r.Context(), credentials(r),
		q.Get("bucket"), q.Get("path"), q.Get("snapshot_id_1"), q.Get("snapshot_id_2"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, diff)
}

func (s *Server) handleManifests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tree, err := s.svc.ManifestTree(r.Context(), credentials(r), q.Get("bucket"), q.Get("path"), q.Get("snapshot_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, tree)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	found, err := s.svc.Discover(r.Context(), credentials(r), q.Get("bucket"), q.Get("project_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, found)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.svc.Browse(r.Context(), credentials(r), q.Get("bucket"), q.Get("path"), q.Get("project_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.svc.Buckets(r.Context(), credentials(r), r.URL.Query().Get("project_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"buckets": buckets})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Projects(r.Context(), credentials(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.svc.BigQueryDatasets(r.Context(), credentials(r), r.URL.Query().Get("project_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"datasets": datasets})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tables, err := s.svc.BigQueryTables(r.Context(), credentials(r), q.Get("project_id"), q.Get("dataset_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"tables": tables})
}

func (s *Server) handleSearchIceberg(w http.ResponseWriter, r *http.Request) {
	tables, err := s.svc.SearchIcebergTables(r.Context(), credentials(r), r.URL.Query().Get("project_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"tables": tables})
}
