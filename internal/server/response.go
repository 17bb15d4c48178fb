package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
	"github.com/Vadoid/iceberg-explorer/pkg/logger"
)

const authFailedDetail = "Authentication failed. Please login again."

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := jsonpkg.Marshal(v)
	if err != nil {
		logger.WithContext(r.Context(), s.logger).Error("failed to encode response", zap.Error(err))
		http.Error(w, `{"detail":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError answers with the status of the error's type. Credential
// failures ask the client to log in again.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	log := logger.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Info("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}

	if status == http.StatusUnauthorized {
		s.writeJSON(w, r, status, map[string]interface{}{
			"detail": authFailedDetail,
			"error":  err.Error(),
		})
		return
	}

	body := map[string]interface{}{
		"detail": err.Error(),
		"type":   explorererrors.TypeOf(err),
	}
	if details := explorererrors.DetailsOf(err); len(details) > 0 {
		body["details"] = details
	}
	s.writeJSON(w, r, status, body)
}

func statusOf(err error) int {
	switch explorererrors.TypeOf(err) {
	case explorererrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case explorererrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case explorererrors.ErrorTypeAuthentication, explorererrors.ErrorTypePermission:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
