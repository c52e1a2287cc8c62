package server

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed for websocket upgrades
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logging.CreateContextWithRequestID(r.Context(), requestID))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

// requireToken checks the bearer token when one is configured. Browsers
// cannot set headers on websocket upgrades, so ?token= is accepted as well.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}
	want := []byte(s.config.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeBackupError maps the backup error taxonomy onto HTTP statuses
func (s *Server) writeBackupError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case backup.IsErrorType(err, backup.ErrorTypeValidation):
		status = http.StatusBadRequest
	case backup.IsErrorType(err, backup.ErrorTypeNotFound):
		status = http.StatusNotFound
	case backup.IsErrorType(err, backup.ErrorTypeDuplicateOperation):
		status = http.StatusConflict
	case backup.IsErrorType(err, backup.ErrorTypeInvalidFormat),
		backup.IsErrorType(err, backup.ErrorTypeCompression),
		backup.IsErrorType(err, backup.ErrorTypeEncryption):
		status = http.StatusUnprocessableEntity
	case backup.IsErrorType(err, backup.ErrorTypeBackendUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= 500 {
		s.logger.WithContext(r.Context()).WithField("error", err.Error()).Error("Request failed")
	}
	writeError(w, status, err.Error())
}
