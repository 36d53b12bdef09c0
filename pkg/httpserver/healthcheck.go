package httpserver

import (
	"context"
	"net/http"

	"github.com/fitforge/membership/pkg/logger"
)

// HealthCheckHandler serves liveness and readiness probes. With no
// dependency checks it always reports ALIVE; with checks it reports READY
// only while every check passes.
func (s *Server) HealthCheckHandler(checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ALIVE")) //nolint:errcheck
			return
		}

		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				s.log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("NOT_READY")) //nolint:errcheck
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY")) //nolint:errcheck
	}
}
