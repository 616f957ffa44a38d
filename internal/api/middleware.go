// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/copernicusai/copernicus/internal/log"
)

const requestIDHeader = "X-Request-ID"

// requestID tags each request with an id, honoring one supplied by the
// client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	logger := log.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logger.Info().
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Int("status", rec.status).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Msg("request")
	})
}

func recoverPanics(next http.Handler) http.Handler {
	logger := log.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().
					Interface("panic", rec).
					Str(log.FieldPath, r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				writeDetail(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
