package ops

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leeforge/runtimekit/logging"
)

// RequestIDHeader is the correlation header read from and written to every
// request.
const RequestIDHeader = "X-Request-ID"

// requestTimer is the collector timer fed by the timing middleware.
const requestTimer = "ops.request"

// requestID assigns each request an id, preferring one the caller already
// set, and stores it where the logging package finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := logging.SetRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// timing stamps the start time for Meta.Took and records one sample on the
// ops.request timer per request. A 5xx counts as a failure.
func (s *Server) timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = r.WithContext(withStartTime(r.Context(), start))

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if s.collector != nil {
			s.collector.RecordTimer(requestTimer, time.Since(start), wrapped.status < 500, nil)
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
