package logging

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// AccessLogOptions controls the behavior of the access-log middleware.
type AccessLogOptions struct {
	// Colors enables colored method/status/duration values. Only useful
	// with console format in a terminal.
	Colors ColorScheme
	// SkipPaths lists exact request paths that are never logged, typically
	// health probes polled every few seconds.
	SkipPaths []string
}

// HTTPMiddleware returns an HTTP middleware that logs each request on
// completion with default options.
func HTTPMiddleware(logger Logger) func(http.Handler) http.Handler {
	return AccessLog(logger, AccessLogOptions{})
}

// AccessLog returns an HTTP middleware that logs each request on completion.
// The request-scoped logger carries correlation fields from the context and
// is stored back into the context for downstream handlers.
func AccessLog(logger Logger, opts AccessLogOptions) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			reqLogger := WithContext(logger, r.Context())
			r = r.WithContext(ToContext(r.Context(), reqLogger))

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			method := r.Method
			status := strconv.Itoa(wrapped.statusCode)
			took := duration.String()
			if opts.Colors != nil {
				method = Colorize(opts.Colors.MethodColor(r.Method), method)
				status = Colorize(opts.Colors.StatusColor(wrapped.statusCode), status)
				took = Colorize(opts.Colors.DurationColor(duration), took)
			}

			reqLogger.Info("http.request",
				zap.String("method", method),
				zap.String("path", r.URL.Path),
				zap.String("status", status),
				zap.String("took", took),
				zap.Int("bytes", wrapped.bytesWritten),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the number of bytes written.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for compatibility with
// http.ResponseController and other wrappers.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RecoveryMiddleware returns an HTTP middleware that recovers from panics,
// logs them, and responds with 500.
func RecoveryMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					reqLogger := WithContext(logger, r.Context())
					reqLogger.Error("http.panic.recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
