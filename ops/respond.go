package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/leeforge/runtimekit/json"
	"github.com/leeforge/runtimekit/logging"
)

// Response is the envelope every JSON endpoint writes.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
	Meta  Meta   `json:"meta"`
}

// Error is the error half of the envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Meta carries request correlation and timing.
type Meta struct {
	TraceId string `json:"traceId,omitempty"`
	Took    int64  `json:"took,omitempty"`
}

type startTimeKey struct{}

func withStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey{}, t)
}

// tookMillis returns elapsed request time in milliseconds, 0 when the timing
// middleware did not run.
func tookMillis(ctx context.Context) int64 {
	if start, ok := ctx.Value(startTimeKey{}).(time.Time); ok {
		return time.Since(start).Milliseconds()
	}
	return 0
}

func newMeta(r *http.Request) Meta {
	return Meta{
		TraceId: logging.GetRequestID(r.Context()),
		Took:    tookMillis(r.Context()),
	}
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, &Response{Data: data, Meta: newMeta(r)})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, &Response{
		Error: &Error{Code: status, Message: message},
		Meta:  newMeta(r),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"encode failed"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}
