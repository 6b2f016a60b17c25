// Package middleware implements the composable pipeline that drives every
// request: an ordered list of named stages, each able to delegate to the
// remainder of the chain or short-circuit it.
package middleware

import (
	"net/http"
	"time"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
	"github.com/arclight-labs/gatewaylb/internal/circuitbreaker"
	"github.com/arclight-labs/gatewaylb/internal/loadbalancer"
)

// Context is the per-request record threaded down the chain. Stages read
// and write it directly; there is exactly one Context per request.
type Context struct {
	Request *http.Request
	Writer  *statusWriter

	ClientKey string
	RequestID string
	Start     time.Time

	// Backend, Breaker, and Balancer are filled in by the select stage and
	// consumed by the proxy stage. Balancer is the specific instance that
	// made the selection, so the completion hook lands on the same
	// algorithm even if the active selector is swapped mid-flight.
	Backend  *backendpool.Backend
	Breaker  *circuitbreaker.CircuitBreaker
	Balancer loadbalancer.Balancer

	// Meta is an open key/value bag stages use to record facts for the
	// logger (active algorithm name, rate-limited flag, and so on).
	Meta map[string]any

	// completion releases the balancer-side effect of the selection that
	// admitted this request (the least-connections increment). The select
	// stage registers it; Complete runs it at most once.
	completion func()
}

// SetCompletion registers the release half of the active balancer's
// selection side effect. Only the select stage calls this.
func (c *Context) SetCompletion(f func()) {
	c.completion = f
}

// Complete runs the registered completion exactly once. The proxy stage
// calls it on every terminal path, and the pipeline driver calls it again
// as a backstop, so a selection's side effect is released even when a
// stage panics mid-request.
func (c *Context) Complete() {
	if c.completion == nil {
		return
	}
	f := c.completion
	c.completion = nil
	f()
}

// newContext builds a Context for one inbound request.
func newContext(w http.ResponseWriter, r *http.Request, clientKey, requestID string, start time.Time) *Context {
	return &Context{
		Request:   r,
		Writer:    newStatusWriter(w),
		ClientKey: clientKey,
		RequestID: requestID,
		Start:     start,
		Meta:      make(map[string]any),
	}
}

// statusWriter wraps http.ResponseWriter to record the status code and
// whether headers have already been sent, so the pipeline driver's error
// recovery can tell whether it's still safe to write a response, and the
// logger stage can report the final status.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w}
}

func (w *statusWriter) WriteHeader(status int) {
	if w.written {
		return
	}
	w.status = status
	w.written = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Status returns the response status code, defaulting to 200 if nothing
// explicit was written yet.
func (w *statusWriter) Status() int {
	if !w.written {
		return http.StatusOK
	}
	return w.status
}

// Written reports whether headers have already been sent.
func (w *statusWriter) Written() bool { return w.written }
