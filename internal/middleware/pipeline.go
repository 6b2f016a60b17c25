package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Next delegates to the remainder of the chain. A stage that doesn't call
// it short-circuits the request.
type Next func()

// Handler is a single stage's logic: do work, optionally call next.
type Handler func(ctx *Context, next Next)

// Stage is one named link in the pipeline.
type Stage struct {
	Name    string
	Handler Handler
}

// Pipeline is the ordered, fixed-at-construction list of stages that
// drives every request.
type Pipeline struct {
	stages []Stage
	log    *zap.SugaredLogger
}

// New builds a Pipeline. Construction is order-sensitive: stages run in
// the order given.
func New(log *zap.SugaredLogger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, log: log}
}

// StageNames returns the configured stage names in order, used by the
// health snapshot.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// ServeHTTP builds a Context and drives it through every stage. If a
// stage panics, the panic is recovered and, when headers are still
// unsent, a 500 naming the offending stage is emitted. This must never
// crash the process, and must never prevent the logger's finish hook
// from running.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientKey := deriveClientKey(r)
	requestID := r.Header.Get("x-request-id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx := newContext(w, r, clientKey, requestID, time.Now())

	p.run(ctx)
}

func (p *Pipeline) run(ctx *Context) {
	offending := ""

	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("pipeline stage panicked",
				"stage", offending,
				"requestID", ctx.RequestID,
				"cause", toErrorString(r),
			)
			if !ctx.Writer.Written() {
				writeStageError(ctx.Writer, offending, r)
			}
		}
		// Backstop for the selection side effect: if a stage panicked (or
		// otherwise bailed) between selection and the proxy's own release,
		// the balancer's completion hook still runs exactly once.
		ctx.Complete()
	}()

	var step func(i int)
	step = func(i int) {
		if i >= len(p.stages) {
			return
		}
		offending = p.stages[i].Name
		p.stages[i].Handler(ctx, func() { step(i + 1) })
	}
	step(0)
}

// writeStageError emits a 500 identifying which stage faulted, so a
// panic deep in the chain surfaces as a diagnosable response instead of
// a dropped connection.
func writeStageError(w *statusWriter, stage string, cause any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": "internal pipeline error",
		"stage": stage,
		"cause": toErrorString(cause),
	})
}

func toErrorString(cause any) string {
	if err, ok := cause.(error); ok {
		return err.Error()
	}
	if s, ok := cause.(string); ok {
		return s
	}
	return "unknown error"
}

// deriveClientKey extracts the partitioning key used by rate limiters and
// hashing load balancers: the first X-Forwarded-For entry if present,
// otherwise the remote IP with the ephemeral port stripped (two requests
// from the same client must map to the same key even across connections).
func deriveClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
