package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	var order []string
	stageA := Stage{Name: "a", Handler: func(ctx *Context, next Next) {
		order = append(order, "a")
		next()
	}}
	stageB := Stage{Name: "b", Handler: func(ctx *Context, next Next) {
		order = append(order, "b")
		next()
		order = append(order, "b-after")
	}}
	p := New(testLogger(), stageA, stageB)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	want := []string{"a", "b", "b-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPipelineShortCircuit(t *testing.T) {
	var ranB bool
	stageA := Stage{Name: "a", Handler: func(ctx *Context, next Next) {
		ctx.Writer.WriteHeader(http.StatusTeapot)
	}}
	stageB := Stage{Name: "b", Handler: func(ctx *Context, next Next) {
		ranB = true
		next()
	}}
	p := New(testLogger(), stageA, stageB)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if ranB {
		t.Fatal("stage b must not run when stage a doesn't call next")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestPipelineRecoversPanicAndNamesOffendingStage(t *testing.T) {
	stageA := Stage{Name: "boom", Handler: func(ctx *Context, next Next) {
		panic("kaboom")
	}}
	p := New(testLogger(), stageA)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := rec.Body.String(); !contains(body, "boom") {
		t.Fatalf("body = %q, want it to name the offending stage", body)
	}
}

func TestPipelinePanicDoesNotPreventLoggerFinishHook(t *testing.T) {
	var loggerFinished bool
	loggerStage := Stage{Name: "logger", Handler: func(ctx *Context, next Next) {
		defer func() { loggerFinished = true }()
		next()
	}}
	boom := Stage{Name: "boom", Handler: func(ctx *Context, next Next) {
		panic("downstream failure")
	}}
	p := New(testLogger(), loggerStage, boom)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if !loggerFinished {
		t.Fatal("expected logger's deferred finish hook to run despite downstream panic")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
