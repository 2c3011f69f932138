package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/pkg/logger"
)

func newTestLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Config{Level: "debug", Format: "json", Output: buf})
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID, _ := r.Context().Value(logger.RequestIDKey).(string); reqID == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates new request ID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		if reqID := rec.Header().Get(RequestIDHeader); len(reqID) != 32 {
			t.Errorf("expected 32 char request ID, got %q", reqID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set(RequestIDHeader, "existing-id-123")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if reqID := rec.Header().Get(RequestIDHeader); reqID != "existing-id-123" {
			t.Errorf("expected preserved request ID, got %s", reqID)
		}
	})
}

func TestLoggingLevels(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		expectedLevel string
	}{
		{"2xx logs info", 200, "INFO"},
		{"4xx logs warn", 404, "WARN"},
		{"5xx logs error", 500, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			handler := Logging(newTestLogger(&logBuf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/generate", nil))

			out := logBuf.String()
			if !strings.Contains(out, "request completed") || !strings.Contains(out, tt.expectedLevel) {
				t.Errorf("expected %s 'request completed' log, got: %s", tt.expectedLevel, out)
			}
			if !strings.Contains(out, "duration_ms") {
				t.Errorf("expected duration_ms in log, got: %s", out)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var logBuf bytes.Buffer
	handler := Recovery(newTestLogger(&logBuf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("expected INTERNAL_ERROR in body, got: %s", rec.Body.String())
	}
	if !strings.Contains(logBuf.String(), "test panic") {
		t.Errorf("expected panic message in log, got: %s", logBuf.String())
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("hello world"))

	if rw.status != http.StatusCreated {
		t.Errorf("expected first status to win, got %d", rw.status)
	}
	if rw.size != 11 {
		t.Errorf("expected size 11, got %d", rw.size)
	}
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		lim    *stubLimiter
		status int
	}{
		{"allowed", &stubLimiter{allow: true}, http.StatusOK},
		{"refused", &stubLimiter{allow: false}, http.StatusTooManyRequests},
		{"limiter error fails open", &stubLimiter{err: fmt.Errorf("redis down")}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			handler := RateLimit(tt.lim, newTestLogger(&logBuf))(ok)

			req := httptest.NewRequest("POST", "/api/generate", nil)
			req.RemoteAddr = "10.1.2.3:5555"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			if len(tt.lim.keys) != 1 || tt.lim.keys[0] != "10.1.2.3" {
				t.Errorf("expected limiter keyed by client host, got %v", tt.lim.keys)
			}
		})
	}
}

func TestHandleError(t *testing.T) {
	var logBuf bytes.Buffer
	rec := httptest.NewRecorder()

	HandleError(rec, httptest.NewRequest("GET", "/api/videos/x", nil), newTestLogger(&logBuf), errors.NotFound("video", "x"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if !strings.Contains(logBuf.String(), "request error") {
		t.Errorf("expected warn log, got: %s", logBuf.String())
	}
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, errors.CodeValidation, `prompt "x" is invalid`, map[string]any{"field": "prompt"})

	if rec.Code != 400 {
		t.Errorf("expected status 400, got %d", rec.Code)
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error.Message != `prompt "x" is invalid` {
		t.Errorf("message not escaped correctly: %q", body.Error.Message)
	}
	if body.Error.Details["field"] != "prompt" {
		t.Errorf("expected details, got %v", body.Error.Details)
	}
}

func TestGenerateRequestID(t *testing.T) {
	if generateRequestID() == generateRequestID() {
		t.Error("expected unique request IDs")
	}
}
