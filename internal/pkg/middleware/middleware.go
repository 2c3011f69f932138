// Package middleware provides HTTP middleware for the scenegen API.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/pkg/logger"
)

// RequestIDHeader is the header name for request IDs.
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	size        int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// RequestID adds a unique request ID to each request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = generateRequestID()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := logger.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs HTTP requests with structured logging.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)
			reqLog := log.FromContext(r.Context())

			reqLog.Debug("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)

			next.ServeHTTP(wrapped, r)

			logFn := reqLog.Info
			if wrapped.status >= 500 {
				logFn = reqLog.Error
			} else if wrapped.status >= 400 {
				logFn = reqLog.Warn
			}

			logFn("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"size", wrapped.size,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Recovery recovers from panics and logs them.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.FromContext(r.Context()).Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
					)

					WriteErrorResponse(w, errors.CodeInternal, "internal server error", nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit rejects requests once the limiter refuses the client address.
// Limiter errors are logged and the request is let through.
func RateLimit(l Limiter, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				log.FromContext(r.Context()).Warn("rate limiter unavailable, allowing request",
					"client", key,
					"error", err.Error(),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				HandleError(w, r, log, errors.New(errors.CodeResourceExhaust, "rate limit exceeded").
					WithField("client", key))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandleError logs an error and writes the matching JSON response.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	LogRequestError(r, log, err)
	WriteErrorResponse(w, errors.GetCode(err), err.Error(), errors.GetFields(err))
}

// LogRequestError logs err with its code, fields and, for server errors, the
// stack captured when it was created.
func LogRequestError(r *http.Request, log *logger.Logger, err error) {
	reqLog := log.FromContext(r.Context())

	code := errors.GetCode(err)
	status := errors.GetHTTPStatus(err)

	logFields := []any{
		"error", err.Error(),
		"code", string(code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	for k, v := range errors.GetFields(err) {
		logFields = append(logFields, k, v)
	}

	if status >= 500 {
		var appErr *errors.Error
		if errors.As(err, &appErr) && len(appErr.Stack) > 0 {
			logFields = append(logFields, "stack", appErr.StackTrace())
		}
		reqLog.Error("request failed", logFields...)
		return
	}
	reqLog.Warn("request error", logFields...)
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// WriteErrorResponse writes a JSON error envelope with the status derived from code.
func WriteErrorResponse(w http.ResponseWriter, code errors.Code, message string, details map[string]any) {
	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = message
	body.Error.Details = details

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader((&errors.Error{Code: code}).HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
