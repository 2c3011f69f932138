package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// CORS answers preflight requests and sets CORS headers for allowed origins.
// With no allowed origins it only short-circuits OPTIONS.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	if len(opt.AllowedMethods) == 0 {
		opt.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(opt.AllowedHeaders) == 0 {
		opt.AllowedHeaders = []string{"Content-Type", "Accept", "X-Request-ID"}
	}
	if opt.MaxAgeSeconds == 0 {
		opt.MaxAgeSeconds = 600
	}

	allowedMethods := strings.Join(opt.AllowedMethods, ", ")
	allowedHeaders := strings.Join(opt.AllowedHeaders, ", ")
	exposedHeaders := strings.Join(opt.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(opt.MaxAgeSeconds)

	allowed := make(map[string]bool, len(opt.AllowedOrigins))
	for _, o := range opt.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (allowed["*"] || allowed[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Max-Age", maxAge)
				if exposedHeaders != "" {
					h.Set("Access-Control-Expose-Headers", exposedHeaders)
				}
				if opt.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
