package restapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// corsMiddleware allows the configured origins, matching either exactly
// or by wildcard (https://*.example.com allows https://sub.example.com).
// An empty allowlist (the common single-origin dev setup) means "allow all".
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowAll := len(allowed) == 0
	exact := make(map[string]bool, len(allowed))
	var wildcards [][2]string // text before and after the "*"
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		} else if i := strings.Index(o, "*"); i >= 0 {
			wildcards = append(wildcards, [2]string{o[:i], o[i+1:]})
		} else {
			exact[o] = true
		}
	}

	originAllowed := func(origin string) bool {
		if exact[origin] {
			return true
		}
		for _, wc := range wildcards {
			if len(origin) > len(wc[0])+len(wc[1]) && strings.HasPrefix(origin, wc[0]) && strings.HasSuffix(origin, wc[1]) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs each request's method, path, and duration.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
		})
	}
}
