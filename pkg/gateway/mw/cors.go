package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/partyline/pkg/gateway/config"
)

var corsAllowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
	versionHeader,
}, ", ")

// Clients read the schema version and the rate limit backoff.
var corsExposedHeaders = strings.Join([]string{
	"X-Request-ID",
	"Retry-After",
	versionHeader,
}, ", ")

// corsMethods lists what a browser may ask for on each route family. The
// socket is same-origin only and never preflighted.
func corsMethods(path string) string {
	switch routeFamily(path) {
	case "/v1/calls":
		return "GET, POST, DELETE, OPTIONS"
	case "/v1/audio":
		return "GET, HEAD, OPTIONS"
	}
	return ""
}

func methodListed(list, method string) bool {
	for _, m := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(m), method) {
			return true
		}
	}
	return false
}

func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		if requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")); r.Method == http.MethodOptions && requested != "" {
			if origin == "" || len(allowed) == 0 {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			if _, ok := allowed[origin]; !ok {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			methods := corsMethods(r.URL.Path)
			if !methodListed(methods, requested) {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if origin != "" && len(allowed) > 0 {
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
			}
		}

		next.ServeHTTP(w, r)
	})
}
