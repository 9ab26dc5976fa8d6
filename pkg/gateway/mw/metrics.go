package mw

import (
	"net/http"
	"time"

	"github.com/vango-go/partyline/pkg/observability"
)

// Metrics records per-route request counts and latency. It must wrap the
// ServeMux directly: the mux sets r.Pattern on the request it is handed.
func Metrics(m *observability.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww, sw := wrapStatusWriter(w)
		next.ServeHTTP(ww, r)
		m.ObserveRequest(r.Pattern, r.Method, sw.status, time.Since(start))
	})
}
