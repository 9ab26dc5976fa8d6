package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/partyline/pkg/core"
	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/gateway/principal"
	"github.com/vango-go/partyline/pkg/gateway/ratelimit"
	"github.com/vango-go/partyline/pkg/observability"
)

func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, metrics *observability.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := principal.Resolve(r, cfg.TrustProxyHeaders).Key
		dec := limiter.AllowRequest(key, time.Now())
		if !dec.Allowed {
			metrics.RateLimited("requests")
			reqID, _ := RequestIDFrom(r.Context())
			e := core.NewRateLimitError("rate limit exceeded", dec.RetryAfter)
			e.RequestID = reqID
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, e)
			return
		}
		next.ServeHTTP(w, r)
	})
}
