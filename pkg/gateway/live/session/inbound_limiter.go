package session

import (
	"time"

	"golang.org/x/time/rate"
)

// inboundLimiter bounds client frames per call. The clock is passed to the
// bucket on every frame.
type inboundLimiter struct {
	now    func() time.Time
	bucket *rate.Limiter
}

func newInboundLimiter(now func() time.Time, fps int, burstSeconds int) *inboundLimiter {
	if fps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	return &inboundLimiter{
		now:    now,
		bucket: rate.NewLimiter(rate.Limit(fps), fps*burstSeconds),
	}
}

// Allow consumes one token. A nil limiter allows everything.
func (l *inboundLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.bucket.AllowN(l.now(), 1)
}
