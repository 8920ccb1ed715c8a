// Package ratelimit bounds how often each caller may use the inference
// provider, per minute and per hour.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded matches every *ExceededError via errors.Is.
var ErrRateLimitExceeded = eris.New("rate limit exceeded")

// ExceededError reports which limit rejected a call.
type ExceededError struct {
	Caller     string
	Window     string // "minute", "hour" or "request-size"
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %q (%s), retry after %s", e.Caller, e.Window, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("rate limit exceeded for %q (%s)", e.Caller, e.Window)
}

// Is lets errors.Is(err, ErrRateLimitExceeded) match.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Config sets the per-caller limits. A non-positive value disables that window.
type Config struct {
	PerMinute int
	PerHour   int
}

type windows struct {
	minute *rate.Limiter
	hour   *rate.Limiter
}

// Limiter tracks request budgets per caller identity.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	callers map[string]*windows

	now func() time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		callers: make(map[string]*windows),
		now:     time.Now,
	}
}

// Allow consumes one request from the caller's budget. Both windows are
// charged or neither is.
func (l *Limiter) Allow(caller string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowsFor(caller)
	now := l.now()

	var taken []*rate.Reservation
	rollback := func() {
		for _, r := range taken {
			r.CancelAt(now)
		}
	}

	for _, lim := range []struct {
		name string
		l    *rate.Limiter
	}{{"minute", w.minute}, {"hour", w.hour}} {
		if lim.l == nil {
			continue
		}
		r := lim.l.ReserveN(now, 1)
		if !r.OK() {
			rollback()
			return &ExceededError{Caller: caller, Window: lim.name}
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			rollback()
			return &ExceededError{Caller: caller, Window: lim.name, RetryAfter: delay}
		}
		taken = append(taken, r)
	}
	return nil
}

// Reset clears the caller's windows, restoring the full budget.
func (l *Limiter) Reset(caller string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.callers, caller)
}

func (l *Limiter) windowsFor(caller string) *windows {
	if w, ok := l.callers[caller]; ok {
		return w
	}
	w := &windows{}
	if l.cfg.PerMinute > 0 {
		w.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.cfg.PerMinute)), l.cfg.PerMinute)
	}
	if l.cfg.PerHour > 0 {
		w.hour = rate.NewLimiter(rate.Every(time.Hour/time.Duration(l.cfg.PerHour)), l.cfg.PerHour)
	}
	l.callers[caller] = w
	return w
}
