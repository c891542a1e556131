package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// workerLimiter throttles completion submissions per worker.
type workerLimiter struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*rate.Limiter
}

func newWorkerLimiter(perMinute int) *workerLimiter {
	return &workerLimiter{perMinute: perMinute, limiters: map[string]*rate.Limiter{}}
}

// Allow reports whether workerID may submit now. A zero rate disables limiting.
func (l *workerLimiter) Allow(workerID string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[workerID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.perMinute)
		l.limiters[workerID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
