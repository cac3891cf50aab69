package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter combines a minimum spacing between requests with a per-window cap.
// Both are token buckets; Reset refills the window bucket after an upstream backoff.
type Limiter struct {
	mu        sync.Mutex
	spacing   *rate.Limiter
	window    *rate.Limiter
	perWindow int
	length    time.Duration
}

// NewLimiter builds a limiter. Zero values disable the corresponding constraint.
func NewLimiter(minInterval time.Duration, perWindow int, window time.Duration) *Limiter {
	l := &Limiter{
		spacing:   newBucket(minInterval, 1),
		perWindow: perWindow,
		length:    window,
	}
	l.window = l.newWindow()
	return l
}

// Unlimited returns a limiter that never waits.
func Unlimited() *Limiter {
	return NewLimiter(0, 0, 0)
}

func newBucket(every time.Duration, burst int) *rate.Limiter {
	if every <= 0 || burst <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), burst)
}

func (l *Limiter) newWindow() *rate.Limiter {
	if l.perWindow <= 0 || l.length <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return newBucket(l.length/time.Duration(l.perWindow), l.perWindow)
}

// Wait blocks until both buckets allow one request.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	spacing, window := l.spacing, l.window
	l.mu.Unlock()

	if err := spacing.Wait(ctx); err != nil {
		return err
	}
	return window.Wait(ctx)
}

// Reset restores the full per-window allowance.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = l.newWindow()
}
