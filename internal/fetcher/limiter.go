package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterSettings configures token-bucket rate limiting per host.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

// DomainLimiter spaces requests to the same host by a fixed delay and an
// optional token bucket.
type DomainLimiter struct {
	delay time.Duration
	rate  RateLimiterSettings

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	next    time.Time
	limiter *rate.Limiter
}

// NewDomainLimiter creates a limiter. A zero delay and zero rate make Wait a no-op.
func NewDomainLimiter(delay time.Duration, rateCfg RateLimiterSettings) *DomainLimiter {
	d := &DomainLimiter{delay: delay, hosts: make(map[string]*hostState)}
	if rateCfg.Requests > 0 && rateCfg.Window > 0 {
		d.rate = rateCfg
	}
	return d
}

func (d *DomainLimiter) enabled() bool {
	return d != nil && (d.delay > 0 || d.rate.Requests > 0)
}

// Wait blocks until the host may be contacted again.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if !d.enabled() || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	now := time.Now()
	d.mu.Lock()
	state := d.stateLocked(host)
	// Slots are reserved under the lock.
	var sleep time.Duration
	if d.delay > 0 {
		if state.next.After(now) {
			sleep = state.next.Sub(now)
			state.next = state.next.Add(d.delay)
		} else {
			state.next = now.Add(d.delay)
		}
	}
	limiter := state.limiter
	d.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (d *DomainLimiter) stateLocked(host string) *hostState {
	state, ok := d.hosts[host]
	if ok {
		return state
	}
	state = &hostState{}
	if d.rate.Requests > 0 {
		interval := d.rate.Window / time.Duration(d.rate.Requests)
		if interval <= 0 {
			interval = time.Millisecond
		}
		state.limiter = rate.NewLimiter(rate.Every(interval), d.rate.Requests)
	}
	d.hosts[host] = state
	return state
}
