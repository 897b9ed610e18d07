package ingest

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"
)

// ErrProbeLimitExceeded is returned when a probe request can't get a
// slot before ctx is done.
var ErrProbeLimitExceeded = errors.New("ingest: probe concurrency limit exceeded")

// ProbeLimiterConfig bounds how many simultaneous protocol-probe
// requests (the API's "test this URL before saving" surface) may run
// per camera host and in total, so a burst of probe calls against a
// misbehaving host can't exhaust file descriptors.
type ProbeLimiterConfig struct {
	MaxPerHost int
	MaxGlobal  int
	AcquireWait time.Duration
}

// DefaultProbeLimiterConfig returns sensible defaults: a handful of
// concurrent probes per host, generous overall.
func DefaultProbeLimiterConfig() ProbeLimiterConfig {
	return ProbeLimiterConfig{MaxPerHost: 2, MaxGlobal: 16, AcquireWait: 10 * time.Second}
}

// ProbeLimiter hands out probe slots per host and in total. A caller
// acquires a slot, runs its probe, and calls the returned release func;
// the Probe methods of HTTPSource and rtsp.Source do not acquire a slot
// themselves.
type ProbeLimiter struct {
	config ProbeLimiterConfig

	mu      sync.Mutex
	perHost map[string]int
	global  int
	waiters map[string][]chan struct{}
}

// NewProbeLimiter creates a ProbeLimiter.
func NewProbeLimiter(config ProbeLimiterConfig) *ProbeLimiter {
	return &ProbeLimiter{
		config:  config,
		perHost: make(map[string]int),
		waiters: make(map[string][]chan struct{}),
	}
}

// Acquire blocks until a slot is available for rawURL's host, ctx is
// done, or the configured AcquireWait elapses. Returns a release func.
func (l *ProbeLimiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.canAcquireLocked(host) {
		l.perHost[host]++
		l.global++
		l.mu.Unlock()
		return l.release(host), nil
	}

	waiter := make(chan struct{}, 1)
	l.waiters[host] = append(l.waiters[host], waiter)
	l.mu.Unlock()

	waitCtx := ctx
	if l.config.AcquireWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.config.AcquireWait)
		defer cancel()
	}

	select {
	case <-waiter:
		l.mu.Lock()
		l.perHost[host]++
		l.global++
		l.mu.Unlock()
		return l.release(host), nil
	case <-waitCtx.Done():
		l.mu.Lock()
		l.removeWaiterLocked(host, waiter)
		l.mu.Unlock()
		return nil, ErrProbeLimitExceeded
	}
}

func (l *ProbeLimiter) canAcquireLocked(host string) bool {
	if l.config.MaxGlobal > 0 && l.global >= l.config.MaxGlobal {
		return false
	}
	if l.config.MaxPerHost > 0 && l.perHost[host] >= l.config.MaxPerHost {
		return false
	}
	return true
}

func (l *ProbeLimiter) release(host string) func() {
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if l.perHost[host] > 0 {
			l.perHost[host]--
			if l.perHost[host] == 0 {
				delete(l.perHost, host)
			}
		}
		if l.global > 0 {
			l.global--
		}

		if waiters := l.waiters[host]; len(waiters) > 0 {
			w := waiters[0]
			l.waiters[host] = waiters[1:]
			select {
			case w <- struct{}{}:
			default:
			}
		}
	}
}

func (l *ProbeLimiter) removeWaiterLocked(host string, waiter chan struct{}) {
	waiters := l.waiters[host]
	for i, w := range waiters {
		if w == waiter {
			l.waiters[host] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
