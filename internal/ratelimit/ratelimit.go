package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket refilled at a fixed rate per second
type Limiter struct {
	limiter *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

type clientEntry struct {
	limiter  *Limiter
	lastSeen time.Time
}

// ClientLimiters keeps one Limiter per client key (usually the remote IP)
// and forgets keys that have been quiet for longer than the idle TTL.
type ClientLimiters struct {
	limiters        map[string]*clientEntry
	rate            float64
	burst           int
	mu              sync.Mutex
	cleanupInterval time.Duration
	idleTTL         time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(perSecond float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*clientEntry),
		rate:            perSecond,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		idleTTL:         10 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(clientID string) *Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if entry, ok := cl.limiters[clientID]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	entry := &clientEntry{limiter: NewLimiter(cl.rate, cl.burst), lastSeen: time.Now()}
	cl.limiters[clientID] = entry
	return entry.limiter
}

func (cl *ClientLimiters) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

// Middleware rejects requests from clients over their budget. reject
// writes the refusal; nil means a plain 429.
func (cl *ClientLimiters) Middleware(next http.Handler, reject http.HandlerFunc) http.Handler {
	if reject == nil {
		reject = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.Get(ClientIP(r)).Allow() {
			reject(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP is the host part of RemoteAddr, or RemoteAddr itself when it
// has no port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case now := <-ticker.C:
			cl.evictIdle(now)
		}
	}
}

func (cl *ClientLimiters) evictIdle(now time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for id, entry := range cl.limiters {
		if now.Sub(entry.lastSeen) > cl.idleTTL {
			delete(cl.limiters, id)
		}
	}
}
