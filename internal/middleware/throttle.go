package middleware

import (
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/medialobby/gateway/internal/observability"
)

// Limiter idle eviction parameters.
const (
	throttleEvictAfter    = 10 * time.Minute
	throttleEvictInterval = time.Minute
)

// clientLimiter pairs a token bucket with its last use, for eviction.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle applies a per-client token-bucket limit across the whole HTTP
// surface. It is independent from the failed-attempt lockout on the invite
// endpoint: this one bounds request volume, that one bounds guesses.
type Throttle struct {
	rate    rate.Limit
	burst   int
	logger  observability.Logger
	clients map[string]*clientLimiter
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
}

// NewThrottle creates a throttle allowing r requests per second with the
// given burst per client.
func NewThrottle(r float64, burst int, logger observability.Logger) *Throttle {
	if logger == nil {
		logger = observability.NopLogger()
	}

	t := &Throttle{
		rate:    rate.Limit(r),
		burst:   burst,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
		stopCh:  make(chan struct{}),
	}

	go t.evictLoop()

	return t
}

// Middleware returns the http middleware enforcing the throttle.
func (t *Throttle) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := observability.ClientIDFromContext(r.Context())

			if !t.allow(clientID) {
				t.logger.Warn("request throttled",
					observability.String("client_id", clientID),
					observability.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":"too many requests"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Stop terminates the eviction goroutine.
func (t *Throttle) Stop() {
	t.once.Do(func() { close(t.stopCh) })
}

func (t *Throttle) allow(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl, ok := t.clients[clientID]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.clients[clientID] = cl
	}
	cl.lastSeen = time.Now()

	return cl.limiter.Allow()
}

func (t *Throttle) evictLoop() {
	ticker := time.NewTicker(throttleEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			for id, cl := range t.clients {
				if now.Sub(cl.lastSeen) > throttleEvictAfter {
					delete(t.clients, id)
				}
			}
			t.mu.Unlock()
		}
	}
}
