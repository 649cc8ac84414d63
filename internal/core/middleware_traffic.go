package core

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"alertrelay/internal/types"
)

// anonymousProducer keys the shared bucket of unauthenticated requests.
const anonymousProducer = "anonymous"

// ProducerLimiter keeps one token bucket per producer.
type ProducerLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewProducerLimiter returns nil when perSecond is zero, which disables
// limiting.
func NewProducerLimiter(perSecond float64, burst int) *ProducerLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ProducerLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *ProducerLimiter) bucket(producer string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[producer]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[producer] = b
	}
	return b
}

// RateLimit rejects requests over the producer's budget with 429 and a
// Retry-After hint. It must run after AuthMiddleware.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		producer := types.GetProducer(r.Context())
		if producer == "" {
			producer = anonymousProducer
		}

		b := s.Limiter.bucket(producer)
		res := b.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.Limiter.burst))
			w.Header().Set("X-RateLimit-Remaining", "0")
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "rate limit exceeded", nil))
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.Limiter.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, math.Floor(b.Tokens())))))

		next.ServeHTTP(w, r)
	})
}
