package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/iota-uz/orgchart/pkg/httpapi"
)

const rateLimitPrefix = "orgchart:limiter"

type RateLimitConfig struct {
	RequestsPerPeriod int64
	Period            time.Duration
	Store             limiter.Store
	// Only requests with these methods count; empty means all methods.
	Methods []string
}

func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: rateLimitPrefix})
}

func NewRedisStore(redisURL string) (limiter.Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return sredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{Prefix: rateLimitPrefix})
}

// RateLimit throttles requests per client IP and answers 429 with the API error envelope.
func RateLimit(conf RateLimitConfig) mux.MiddlewareFunc {
	period := conf.Period
	if period <= 0 {
		period = time.Second
	}
	store := conf.Store
	if store == nil {
		store = NewMemoryStore()
	}
	instance := limiter.New(store, limiter.Rate{Period: period, Limit: conf.RequestsPerPeriod})
	limited := stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			_ = httpapi.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		}),
	)

	methods := make(map[string]bool, len(conf.Methods))
	for _, m := range conf.Methods {
		methods[m] = true
	}
	return func(next http.Handler) http.Handler {
		throttled := limited.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(methods) > 0 && !methods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}
			throttled.ServeHTTP(w, r)
		})
	}
}
