package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/iota-uz/orgchart/pkg/application"
	"github.com/iota-uz/orgchart/pkg/configuration"
	"github.com/iota-uz/orgchart/pkg/middleware"
	"github.com/iota-uz/orgchart/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	APIPrefix     string
}

func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application
	conf := options.Configuration
	prefix := options.APIPrefix
	if prefix == "" {
		prefix = "/orgchart/api"
	}

	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, middleware.LoggerOptions{
			RequestIDHeader: conf.RequestIDHeader,
			APIPrefixes:     []string{prefix},
		}),
	}

	if len(conf.CorsOrigins) > 0 {
		middlewares = append(middlewares,
			middleware.TracedMiddleware("cors"),
			middleware.Cors(conf.RequestIDHeader, conf.CorsOrigins...),
		)
	}

	if conf.RateLimit.Enabled {
		var store limiter.Store
		var err error

		switch conf.RateLimit.Storage {
		case "redis":
			store, err = middleware.NewRedisStore(conf.RedisURL)
			if err != nil {
				options.Logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
				store = middleware.NewMemoryStore()
			}
		default:
			store = middleware.NewMemoryStore()
		}

		middlewares = append(middlewares,
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: int64(conf.RateLimit.GlobalRPS),
				Store:             store,
				Methods:           []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			}),
		)
	}

	app.RegisterMiddleware(middlewares...)
	return server.NewHTTPServer(app, nil, nil), nil
}
