package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Cors lets the canvas client call the API from the listed origins. The session
// cookie travels with credentialed requests.
func Cors(requestIDHeader string, allowedOrigins ...string) mux.MiddlewareFunc {
	if requestIDHeader == "" {
		requestIDHeader = DefaultLoggerOptions().RequestIDHeader
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Orgchart-Session", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "X-Trace-Id"},
		AllowCredentials: true,
	})
	return c.Handler
}
