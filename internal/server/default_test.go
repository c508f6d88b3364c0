package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgchart/pkg/application"
	"github.com/iota-uz/orgchart/pkg/configuration"
)

type pingController struct{}

func (pingController) Key() string { return "/orgchart/api/ping" }

func (pingController) Register(r *mux.Router) {
	r.HandleFunc("/orgchart/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet, http.MethodPost)
}

func newDefault(t *testing.T, mutate func(c *configuration.Configuration)) http.Handler {
	t.Helper()
	conf, err := configuration.Parse()
	require.NoError(t, err)
	mutate(conf)

	log := logrus.New()
	log.SetOutput(io.Discard)
	app := application.New(&application.ApplicationOptions{Logger: log})
	app.RegisterControllers(pingController{})

	srv, err := Default(&DefaultOptions{Logger: log, Configuration: conf, Application: app})
	require.NoError(t, err)
	return srv.Handler()
}

func TestDefault_RequestIDAndNotFound(t *testing.T) {
	h := newDefault(t, func(c *configuration.Configuration) {})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orgchart/api/ping", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orgchart/api/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestDefault_CorsPreflightOnUnroutedMethod(t *testing.T) {
	h := newDefault(t, func(c *configuration.Configuration) {
		c.CorsOrigins = []string{"http://canvas.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/orgchart/api/ping", nil)
	req.Header.Set("Origin", "http://canvas.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://canvas.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDefault_RateLimitsEdits(t *testing.T) {
	h := newDefault(t, func(c *configuration.Configuration) {
		c.RateLimit.Enabled = true
		c.RateLimit.GlobalRPS = 1
	})

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/orgchart/api/ping", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusNoContent, post())
	require.Equal(t, http.StatusTooManyRequests, post())
}
