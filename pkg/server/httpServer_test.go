package server

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgchart/pkg/application"
	"github.com/iota-uz/orgchart/pkg/httpapi"
)

type textController struct {
	body string
}

func (c *textController) Key() string { return "/text" }

func (c *textController) Register(r *mux.Router) {
	r.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, c.body)
	}).Methods(http.MethodGet)
}

func newServer(body string) *HTTPServer {
	log := logrus.New()
	log.SetOutput(io.Discard)
	app := application.New(&application.ApplicationOptions{Logger: log})
	app.RegisterControllers(&textController{body: body})
	app.RegisterMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Wrapped", "yes")
			next.ServeHTTP(w, r)
		})
	})
	return NewHTTPServer(app, nil, nil)
}

func TestHTTPServer_DefaultErrorHandlersUseEnvelope(t *testing.T) {
	h := newServer("ok").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "yes", rec.Header().Get("X-Wrapped"))
	var env httpapi.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "NOT_FOUND", env.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/text", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "yes", rec.Header().Get("X-Wrapped"))
}

func TestHTTPServer_CompressesLargeResponses(t *testing.T) {
	body := strings.Repeat("org chart ", 500)
	h := newServer(body).Handler()

	req := httptest.NewRequest(http.MethodGet, "/text", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, body, string(plain))
}

func TestHTTPServer_ShutdownStopsStart(t *testing.T) {
	srv := newServer("ok")
	done := make(chan error, 1)
	go func() { done <- srv.Start("127.0.0.1:0") }()

	require.NoError(t, srv.Shutdown(t.Context()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
