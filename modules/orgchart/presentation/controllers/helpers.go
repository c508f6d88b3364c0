package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgchart/modules/orgchart/services"
	"github.com/iota-uz/orgchart/pkg/httpapi"
	"github.com/iota-uz/orgchart/pkg/logging"
)

const (
	SessionCookie = "orgchart_session"
	SessionHeader = "X-Orgchart-Session"
)

func (c *GraphController) ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	header := strings.TrimSpace(c.requestIDHeader)
	if header == "" {
		header = "X-Request-Id"
	}
	requestID := strings.TrimSpace(r.Header.Get(header))
	if requestID == "" {
		requestID = uuid.NewString()
		w.Header().Set(header, requestID)
	}
	return requestID
}

func (c *GraphController) writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	meta := map[string]string{"request_id": c.ensureRequestID(w, r)}
	_ = httpapi.WriteError(w, status, code, message, meta)
}

func (c *GraphController) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		c.writeAPIError(w, r, svcErr.Status, svcErr.Code, svcErr.Message)
		return
	}
	logging.FromContext(r.Context()).WithFields(logrus.Fields{
		"path":  r.URL.Path,
		"error": err.Error(),
	}).Error("orgchart.api.unexpected_error")
	c.writeAPIError(w, r, http.StatusInternalServerError, services.CodeOf(err), "internal error")
}

func (c *GraphController) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := httpapi.DecodeJSON(r, dst, allowEmpty); err != nil {
		c.writeAPIError(w, r, http.StatusBadRequest, "ORGCHART_INVALID_BODY", err.Error())
		return false
	}
	return true
}

// sessionID identifies the viewer for interaction state. A new session cookie is issued
// when neither the header nor the cookie is present.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
