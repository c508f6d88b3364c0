package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds of ServiceError. Compare with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
	ErrTransport        = errors.New("transport failure")
	ErrServer           = errors.New("server rejected request")
	ErrReloadRequired   = errors.New("reload required")
	ErrNotLoaded        = errors.New("graph not loaded")
)

type ServiceError struct {
	Kind    error
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func (e *ServiceError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

func newServiceError(kind error, status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Kind: kind, Status: status, Code: code, Message: message, Cause: cause}
}

func permissionDenied() *ServiceError {
	return newServiceError(ErrPermissionDenied, http.StatusForbidden, "ORGCHART_FORBIDDEN", "editing is not allowed", nil)
}

func validationError(code, message string) *ServiceError {
	return newServiceError(ErrValidation, http.StatusUnprocessableEntity, code, message, nil)
}

func notLoaded() *ServiceError {
	return newServiceError(ErrNotLoaded, http.StatusServiceUnavailable, "ORGCHART_NOT_LOADED", "graph is not loaded", nil)
}

func reloadRequired(cause error) *ServiceError {
	return newServiceError(ErrReloadRequired, http.StatusConflict, "ORGCHART_RELOAD_REQUIRED", "hierarchy is inconsistent, reload required", cause)
}

// NewTransportError wraps a network failure talking to the tree source.
func NewTransportError(cause error) *ServiceError {
	return newServiceError(ErrTransport, http.StatusBadGateway, "ORGCHART_TRANSPORT", "tree source unreachable", cause)
}

// NewServerError describes a structured rejection returned by the tree source.
func NewServerError(status int, code, message string) *ServiceError {
	if code == "" {
		code = "ORGCHART_UPSTREAM"
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return newServiceError(ErrServer, status, code, message, nil)
}

// IsRecoverable reports whether the caller can keep working with the current graph.
func IsRecoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrReloadRequired)
}

// StatusOf maps an error to the HTTP status the API should answer with.
func StatusOf(err error) int {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Status != 0 {
		return svcErr.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the error code for the API envelope.
func CodeOf(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Code != "" {
		return svcErr.Code
	}
	return "ORGCHART_INTERNAL"
}
