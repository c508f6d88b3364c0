package treesource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/hierarchy"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
)

var tracer = otel.Tracer("orgchart/treesource")

// DefaultMaxResponseBytes bounds how much of a response body the client reads.
const DefaultMaxResponseBytes int64 = 32 << 20

type apiError struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

type HTTPClientOptions struct {
	BaseURL         string
	Authorization   string
	Timeout         time.Duration
	RequestIDHeader string
	// MaxResponseBytes defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// HTTPClient talks to the hierarchy REST API.
type HTTPClient struct {
	baseURL         string
	authorization   string
	httpClient      *http.Client
	requestIDHeader string
	maxBody         int64
}

var _ services.TreeSource = (*HTTPClient)(nil)

func NewHTTPClient(opts HTTPClientOptions) (*HTTPClient, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid tree api url: %q", raw)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &HTTPClient{
		baseURL:         strings.TrimRight(u.String(), "/"),
		authorization:   strings.TrimSpace(opts.Authorization),
		httpClient:      client,
		requestIDHeader: opts.RequestIDHeader,
		maxBody:         maxBody,
	}, nil
}

func nodePath(id, suffix string) string {
	return "/nodes/" + url.PathEscape(id) + suffix
}

// doJSON sends reqBody as JSON and decodes a 2xx answer into out. Non-2xx answers become
// ErrServer errors carrying the envelope code; everything else is ErrTransport.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, reqBody any, out any) (err error) {
	ctx, span := tracer.Start(ctx, "treesource."+strings.ToLower(method), trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return services.NewTransportError(fmt.Errorf("json marshal request: %w", err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return services.NewTransportError(fmt.Errorf("http request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.requestIDHeader != "" {
		req.Header.Set(c.requestIDHeader, uuid.NewString())
	}
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.NewTransportError(fmt.Errorf("http do: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return services.NewTransportError(fmt.Errorf("http read: %w", err))
	}
	if int64(len(respBody)) > c.maxBody {
		return services.NewTransportError(fmt.Errorf("http read: response exceeds %d bytes", c.maxBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && strings.TrimSpace(apiErr.Code) != "" {
			return services.NewServerError(resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return services.NewServerError(resp.StatusCode, "", strings.TrimSpace(string(respBody)))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return services.NewTransportError(fmt.Errorf("json unmarshal response: %w", err))
	}
	return nil
}

func (c *HTTPClient) FetchTree(ctx context.Context) (hierarchy.Tree, error) {
	var tree hierarchy.Tree
	if err := c.doJSON(ctx, http.MethodGet, "/tree", nil, &tree); err != nil {
		return hierarchy.Tree{}, err
	}
	if tree.Records == nil {
		tree.Records = []hierarchy.Record{}
	}
	return tree, nil
}

func (c *HTTPClient) CreateNode(ctx context.Context, in services.CreateNodeInput) (hierarchy.Record, error) {
	var rec hierarchy.Record
	err := c.doJSON(ctx, http.MethodPost, "/nodes", in, &rec)
	return rec, err
}

func (c *HTTPClient) DeleteNode(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, nodePath(id, ""), nil, nil)
}

func (c *HTTPClient) patchRecord(ctx context.Context, id, suffix string, body any) (hierarchy.Record, error) {
	var rec hierarchy.Record
	err := c.doJSON(ctx, http.MethodPatch, nodePath(id, suffix), body, &rec)
	return rec, err
}

func (c *HTTPClient) RenameNode(ctx context.Context, id, title string) (hierarchy.Record, error) {
	return c.patchRecord(ctx, id, "/title", services.RenameInput{Title: title})
}

func (c *HTTPClient) AssignUser(ctx context.Context, id, userID string) (hierarchy.Record, error) {
	return c.patchRecord(ctx, id, "/user", services.AssignUserInput{UserID: userID})
}

func (c *HTTPClient) SetStatus(ctx context.Context, id string, status hierarchy.Status) error {
	return c.doJSON(ctx, http.MethodPatch, nodePath(id, "/status"), services.StatusInput{Status: string(status)}, nil)
}

func (c *HTTPClient) SetRoleTitle(ctx context.Context, id, roleTitle string) (hierarchy.Record, error) {
	return c.patchRecord(ctx, id, "/role-title", services.RoleTitleInput{RoleTitle: roleTitle})
}

func (c *HTTPClient) SetCEO(ctx context.Context, id string) (hierarchy.Record, error) {
	return c.patchRecord(ctx, id, "/ceo", struct{}{})
}

// IsNotFound reports a 404 from the tree api.
func IsNotFound(err error) bool {
	var svcErr *services.ServiceError
	return errors.As(err, &svcErr) && svcErr.Status == http.StatusNotFound
}
