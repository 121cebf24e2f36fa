package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"task-client/domain"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxErrorBody       = 4 * 1024
	maxResponseBody    = 8 * 1024 * 1024
	headerRequestID    = "X-Request-ID"
)

// HTTPConfig configures the REST adapter.
type HTTPConfig struct {
	// BaseURL points at the task collection, e.g. http://host/api/v1.
	BaseURL string
	Timeout time.Duration
	Tokens  TokenSource
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// HTTPClient implements Port against the task service's REST API.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
	tokens TokenSource
	tracer trace.Tracer
}

var _ Port = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and builds the adapter.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", base.Scheme)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		base:   base,
		client: client,
		tokens: cfg.Tokens,
		tracer: otel.Tracer("task-client/remote"),
	}, nil
}

func (c *HTTPClient) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.do(ctx, "ListTasks", http.MethodGet, "/tasks", nil, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

func (c *HTTPClient) GetTask(ctx context.Context, id domain.ID) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, "GetTask", http.MethodGet, taskPath(id), nil, nil, &task)
	return task, err
}

func (c *HTTPClient) CreateTask(ctx context.Context, draft domain.Draft) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, "CreateTask", http.MethodPost, "/tasks", nil, draft, &task)
	return task, err
}

func (c *HTTPClient) UpdateTask(ctx context.Context, id domain.ID, draft domain.Draft) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, "UpdateTask", http.MethodPut, taskPath(id), nil, draft, &task)
	return task, err
}

func (c *HTTPClient) DeleteTask(ctx context.Context, id domain.ID) error {
	return c.do(ctx, "DeleteTask", http.MethodDelete, taskPath(id), nil, nil, nil)
}

func (c *HTTPClient) SetStatus(ctx context.Context, id domain.ID, status domain.Status) (domain.Task, error) {
	var task domain.Task
	q := url.Values{"status": []string{string(status)}}
	err := c.do(ctx, "SetStatus", http.MethodPut, taskPath(id)+"/status", q, nil, &task)
	return task, err
}

func (c *HTTPClient) SetPriority(ctx context.Context, id domain.ID, priority domain.Priority) (domain.Task, error) {
	var task domain.Task
	q := url.Values{"priority": []string{string(priority)}}
	err := c.do(ctx, "SetPriority", http.MethodPut, taskPath(id)+"/priority", q, nil, &task)
	return task, err
}

func taskPath(id domain.ID) string {
	return "/tasks/" + url.PathEscape(id.String())
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "remote."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("task.error_kind", KindOf(err).String()))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, mErr := sonic.Marshal(body)
		if mErr != nil {
			return &Error{Kind: KindValidation, Op: op, Message: "encode request", Err: mErr}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set(headerRequestID, requestID)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", u.String()),
		attribute.String("task.request_id", requestID),
	)
	if c.tokens != nil {
		token, tErr := c.tokens.Token(ctx)
		if tErr != nil {
			return &Error{Kind: KindNetwork, Op: op, Message: "acquire token", Err: tErr}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Kind:       kindForStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindServer, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return KindValidation
	}
	return KindServer
}

// errorMessage extracts a readable message from the service's error body.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return fallback
}
