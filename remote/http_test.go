package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"task-client/domain"
)

const sampleTask = `{"id":7,"title":"Ship it","description":"","status":"TODO","priority":"HIGH","dueDate":"2025-06-01","createdAt":"2025-05-01T09:00:00","updatedAt":"2025-05-02T09:00:00","statusLabel":"To Do","priorityLabel":"High"}`

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/api/v1/", Tokens: StaticToken("tok")})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestHTTPClientListTasks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/tasks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if r.Header.Get(headerRequestID) == "" {
			t.Errorf("expected request id header")
		}
		_, _ = io.WriteString(w, "["+sampleTask+"]")
	})

	tasks, err := c.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "7" || tasks[0].Priority != domain.PriorityHigh {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}

func TestHTTPClientEmptyListIsNotNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "null")
	})
	tasks, err := c.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty slice, got %#v", tasks)
	}
}

func TestHTTPClientCreateSendsDraft(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/tasks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"title":"Ship it"`) || strings.Contains(string(body), `"id"`) {
			t.Errorf("unexpected body %s", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, sampleTask)
	})

	task, err := c.CreateTask(context.Background(), domain.Draft{Title: "Ship it", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "7" {
		t.Fatalf("unexpected id %q", task.ID)
	}
}

func TestHTTPClientTransitionsUseQueryParameters(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method %s", r.Method)
		}
		paths = append(paths, r.URL.Path+"?"+r.URL.RawQuery)
		_, _ = io.WriteString(w, sampleTask)
	})
	ctx := context.Background()
	if _, err := c.SetStatus(ctx, "7", domain.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := c.SetPriority(ctx, "7", domain.PriorityLow); err != nil {
		t.Fatalf("set priority: %v", err)
	}
	want := []string{"/api/v1/tasks/7/status?status=COMPLETED", "/api/v1/tasks/7/priority?priority=LOW"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestHTTPClientDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/tasks/9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.DeleteTask(context.Background(), "9"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestHTTPClientErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		wantMsg string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"message":"Task not found with id: 7"}`, want: ErrNotFound, wantMsg: "Task not found with id: 7"},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"Title is required"}`, want: ErrValidation, wantMsg: "Title is required"},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: "nope", want: ErrValidation, wantMsg: "nope"},
		{name: "server", status: http.StatusInternalServerError, want: ErrServer},
		{name: "unavailable", status: http.StatusServiceUnavailable, want: ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.GetTask(context.Background(), "7")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if perr.StatusCode != tt.status {
				t.Fatalf("unexpected status code %d", perr.StatusCode)
			}
			if tt.wantMsg != "" && perr.Message != tt.wantMsg {
				t.Fatalf("unexpected message %q", perr.Message)
			}
		})
	}
}

func TestHTTPClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: url, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.ListTasks(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if KindOf(err) != KindNetwork {
		t.Fatalf("unexpected kind %v", KindOf(err))
	}
}

func TestHTTPClientCanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[]")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListTasks(ctx)
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled network error, got %v", err)
	}
}

func TestHTTPClientUndecodableBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":1,"title":"x","status":"DONE","priority":"LOW"}`)
	})
	_, err := c.GetTask(context.Background(), "1")
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected server error for undecodable body, got %v", err)
	}
}

func TestNewHTTPClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "://bad"} {
		if _, err := NewHTTPClient(HTTPConfig{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
