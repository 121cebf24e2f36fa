package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-client/domain"
	"task-client/remote"
)

const maxBodySize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps) {
	if deps.Reader == nil || deps.Writer == nil || deps.Auth == nil {
		panic("api.Register: reader, writer and auth are required")
	}
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handlers{Deps: deps}

	e.GET("/healthz", h.healthz)

	g := e.Group("/api/tasks")
	g.GET("", h.route("/api/tasks", "list", h.listTasks))
	g.POST("", h.route("/api/tasks", "create", h.createTask))
	g.GET("/:id", h.route("/api/tasks/:id", "get", h.getTask))
	g.PUT("/:id", h.route("/api/tasks/:id", "update", h.updateTask))
	g.DELETE("/:id", h.route("/api/tasks/:id", "delete", h.deleteTask))
	g.PUT("/:id/completed", h.route("/api/tasks/:id/completed", "mark_completed", h.markCompleted))
	g.PUT("/:id/start", h.route("/api/tasks/:id/start", "mark_in_progress", h.markInProgress))
	g.PUT("/:id/status", h.route("/api/tasks/:id/status", "set_status", h.setStatus))
	g.PUT("/:id/priority", h.route("/api/tasks/:id/priority", "set_priority", h.setPriority))
}

type handlers struct {
	Deps
}

// request carries what every task route needs after authentication.
type request struct {
	echo.Context
	ctx     context.Context
	subject string
	metrics *requestMetrics
}

type handlerFunc func(r *request) error

// route authenticates the caller and records request metrics around fn.
func (h *handlers) route(route, op string, fn handlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), h.Logger, route, c.Request().Method, op)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		subject, authErr := h.Auth.SubjectFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.Fail("auth", authErr)
			return c.JSON(http.StatusUnauthorized, errorBody{Error: authErr.Error(), Kind: "unauthorized"})
		}

		return fn(&request{Context: c, ctx: ctx, subject: subject, metrics: metrics})
	}
}

func (h *handlers) healthz(c echo.Context) error {
	if h.Health == nil {
		return c.NoContent(http.StatusOK)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.Health(ctx); err != nil {
		h.Logger.WithError(err).Warn("health check failed")
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error(), Kind: "unavailable"})
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) listTasks(r *request) error {
	fetchStart := time.Now()
	var res readResponse
	if peekRequested(r) {
		peek := h.Reader.PeekList(r.ctx)
		res = readResponse{IsLoading: peek.IsLoading, Error: errorBodyFor(peek.Error)}
		views, err := h.views(peek.Data)
		if err != nil {
			return h.fail(r, "derive", err)
		}
		res.Data = views
		r.metrics.SetTasksReturned(len(views))
	} else {
		list, err := h.Reader.ListTasks(r.ctx)
		r.metrics.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			return h.fail(r, "fetch", err)
		}
		views, err := h.views(list)
		if err != nil {
			return h.fail(r, "derive", err)
		}
		res.Data = views
		r.metrics.SetTasksReturned(len(views))
	}
	r.metrics.SetLoading(res.IsLoading)
	return h.encode(r, http.StatusOK, res)
}

func (h *handlers) getTask(r *request) error {
	id := domain.ID(r.Param("id"))
	fetchStart := time.Now()
	var res readResponse
	if peekRequested(r) {
		peek := h.Reader.PeekTask(r.ctx, id)
		res = readResponse{IsLoading: peek.IsLoading, Error: errorBodyFor(peek.Error)}
		if peek.Data.ID != "" {
			view, err := domain.NewView(peek.Data, h.Now(), h.DueSoonDays)
			if err != nil {
				return h.fail(r, "derive", err)
			}
			res.Data = view
			r.metrics.SetTasksReturned(1)
		}
	} else {
		task, err := h.Reader.GetTask(r.ctx, id)
		r.metrics.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			return h.fail(r, "fetch", err)
		}
		view, err := domain.NewView(task, h.Now(), h.DueSoonDays)
		if err != nil {
			return h.fail(r, "derive", err)
		}
		res.Data = view
		r.metrics.SetTasksReturned(1)
	}
	r.metrics.SetLoading(res.IsLoading)
	return h.encode(r, http.StatusOK, res)
}

func (h *handlers) createTask(r *request) error {
	draft, err := decodeDraft(r)
	if err != nil {
		return h.fail(r, "decode", err)
	}

	key := strings.TrimSpace(r.Request().Header.Get(idempotencyHeader))
	dedupe := key != "" && h.Deduper != nil
	if dedupe {
		added, derr := h.Deduper.Add(r.ctx, r.subject, key)
		switch {
		case derr != nil:
			// Without Redis the create still goes through; only replay protection is lost.
			h.Logger.WithError(derr).WithField("idempotency_key", key).Warn("idempotency check failed")
			dedupe = false
		case !added:
			r.metrics.Fail("duplicate", nil)
			return r.JSON(http.StatusConflict, errorBody{Error: "duplicate request", Kind: "conflict"})
		}
	}

	task, err := h.Writer.Create(r.ctx, draft)
	if err != nil {
		if dedupe {
			if rerr := h.Deduper.Remove(context.WithoutCancel(r.ctx), r.subject, key); rerr != nil {
				h.Logger.WithError(rerr).WithField("idempotency_key", key).Warn("idempotency key not released")
			}
		}
		return h.fail(r, "mutate", err)
	}
	return h.respondTask(r, http.StatusCreated, task)
}

func (h *handlers) updateTask(r *request) error {
	draft, err := decodeDraft(r)
	if err != nil {
		return h.fail(r, "decode", err)
	}
	task, err := h.Writer.Update(r.ctx, domain.ID(r.Param("id")), draft)
	if err != nil {
		return h.fail(r, "mutate", err)
	}
	return h.respondTask(r, http.StatusOK, task)
}

func (h *handlers) deleteTask(r *request) error {
	if err := h.Writer.Delete(r.ctx, domain.ID(r.Param("id"))); err != nil {
		return h.fail(r, "mutate", err)
	}
	return r.NoContent(http.StatusNoContent)
}

func (h *handlers) markCompleted(r *request) error {
	task, err := h.Writer.MarkCompleted(r.ctx, domain.ID(r.Param("id")))
	if err != nil {
		return h.fail(r, "mutate", err)
	}
	return h.respondTask(r, http.StatusOK, task)
}

func (h *handlers) markInProgress(r *request) error {
	task, err := h.Writer.MarkInProgress(r.ctx, domain.ID(r.Param("id")))
	if err != nil {
		return h.fail(r, "mutate", err)
	}
	return h.respondTask(r, http.StatusOK, task)
}

func (h *handlers) setStatus(r *request) error {
	status := domain.Status(strings.ToUpper(strings.TrimSpace(r.QueryParam("status"))))
	task, err := h.Writer.SetStatus(r.ctx, domain.ID(r.Param("id")), status)
	if err != nil {
		return h.fail(r, "mutate", err)
	}
	return h.respondTask(r, http.StatusOK, task)
}

func (h *handlers) setPriority(r *request) error {
	priority := domain.Priority(strings.ToUpper(strings.TrimSpace(r.QueryParam("priority"))))
	task, err := h.Writer.SetPriority(r.ctx, domain.ID(r.Param("id")), priority)
	if err != nil {
		return h.fail(r, "mutate", err)
	}
	return h.respondTask(r, http.StatusOK, task)
}

func (h *handlers) respondTask(r *request, status int, task domain.Task) error {
	view, err := domain.NewView(task, h.Now(), h.DueSoonDays)
	if err != nil {
		return h.fail(r, "derive", err)
	}
	r.metrics.SetTasksReturned(1)
	return h.encode(r, status, mutationResponse{Data: view})
}

func (h *handlers) views(list []domain.Task) ([]domain.View, error) {
	now := h.Now()
	views := make([]domain.View, 0, len(list))
	for _, t := range list {
		v, err := domain.NewView(t, now, h.DueSoonDays)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (h *handlers) encode(r *request, status int, body any) error {
	encodeStart := time.Now()
	err := r.JSON(status, body)
	r.metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		r.metrics.Fail("encode_response", err)
	}
	return err
}

// fail answers with the status matching err's kind.
func (h *handlers) fail(r *request, stage string, err error) error {
	r.metrics.Fail(stage, err)
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.WithError(err).WithField("stage", stage).Error("task request failed")
	}
	return r.JSON(status, body)
}

func statusFor(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Kind: kindName(err)}
	switch remote.KindOf(err) {
	case remote.KindValidation:
		return http.StatusBadRequest, body
	case remote.KindNotFound:
		return http.StatusNotFound, body
	case remote.KindNetwork, remote.KindServer:
		return http.StatusBadGateway, body
	}
	if errors.Is(err, errBadBody) {
		return http.StatusBadRequest, body
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, body
	}
	return http.StatusInternalServerError, body
}

func kindName(err error) string {
	if k := remote.KindOf(err); k != 0 {
		return k.String()
	}
	if errors.Is(err, errBadBody) {
		return remote.KindValidation.String()
	}
	return "internal"
}

func errorBodyFor(err error) *errorBody {
	if err == nil {
		return nil
	}
	return &errorBody{Error: err.Error(), Kind: kindName(err)}
}

var errBadBody = errors.New("invalid body")

func decodeDraft(r *request) (domain.Draft, error) {
	lr := io.LimitReader(r.Request().Body, maxBodySize)
	var draft domain.Draft
	if err := sonic.ConfigStd.NewDecoder(lr).Decode(&draft); err != nil {
		return domain.Draft{}, errBadBody
	}
	return draft, nil
}

func peekRequested(r *request) bool {
	v := r.QueryParam("peek")
	if v == "" {
		return false
	}
	peek, err := strconv.ParseBool(v)
	return err == nil && peek
}
