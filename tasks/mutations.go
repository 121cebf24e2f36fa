package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"task-client/domain"
	"task-client/remote"
	"task-client/storage"
)

// Coordinator runs writes against the task service and stales the cache
// entries a successful write affects. It never edits cached content and never
// touches the cache when a write fails.
type Coordinator struct {
	port     remote.Port
	store    storage.Store
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

// NewCoordinator wires a coordinator. A nil notifier disables fan-out.
func NewCoordinator(port remote.Port, store storage.Store, notifier Notifier, logger *log.Logger) *Coordinator {
	if port == nil {
		panic("tasks.NewCoordinator: port is nil")
	}
	if store == nil {
		panic("tasks.NewCoordinator: store is nil")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{port: port, store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Create validates the draft, applies its defaults and asks the service to
// create the task. Both the list and the new task's item entry are staled.
func (c *Coordinator) Create(ctx context.Context, draft domain.Draft) (domain.Task, error) {
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return domain.Task{}, remote.NewValidationError("create", err)
	}
	return c.run(ctx, "create", "", func(ctx context.Context) (domain.Task, error) {
		return c.port.CreateTask(ctx, draft)
	})
}

// Update replaces the mutable fields of task id.
func (c *Coordinator) Update(ctx context.Context, id domain.ID, draft domain.Draft) (domain.Task, error) {
	if err := requireID("update", id); err != nil {
		return domain.Task{}, err
	}
	if err := draft.Validate(); err != nil {
		return domain.Task{}, remote.NewValidationError("update", err)
	}
	return c.run(ctx, "update", id, func(ctx context.Context) (domain.Task, error) {
		return c.port.UpdateTask(ctx, id, draft)
	})
}

func (c *Coordinator) Delete(ctx context.Context, id domain.ID) error {
	if err := requireID("delete", id); err != nil {
		return err
	}
	_, err := c.run(ctx, "delete", id, func(ctx context.Context) (domain.Task, error) {
		return domain.Task{}, c.port.DeleteTask(ctx, id)
	})
	return err
}

// MarkCompleted is a status-only transition; unrelated fields are untouched.
func (c *Coordinator) MarkCompleted(ctx context.Context, id domain.ID) (domain.Task, error) {
	return c.setStatus(ctx, "mark_completed", id, domain.StatusCompleted)
}

func (c *Coordinator) MarkInProgress(ctx context.Context, id domain.ID) (domain.Task, error) {
	return c.setStatus(ctx, "mark_in_progress", id, domain.StatusInProgress)
}

func (c *Coordinator) SetStatus(ctx context.Context, id domain.ID, status domain.Status) (domain.Task, error) {
	return c.setStatus(ctx, "set_status", id, status)
}

func (c *Coordinator) SetPriority(ctx context.Context, id domain.ID, priority domain.Priority) (domain.Task, error) {
	if err := requireID("set_priority", id); err != nil {
		return domain.Task{}, err
	}
	if !priority.Valid() {
		_, err := domain.ParsePriority(string(priority))
		return domain.Task{}, remote.NewValidationError("set_priority", err)
	}
	return c.run(ctx, "set_priority", id, func(ctx context.Context) (domain.Task, error) {
		return c.port.SetPriority(ctx, id, priority)
	})
}

func (c *Coordinator) setStatus(ctx context.Context, op string, id domain.ID, status domain.Status) (domain.Task, error) {
	if err := requireID(op, id); err != nil {
		return domain.Task{}, err
	}
	if !status.Valid() {
		_, err := domain.ParseStatus(string(status))
		return domain.Task{}, remote.NewValidationError(op, err)
	}
	return c.run(ctx, op, id, func(ctx context.Context) (domain.Task, error) {
		return c.port.SetStatus(ctx, id, status)
	})
}

func requireID(op string, id domain.ID) error {
	if id == "" {
		return remote.NewValidationError(op, &domain.ValidationError{Field: "id", Reason: "is required"})
	}
	return nil
}

// run is the shared write sequence: call the port, then on success stale the
// list and the targeted item and publish the invalidation. Port errors are
// returned unchanged.
func (c *Coordinator) run(ctx context.Context, op string, id domain.ID, call func(context.Context) (domain.Task, error)) (domain.Task, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tasks."+op)
	defer span.End()
	if id != "" {
		span.SetAttributes(attribute.String("task.id", id.String()))
	}

	start := c.now()
	entry := c.logger.WithFields(log.Fields{"op": op, "task_id": id.String()})

	task, err := call(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.WithError(err).WithField("kind", remote.KindOf(err).String()).Warn("task mutation failed")
		return domain.Task{}, err
	}

	keys := invalidationKeys(id, task.ID)
	if err := c.store.InvalidateMatching(ctx, storage.ForTask(id, task.ID)); err != nil {
		entry.WithError(err).WithField("cache_keys", keyStrings(keys)).Error("cache invalidation failed")
	}

	target := id
	if target == "" {
		target = task.ID
	}
	inv := Invalidation{
		Op:          op,
		TaskID:      target,
		Keys:        keyStrings(keys),
		OperationID: uuid.NewString(),
		At:          c.now().UTC(),
	}
	if err := c.notifier.Publish(ctx, inv); err != nil {
		entry.WithError(err).WithField("operation_id", inv.OperationID).Warn("invalidation notice not delivered")
	}

	span.SetAttributes(attribute.Int("cache.invalidated", len(keys)))
	entry.WithFields(log.Fields{
		"operation_id": inv.OperationID,
		"duration_ms":  float64(c.now().Sub(start).Microseconds()) / 1000,
	}).Debug("task mutation applied")
	return task, nil
}

func invalidationKeys(target, created domain.ID) []storage.Key {
	keys := []storage.Key{storage.ListKey()}
	if target != "" {
		keys = append(keys, storage.ItemKey(target))
	}
	if created != "" && created != target {
		keys = append(keys, storage.ItemKey(created))
	}
	return keys
}

func keyStrings(keys []storage.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
