package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"task-client/domain"
	"task-client/remote"
	"task-client/storage"
)

type stubPort struct {
	listTasksFn   func(ctx context.Context) ([]domain.Task, error)
	getTaskFn     func(ctx context.Context, id domain.ID) (domain.Task, error)
	createTaskFn  func(ctx context.Context, draft domain.Draft) (domain.Task, error)
	updateTaskFn  func(ctx context.Context, id domain.ID, draft domain.Draft) (domain.Task, error)
	deleteTaskFn  func(ctx context.Context, id domain.ID) error
	setStatusFn   func(ctx context.Context, id domain.ID, status domain.Status) (domain.Task, error)
	setPriorityFn func(ctx context.Context, id domain.ID, priority domain.Priority) (domain.Task, error)

	mu    sync.Mutex
	calls map[string]int
}

func (s *stubPort) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[name]++
}

func (s *stubPort) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubPort) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubPort) ListTasks(ctx context.Context) ([]domain.Task, error) {
	s.record("ListTasks")
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx)
}

func (s *stubPort) GetTask(ctx context.Context, id domain.ID) (domain.Task, error) {
	s.record("GetTask")
	if s.getTaskFn == nil {
		return domain.Task{}, errors.New("unexpected GetTask call")
	}
	return s.getTaskFn(ctx, id)
}

func (s *stubPort) CreateTask(ctx context.Context, draft domain.Draft) (domain.Task, error) {
	s.record("CreateTask")
	if s.createTaskFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return s.createTaskFn(ctx, draft)
}

func (s *stubPort) UpdateTask(ctx context.Context, id domain.ID, draft domain.Draft) (domain.Task, error) {
	s.record("UpdateTask")
	if s.updateTaskFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTask call")
	}
	return s.updateTaskFn(ctx, id, draft)
}

func (s *stubPort) DeleteTask(ctx context.Context, id domain.ID) error {
	s.record("DeleteTask")
	if s.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, id)
}

func (s *stubPort) SetStatus(ctx context.Context, id domain.ID, status domain.Status) (domain.Task, error) {
	s.record("SetStatus")
	if s.setStatusFn == nil {
		return domain.Task{}, errors.New("unexpected SetStatus call")
	}
	return s.setStatusFn(ctx, id, status)
}

func (s *stubPort) SetPriority(ctx context.Context, id domain.ID, priority domain.Priority) (domain.Task, error) {
	s.record("SetPriority")
	if s.setPriorityFn == nil {
		return domain.Task{}, errors.New("unexpected SetPriority call")
	}
	return s.setPriorityFn(ctx, id, priority)
}

var _ remote.Port = (*stubPort)(nil)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Invalidation
	err  error
}

func (r *recordingNotifier) Publish(_ context.Context, inv Invalidation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, inv)
	return r.err
}

func (r *recordingNotifier) published() []Invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invalidation(nil), r.sent...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*storage.MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore(storage.Options{
		StaleTime: time.Minute,
		GCTime:    10 * time.Minute,
		Now:       clock.Now,
		Logger:    logger,
	})
	return store, clock
}

func mustEntry(t *testing.T, store storage.Store, key storage.Key) storage.Entry {
	t.Helper()
	e, ok := store.Get(context.Background(), key)
	if !ok {
		t.Fatalf("expected cache entry for %s", key)
	}
	return e
}

func sampleTask(id domain.ID) domain.Task {
	return domain.Task{
		ID:       id,
		Title:    "Task " + id.String(),
		Status:   domain.StatusTodo,
		Priority: domain.PriorityMedium,
	}
}
