package tasks

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"task-client/domain"
	"task-client/remote"
	"task-client/storage"
)

const tracerName = "task-client/tasks"

// fetchAttempts bounds how often a blocking read starts over after joining a
// fetch it cannot use.
const fetchAttempts = 3

// Result is the shape handed to rendering code: whatever data is known, whether
// a fetch for it is still running, and the last fetch failure if any.
type Result[T any] struct {
	Data      T
	IsLoading bool
	Error     error
}

// Queries is the read path. Blocking reads return fresh data, fetching through
// the port on a miss or a stale entry; Peek reads never wait on the network.
type Queries struct {
	port   remote.Port
	store  storage.Store
	logger *log.Logger

	group   singleflight.Group
	flights map[storage.Key]*flight

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[storage.Key]bool
	failures map[storage.Key]error
	closed   bool
}

func NewQueries(port remote.Port, store storage.Store, logger *log.Logger) *Queries {
	if port == nil {
		panic("tasks.NewQueries: port is nil")
	}
	if store == nil {
		panic("tasks.NewQueries: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Queries{
		port:     port,
		store:    store,
		logger:   logger,
		bg:       bg,
		cancel:   cancel,
		flights:  make(map[storage.Key]*flight),
		inflight: make(map[storage.Key]bool),
		failures: make(map[storage.Key]error),
	}
}

// ListTasks returns the task collection, fetching it when the cached copy is
// missing or stale.
func (q *Queries) ListTasks(ctx context.Context) ([]domain.Task, error) {
	v, err := q.read(ctx, storage.ListKey())
	if err != nil {
		return nil, err
	}
	return v.Tasks, nil
}

// GetTask returns one task, fetching it when the cached copy is missing or stale.
func (q *Queries) GetTask(ctx context.Context, id domain.ID) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, remote.NewValidationError("get", &domain.ValidationError{Field: "id", Reason: "is required"})
	}
	v, err := q.read(ctx, storage.ItemKey(id))
	if err != nil {
		return domain.Task{}, err
	}
	return v.Task, nil
}

// PeekList returns the cached collection immediately and revalidates it in
// the background when it is stale or missing.
func (q *Queries) PeekList(ctx context.Context) Result[[]domain.Task] {
	v, loading, err := q.peek(ctx, storage.ListKey())
	res := Result[[]domain.Task]{Data: v.Tasks, IsLoading: loading, Error: err}
	if res.Data == nil {
		res.Data = []domain.Task{}
	}
	return res
}

// PeekTask is PeekList for a single task. Data is the zero Task until the first
// fetch lands.
func (q *Queries) PeekTask(ctx context.Context, id domain.ID) Result[domain.Task] {
	if id == "" {
		return Result[domain.Task]{Error: remote.NewValidationError("get", &domain.ValidationError{Field: "id", Reason: "is required"})}
	}
	v, loading, err := q.peek(ctx, storage.ItemKey(id))
	return Result[domain.Task]{Data: v.Task, IsLoading: loading, Error: err}
}

// Close stops background revalidations and waits for them to return.
func (q *Queries) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func (q *Queries) read(ctx context.Context, key storage.Key) (storage.Value, error) {
	if e, ok := q.store.Get(ctx, key); ok && e.Fresh() {
		return e.Value, nil
	}
	return q.fetch(ctx, key)
}

func (q *Queries) peek(ctx context.Context, key storage.Key) (storage.Value, bool, error) {
	e, ok := q.store.Get(ctx, key)
	if ok && e.Fresh() {
		return e.Value, false, nil
	}
	loading := q.revalidate(key)
	q.mu.Lock()
	err := q.failures[key]
	q.mu.Unlock()
	if !ok {
		return storage.Value{}, loading, err
	}
	return e.Value, loading, err
}

// revalidate starts a background fetch for key unless one is running, and
// reports whether a fetch is in flight afterwards.
func (q *Queries) revalidate(key storage.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.inflight[key] {
		return true
	}
	q.inflight[key] = true
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			q.mu.Lock()
			delete(q.inflight, key)
			q.mu.Unlock()
		}()
		if _, err := q.fetch(q.bg, key); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.WithError(err).WithField("cache_key", key.String()).Warn("background revalidation failed")
		}
	}()
	return true
}

// flight is the context shared port calls for one key run under. It outlives
// any single caller and is canceled once nobody waits on the key.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stop    func() bool
	waiters int
}

// fetched is what one port call produced and the generation it started at.
type fetched struct {
	value storage.Value
	gen   uint64
	genOK bool
}

// fetch loads key through the port. Callers asking for the same key at the
// same time share a single port call; each caller still gives up on its own
// context. The entry is committed only after the port returned in full; a
// failed or abandoned fetch leaves the store as it was.
func (q *Queries) fetch(ctx context.Context, key storage.Key) (storage.Value, error) {
	var err error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		seen, genErr := q.store.Generation(ctx, key)
		var res fetched
		res, err = q.join(ctx, key)
		if err != nil {
			if ctx.Err() == nil && q.bg.Err() == nil && errors.Is(err, context.Canceled) {
				// the shared call was dropped by callers that left before us
				continue
			}
			return storage.Value{}, err
		}
		if genErr == nil && res.genOK && res.gen < seen {
			q.logger.WithField("cache_key", key.String()).Debug("joined fetch predates invalidation")
			continue
		}
		return res.value, nil
	}
	return storage.Value{}, err
}

func (q *Queries) join(ctx context.Context, key storage.Key) (fetched, error) {
	f := q.enter(ctx, key)
	defer q.leave(key, f)

	ch := q.group.DoChan(key.String(), func() (any, error) {
		return q.load(f.ctx, key)
	})
	select {
	case res := <-ch:
		if res.Shared {
			q.logger.WithField("cache_key", key.String()).Debug("joined in-flight fetch")
		}
		if res.Err != nil {
			return fetched{}, res.Err
		}
		return res.Val.(fetched), nil
	case <-ctx.Done():
		return fetched{}, ctx.Err()
	}
}

func (q *Queries) enter(ctx context.Context, key storage.Key) *flight {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel, stop: context.AfterFunc(q.bg, cancel)}
		q.flights[key] = f
	}
	f.waiters++
	return f
}

func (q *Queries) leave(key storage.Key, f *flight) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.stop()
	f.cancel()
	if q.flights[key] == f {
		delete(q.flights, key)
	}
}

func (q *Queries) load(ctx context.Context, key storage.Key) (fetched, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tasks.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key.String()))
	entry := q.logger.WithField("cache_key", key.String())

	gen, genErr := q.store.Generation(ctx, key)
	if genErr != nil {
		entry.WithError(genErr).Warn("cache generation unavailable, result will not be cached")
	}

	var (
		value storage.Value
		err   error
	)
	switch key.Kind {
	case storage.KindList:
		var list []domain.Task
		list, err = q.port.ListTasks(ctx)
		value = storage.ListValue(list)
	case storage.KindItem:
		var task domain.Task
		task, err = q.port.GetTask(ctx, key.ID)
		value = storage.ItemValue(task)
	default:
		err = errors.New("unsupported cache key " + key.String())
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		q.mu.Lock()
		q.failures[key] = err
		q.mu.Unlock()
		return fetched{}, err
	}

	if genErr == nil {
		fresh, err := q.store.PutFetched(ctx, key, value, gen)
		switch {
		case err != nil:
			entry.WithError(err).Warn("cache commit failed")
		case !fresh:
			span.SetAttributes(attribute.Bool("cache.overtaken", true))
			entry.Debug("fetch overtaken by invalidation, not committed fresh")
		}
	}
	q.mu.Lock()
	delete(q.failures, key)
	q.mu.Unlock()
	return fetched{value: value, gen: gen, genOK: genErr == nil}, nil
}
