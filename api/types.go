package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"task-client/domain"
	"task-client/tasks"
)

// Reader is the cached read path the handlers serve from.
type Reader interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id domain.ID) (domain.Task, error)
	PeekList(ctx context.Context) tasks.Result[[]domain.Task]
	PeekTask(ctx context.Context, id domain.ID) tasks.Result[domain.Task]
}

// Writer runs mutations and keeps the cache consistent with them.
type Writer interface {
	Create(ctx context.Context, draft domain.Draft) (domain.Task, error)
	Update(ctx context.Context, id domain.ID, draft domain.Draft) (domain.Task, error)
	Delete(ctx context.Context, id domain.ID) error
	MarkCompleted(ctx context.Context, id domain.ID) (domain.Task, error)
	MarkInProgress(ctx context.Context, id domain.ID) (domain.Task, error)
	SetStatus(ctx context.Context, id domain.ID, status domain.Status) (domain.Task, error)
	SetPriority(ctx context.Context, id domain.ID, priority domain.Priority) (domain.Task, error)
}

// Authenticator is implemented by types able to extract a subject from an
// Authorization header.
type Authenticator interface {
	SubjectFromAuthHeader(string) (string, error)
}

// Deduper prevents a retried create from producing a second task.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, subject, key string) (bool, error)
	// Remove deletes a previously added key, used when the create fails.
	Remove(ctx context.Context, subject, key string) error
}

// Deps are the collaborators Register wires into the routes. Deduper and
// Health are optional.
type Deps struct {
	Reader      Reader
	Writer      Writer
	Auth        Authenticator
	Deduper     Deduper
	Health      func(ctx context.Context) error
	Logger      *log.Logger
	DueSoonDays int
	Now         func() time.Time
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// readResponse mirrors tasks.Result on the wire.
type readResponse struct {
	Data      any        `json:"data"`
	IsLoading bool       `json:"isLoading"`
	Error     *errorBody `json:"error"`
}

type mutationResponse struct {
	Data domain.View `json:"data"`
}
