package remote

import (
	"context"
	"errors"
	"fmt"

	"task-client/domain"
)

// Port is the boundary to the task service. Every method returns the service's
// canonical representation or a *Error. Implementations never retry.
type Port interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id domain.ID) (domain.Task, error)
	CreateTask(ctx context.Context, draft domain.Draft) (domain.Task, error)
	UpdateTask(ctx context.Context, id domain.ID, draft domain.Draft) (domain.Task, error)
	DeleteTask(ctx context.Context, id domain.ID) error
	SetStatus(ctx context.Context, id domain.ID, status domain.Status) (domain.Task, error)
	SetPriority(ctx context.Context, id domain.ID, priority domain.Priority) (domain.Task, error)
}

// Kind classifies a port failure.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindNotFound
	KindValidation
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	}
	return "unknown"
}

// Sentinels for errors.Is checks against a *Error.
var (
	ErrNetwork    = errors.New("task service unreachable")
	ErrNotFound   = errors.New("task not found")
	ErrValidation = errors.New("task rejected")
	ErrServer     = errors.New("task service error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindServer:
		return ErrServer
	}
	return nil
}

// Error is returned by every Port operation that fails.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// KindOf returns the kind of err, or 0 if err is not a port error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}

// NewValidationError wraps a locally detected draft problem so callers see the
// same taxonomy as a server-side rejection.
func NewValidationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: err.Error(), Err: err}
}
