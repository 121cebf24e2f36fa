package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"task-client/domain"
)

// Defaults mirror the query client the web UI shipped with.
const (
	DefaultStaleTime = 5 * time.Minute
	DefaultGCTime    = 10 * time.Minute
)

// Kind tags what a cache key holds.
type Kind string

const (
	KindList Kind = "list"
	KindItem Kind = "item"
)

// Key identifies a cache entry. Two keys are equal iff kind and id match.
type Key struct {
	Kind Kind
	ID   domain.ID
}

func ListKey() Key { return Key{Kind: KindList} }

func ItemKey(id domain.ID) Key { return Key{Kind: KindItem, ID: id} }

func (k Key) IsList() bool { return k.Kind == KindList }

func (k Key) IsItem() bool { return k.Kind == KindItem }

func (k Key) String() string {
	if k.ID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.ID.String()
}

var errBadKey = errors.New("invalid cache key")

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	kind, id, _ := strings.Cut(s, ":")
	switch Kind(kind) {
	case KindList:
		if id != "" {
			return Key{}, errBadKey
		}
		return ListKey(), nil
	case KindItem:
		if id == "" {
			return Key{}, errBadKey
		}
		return ItemKey(domain.ID(id)), nil
	}
	return Key{}, errBadKey
}

// ForTask matches the keys a write to the given tasks makes stale: the list
// and each task's item.
func ForTask(ids ...domain.ID) func(Key) bool {
	return func(k Key) bool {
		if k.IsList() {
			return true
		}
		for _, id := range ids {
			if id != "" && k == ItemKey(id) {
				return true
			}
		}
		return false
	}
}

// State is the freshness of an entry at read time.
type State int

const (
	StateFresh State = iota + 1
	StateStale
)

func (s State) String() string {
	if s == StateFresh {
		return "fresh"
	}
	return "stale"
}

// Value is the payload of an entry: a task collection for list keys, a single
// task for item keys.
type Value struct {
	Tasks []domain.Task `json:"tasks"`
	Task  domain.Task   `json:"task"`
}

func ListValue(tasks []domain.Task) Value {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return Value{Tasks: cloneTasks(tasks)}
}

func ItemValue(task domain.Task) Value { return Value{Task: task} }

func (v Value) clone() Value {
	return Value{Tasks: cloneTasks(v.Tasks), Task: v.Task}
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return nil
	}
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	return out
}

// Entry is a snapshot of a cached value. Mutating it never affects the store.
type Entry struct {
	Key         Key
	Value       Value
	FetchedAt   time.Time
	LastAccess  time.Time
	Invalidated bool
	State       State
}

func (e Entry) Fresh() bool { return e.State == StateFresh }

// Store owns cache entries. Get never reaches the task service; a false result
// is a cache miss and nothing more.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, bool)
	Put(ctx context.Context, key Key, value Value) error
	Invalidate(ctx context.Context, key Key) error
	InvalidateMatching(ctx context.Context, match func(Key) bool) error
	// Generation reports how often key has been invalidated. Invalidations
	// count even while the key has no entry, so a fetch that read the
	// generation before calling the service can tell it was overtaken.
	Generation(ctx context.Context, key Key) (uint64, error)
	// PutFetched commits a value fetched while key was at generation gen and
	// reports whether it landed fresh. If key was invalidated since, the value
	// is kept only when no entry exists, and then already stale.
	PutFetched(ctx context.Context, key Key, value Value, gen uint64) (bool, error)
	// Sweep evicts entries unused for longer than the retention window and
	// reports how many were removed.
	Sweep(ctx context.Context) int
	Close() error
}

// Options tune freshness and retention.
type Options struct {
	// StaleTime is how long an entry stays fresh after a fetch.
	StaleTime time.Duration
	// GCTime is how long an unused entry is retained before eviction.
	GCTime time.Duration
	Now    func() time.Time
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.StaleTime <= 0 {
		o.StaleTime = DefaultStaleTime
	}
	if o.GCTime <= 0 {
		o.GCTime = DefaultGCTime
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	return o
}

func (o Options) stateOf(fetchedAt time.Time, invalidated bool, now time.Time) State {
	if invalidated || now.Sub(fetchedAt) >= o.StaleTime {
		return StateStale
	}
	return StateFresh
}
