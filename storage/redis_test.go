package storage

import (
	"context"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"task-client/domain"
)

func newTestRedisStore(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := test.NewNullLogger()
	store := NewRedisStore(client, "", Options{
		StaleTime: time.Minute,
		GCTime:    5 * time.Minute,
		Now:       clock.Now,
		Logger:    logger,
	})
	return store, mr
}

func TestRedisStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newTestRedisStore(t, clock)

	tasks := []domain.Task{
		{ID: "1", Title: "Write code", Status: domain.StatusTodo, Priority: domain.PriorityHigh, DueDate: "2024-05-03"},
		{ID: "2", Title: "Review", Status: domain.StatusCompleted, Priority: domain.PriorityLow},
	}
	if err := store.Put(ctx, ListKey(), ListValue(tasks)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("taskcache:list"); ttl <= 0 || ttl > 5*time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	e, ok := store.Get(ctx, ListKey())
	if !ok {
		t.Fatalf("expected hit")
	}
	if !reflect.DeepEqual(e.Value.Tasks, tasks) {
		t.Fatalf("unexpected tasks: %#v", e.Value.Tasks)
	}
	if !e.Fresh() {
		t.Fatalf("expected fresh entry")
	}

	clock.Advance(2 * time.Minute)
	if e, _ := store.Get(ctx, ListKey()); e.Fresh() {
		t.Fatalf("expected entry to go stale after staleTime")
	}
}

func TestRedisStoreEmptyListRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, newFakeClock())

	if err := store.Put(ctx, ListKey(), ListValue(nil)); err != nil {
		t.Fatalf("put: %v", err)
	}
	e, ok := store.Get(ctx, ListKey())
	if !ok {
		t.Fatalf("expected hit for empty list")
	}
	if e.Value.Tasks == nil || len(e.Value.Tasks) != 0 {
		t.Fatalf("expected empty list, got %#v", e.Value.Tasks)
	}
}

func TestRedisStoreInvalidate(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, newFakeClock())

	task := domain.Task{ID: "9", Title: "Ship", Status: domain.StatusInProgress, Priority: domain.PriorityMedium}
	_ = store.Put(ctx, ItemKey("9"), ItemValue(task))

	if err := store.Invalidate(ctx, ItemKey("9")); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	e, ok := store.Get(ctx, ItemKey("9"))
	if !ok {
		t.Fatalf("expected invalidated entry to remain readable")
	}
	if !e.Invalidated || e.Fresh() {
		t.Fatalf("expected stale entry, got %#v", e)
	}
	if e.Value.Task != task {
		t.Fatalf("unexpected task: %#v", e.Value.Task)
	}

	if err := store.Invalidate(ctx, ItemKey("missing")); err != nil {
		t.Fatalf("invalidate missing: %v", err)
	}
	if mr.Exists("taskcache:item:missing") {
		t.Fatalf("expected invalidating an unknown key not to create it")
	}
}

func TestRedisStoreInvalidateMatching(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, newFakeClock())

	_ = store.Put(ctx, ListKey(), ListValue(nil))
	_ = store.Put(ctx, ItemKey("1"), ItemValue(domain.Task{ID: "1", Status: domain.StatusTodo, Priority: domain.PriorityLow}))
	_ = store.Put(ctx, ItemKey("2"), ItemValue(domain.Task{ID: "2", Status: domain.StatusTodo, Priority: domain.PriorityLow}))
	mr.Set("unrelated", "x")

	if err := store.InvalidateMatching(ctx, ForTask("2")); err != nil {
		t.Fatalf("invalidate matching: %v", err)
	}
	if got := mr.HGet("taskcache:list", fieldStale); got != "1" {
		t.Fatalf("expected list invalidated, stale=%q", got)
	}
	if got := mr.HGet("taskcache:item:2", fieldStale); got != "1" {
		t.Fatalf("expected item 2 invalidated, stale=%q", got)
	}
	if got := mr.HGet("taskcache:item:1", fieldStale); got != "0" {
		t.Fatalf("expected item 1 untouched, stale=%q", got)
	}
}

func TestRedisStoreRetentionRefreshedOnRead(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, newFakeClock())

	_ = store.Put(ctx, ItemKey("1"), ItemValue(domain.Task{ID: "1", Status: domain.StatusTodo, Priority: domain.PriorityLow}))
	_ = store.Put(ctx, ItemKey("2"), ItemValue(domain.Task{ID: "2", Status: domain.StatusTodo, Priority: domain.PriorityLow}))

	mr.FastForward(4 * time.Minute)
	if _, ok := store.Get(ctx, ItemKey("1")); !ok {
		t.Fatalf("expected entry within retention")
	}
	mr.FastForward(2 * time.Minute)

	if _, ok := store.Get(ctx, ItemKey("2")); ok {
		t.Fatalf("expected unused entry to expire")
	}
	if _, ok := store.Get(ctx, ItemKey("1")); !ok {
		t.Fatalf("expected read to extend retention")
	}
}

func TestRedisStoreDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, newFakeClock())

	mr.HSet("taskcache:item:1", fieldData, "{not json", fieldFetchedAt, "0", fieldStale, "0")
	if _, ok := store.Get(ctx, ItemKey("1")); ok {
		t.Fatalf("expected corrupt entry to read as a miss")
	}
	if mr.Exists("taskcache:item:1") {
		t.Fatalf("expected corrupt entry to be deleted")
	}
}

func TestRedisStoreUnavailableIsMiss(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, newFakeClock())
	_ = store.Put(ctx, ListKey(), ListValue(nil))
	mr.Close()

	if _, ok := store.Get(ctx, ListKey()); ok {
		t.Fatalf("expected miss when redis is unavailable")
	}
}

func TestRedisStorePutFetchedAfterInvalidation(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, newFakeClock())

	gen, err := store.Generation(ctx, ListKey())
	if err != nil {
		t.Fatalf("generation: %v", err)
	}
	if !mr.Exists("taskcache:gen:list") {
		t.Fatalf("expected generation counter to be created")
	}
	if err := store.InvalidateMatching(ctx, ForTask("5")); err != nil {
		t.Fatalf("invalidate matching: %v", err)
	}
	fresh, err := store.PutFetched(ctx, ListKey(), ListValue([]domain.Task{{ID: "1", Status: domain.StatusTodo, Priority: domain.PriorityLow}}), gen)
	if err != nil {
		t.Fatalf("put fetched: %v", err)
	}
	if fresh {
		t.Fatalf("expected overtaken fetch not to commit fresh")
	}
	if got := mr.HGet("taskcache:list", fieldStale); got != "1" {
		t.Fatalf("expected stale commit, stale=%q", got)
	}

	next, err := store.Generation(ctx, ListKey())
	if err != nil || next != gen+1 {
		t.Fatalf("expected generation %d, got %d err=%v", gen+1, next, err)
	}
	fresh, err = store.PutFetched(ctx, ListKey(), ListValue(nil), next)
	if err != nil || !fresh {
		t.Fatalf("expected fresh commit, got fresh=%v err=%v", fresh, err)
	}
	if e, ok := store.Get(ctx, ListKey()); !ok || !e.Fresh() {
		t.Fatalf("expected fresh entry, got %#v ok=%v", e, ok)
	}
}

func TestRedisStoreOvertakenFetchKeepsNewerEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, newFakeClock())
	newer := domain.Task{ID: "4", Title: "new", Status: domain.StatusTodo, Priority: domain.PriorityLow}

	slow, _ := store.Generation(ctx, ItemKey("4"))
	_ = store.Invalidate(ctx, ItemKey("4"))
	quick, _ := store.Generation(ctx, ItemKey("4"))
	if fresh, err := store.PutFetched(ctx, ItemKey("4"), ItemValue(newer), quick); err != nil || !fresh {
		t.Fatalf("expected current fetch to commit fresh, got fresh=%v err=%v", fresh, err)
	}
	old := newer
	old.Title = "old"
	if fresh, err := store.PutFetched(ctx, ItemKey("4"), ItemValue(old), slow); err != nil || fresh {
		t.Fatalf("expected overtaken fetch to be dropped, got fresh=%v err=%v", fresh, err)
	}
	if e, _ := store.Get(ctx, ItemKey("4")); !e.Fresh() || e.Value.Task != newer {
		t.Fatalf("expected newer entry to survive, got %#v", e)
	}
}
