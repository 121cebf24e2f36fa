package storage

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value       Value
	fetchedAt   time.Time
	lastAccess  time.Time
	invalidated bool
}

// MemoryStore keeps entries in process. Eviction happens lazily on Get and in
// Sweep, which RunSweeper calls periodically.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	entries map[Key]*memEntry
	// invalidation counts, kept for keys without an entry as well
	gens map[Key]uint64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[Key]*memEntry),
		gens:    make(map[Key]uint64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, bool) {
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	if now.Sub(e.lastAccess) > s.opts.GCTime {
		delete(s.entries, key)
		return Entry{}, false
	}
	e.lastAccess = now
	return Entry{
		Key:         key,
		Value:       e.value.clone(),
		FetchedAt:   e.fetchedAt,
		LastAccess:  e.lastAccess,
		Invalidated: e.invalidated,
		State:       s.opts.stateOf(e.fetchedAt, e.invalidated, now),
	}, true
}

func (s *MemoryStore) Put(_ context.Context, key Key, value Value) error {
	now := s.opts.Now()
	e := &memEntry{value: value.clone(), fetchedAt: now, lastAccess: now}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PutFetched(_ context.Context, key Key, value Value, gen uint64) (bool, error) {
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := s.gens[key] == gen
	if !fresh {
		if _, ok := s.entries[key]; ok {
			return false, nil
		}
	}
	s.entries[key] = &memEntry{value: value.clone(), fetchedAt: now, lastAccess: now, invalidated: !fresh}
	return fresh, nil
}

func (s *MemoryStore) Generation(_ context.Context, key Key) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.gens[key]
	if !ok {
		s.gens[key] = 0
	}
	return gen, nil
}

func (s *MemoryStore) Invalidate(_ context.Context, key Key) error {
	s.mu.Lock()
	s.invalidateLocked(key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InvalidateMatching(_ context.Context, match func(Key) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make(map[Key]struct{})
	for k := range s.entries {
		if match(k) {
			matched[k] = struct{}{}
		}
	}
	for k := range s.gens {
		if match(k) {
			matched[k] = struct{}{}
		}
	}
	for k := range matched {
		s.invalidateLocked(k)
	}
	return nil
}

func (s *MemoryStore) invalidateLocked(key Key) {
	s.gens[key]++
	if e, ok := s.entries[key]; ok {
		e.invalidated = true
	}
}

func (s *MemoryStore) Sweep(context.Context) int {
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if now.Sub(e.lastAccess) > s.opts.GCTime {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of retained entries, stale ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunSweeper evicts unused entries every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.opts.GCTime / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.opts.Logger.WithField("evicted", n).Debug("cache sweep")
			}
		}
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.entries = make(map[Key]*memEntry)
	s.gens = make(map[Key]uint64)
	s.mu.Unlock()
	return nil
}
