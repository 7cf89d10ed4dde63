// Package memory provides an in-memory implementation of storage.Store
// for testing and lightweight deployments. Runs are lost when the process
// restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rhuss/weiche/pkg/storage"
)

// entry holds a stored run and its LRU position.
type entry struct {
	run     *storage.Run
	lruElem *list.Element
}

// Store is an in-memory run store with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used run is evicted
// when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveRun persists a run in memory.
func (s *Store) SaveRun(_ context.Context, run *storage.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[run.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(run.ID)
	s.entries[run.ID] = &entry{run: run, lruElem: elem}
	return nil
}

// GetRun retrieves a run by ID, scoped by owner when one is present in
// the context.
func (s *Store) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !visible(ctx, e.run) {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.run, nil
}

// ListRuns returns runs newest first, filtered by owner and vendor.
func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.Run, error) {
	opts = opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*storage.Run
	for _, e := range s.entries {
		if !visible(ctx, e.run) {
			continue
		}
		if opts.Vendor != "" && e.run.Vendor != opts.Vendor {
			continue
		}
		matches = append(matches, e.run)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	if matches == nil {
		matches = []*storage.Run{}
	}
	return matches, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored runs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictOldest removes the least recently used run. Caller holds mu.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}

func visible(ctx context.Context, run *storage.Run) bool {
	owner := storage.Owner(ctx)
	return owner == "" || run.Owner == owner
}
