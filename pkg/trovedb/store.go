// Package trovedb provides access to the local trove database and to
// label-addressed repositories, as far as the policies need them: path
// lookups, provides queries, and dependency resolution.
package trovedb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conarypm/conary-policy/pkg/domain"
)

// Store answers queries against the local installed-trove database.
type Store interface {
	// TroveByName returns the newest installed trove with that name.
	TroveByName(ctx context.Context, name string) (*domain.Trove, error)
	// HasTrove reports whether any installed trove has that name.
	HasTrove(ctx context.Context, name string) bool
	// TrovesByPath lists installed troves owning the given path.
	TrovesByPath(ctx context.Context, path string) []*domain.Trove
	// TrovesProviding lists installed troves whose provides satisfy dep.
	TrovesProviding(ctx context.Context, dep domain.Dependency) []*domain.Trove
}

// Repository resolves dependencies against label-addressed repositories,
// used after the local database comes up empty.
type Repository interface {
	// ResolveDependencies returns, per dependency, the troves on the
	// label whose provides satisfy it.
	ResolveDependencies(ctx context.Context, label string, deps []domain.Dependency) map[string][]*domain.Trove
	// LeavesByPath returns, per path, the newest troves on the label
	// owning that path.
	LeavesByPath(ctx context.Context, label string, paths []string) map[string][]*domain.Trove
}

// MemoryStore is an in-memory Store and Repository, loadable from a
// YAML fixture. It backs tests and offline policy runs.
type MemoryStore struct {
	mu     sync.RWMutex
	troves []*domain.Trove
	labels map[string][]*domain.Trove
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{labels: make(map[string][]*domain.Trove)}
}

// AddTrove registers an installed trove.
func (s *MemoryStore) AddTrove(t *domain.Trove) {
	s.mu.Lock()
	s.troves = append(s.troves, t)
	s.mu.Unlock()
}

// AddLabelTrove registers a trove available on a repository label.
func (s *MemoryStore) AddLabelTrove(label string, t *domain.Trove) {
	s.mu.Lock()
	s.labels[label] = append(s.labels[label], t)
	s.mu.Unlock()
}

// TroveByName returns the first installed trove with that name.
func (s *MemoryStore) TroveByName(_ context.Context, name string) (*domain.Trove, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.troves {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTroveNotFound, name)
}

// HasTrove reports whether any installed trove has that name.
func (s *MemoryStore) HasTrove(_ context.Context, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.troves {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TrovesByPath lists installed troves owning path, sorted by name for
// deterministic suggestions.
func (s *MemoryStore) TrovesByPath(_ context.Context, path string) []*domain.Trove {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return trovesByPath(s.troves, path)
}

// TrovesProviding lists installed troves whose provides satisfy dep.
func (s *MemoryStore) TrovesProviding(_ context.Context, dep domain.Dependency) []*domain.Trove {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Trove
	for _, t := range s.troves {
		if t.Provides.Has(dep) {
			out = append(out, t)
		}
	}
	sortTroves(out)
	return out
}

// ResolveDependencies implements Repository against the label fixtures.
func (s *MemoryStore) ResolveDependencies(_ context.Context, label string, deps []domain.Dependency) map[string][]*domain.Trove {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*domain.Trove)
	for _, dep := range deps {
		for _, t := range s.labels[label] {
			if t.Provides.Has(dep) {
				out[dep.Key()] = append(out[dep.Key()], t)
			}
		}
	}
	return out
}

// LeavesByPath implements Repository against the label fixtures.
func (s *MemoryStore) LeavesByPath(_ context.Context, label string, paths []string) map[string][]*domain.Trove {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*domain.Trove)
	for _, path := range paths {
		if matches := trovesByPath(s.labels[label], path); len(matches) > 0 {
			out[path] = matches
		}
	}
	return out
}

func trovesByPath(troves []*domain.Trove, path string) []*domain.Trove {
	var out []*domain.Trove
	for _, t := range troves {
		if t.HasPath(path) {
			out = append(out, t)
		}
	}
	sortTroves(out)
	return out
}

func sortTroves(troves []*domain.Trove) {
	sort.Slice(troves, func(i, j int) bool { return troves[i].Name < troves[j].Name })
}
