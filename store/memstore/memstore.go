// Package memstore is an in-memory project.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wudi/pagekit/project"
)

type entry struct {
	summary  project.Summary
	metadata []byte
	files    []project.File
}

// Store keeps projects in a map. Data is copied on the way in and out so
// callers never share buffers with the store.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*entry
	now      func() time.Time
}

func New() *Store {
	return &Store{projects: make(map[string]*entry), now: time.Now}
}

func (s *Store) Create(ctx context.Context, name, description string, files []project.File, metadata []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := project.CheckFiles(files); err != nil {
		return "", err
	}
	e := &entry{
		summary: project.Summary{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			CreatedAt:   s.now().UTC(),
			FileCount:   len(files),
		},
		metadata: clone(metadata),
		files:    make([]project.File, len(files)),
	}
	for i, f := range files {
		e.files[i] = project.File{Name: f.Name, Data: clone(f.Data)}
	}

	s.mu.Lock()
	s.projects[e.summary.ID] = e
	s.mu.Unlock()
	return e.summary.ID, nil
}

// List returns projects oldest first.
func (s *Store) List(ctx context.Context) ([]project.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]project.Summary, 0, len(s.projects))
	for _, e := range s.projects {
		out = append(out, e.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*project.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, project.ErrProjectNotFound)
	}
	return &project.Record{Summary: e.summary, Metadata: clone(e.metadata)}, nil
}

func (s *Store) Files(ctx context.Context, id string) ([]project.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, project.ErrProjectNotFound)
	}
	out := make([]project.FileInfo, len(e.files))
	for i, f := range e.files {
		out[i] = project.FileInfo{Name: f.Name, Size: int64(len(f.Data))}
	}
	return out, nil
}

func (s *Store) Download(ctx context.Context, id, fileName string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, project.ErrProjectNotFound)
	}
	for _, f := range e.files {
		if f.Name == fileName {
			return clone(f.Data), nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", id, fileName, project.ErrFileNotFound)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("%s: %w", id, project.ErrProjectNotFound)
	}
	delete(s.projects, id)
	return nil
}

// Replace overwrites a stored file. It exists for tests that simulate a
// file changing behind the project's back.
func (s *Store) Replace(id, fileName string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, project.ErrProjectNotFound)
	}
	for i := range e.files {
		if e.files[i].Name == fileName {
			e.files[i].Data = clone(data)
			return nil
		}
	}
	return fmt.Errorf("%s/%s: %w", id, fileName, project.ErrFileNotFound)
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }
