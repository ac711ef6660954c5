// Package filestore is a directory-backed project.Store. Each project is a
// directory named by its id holding project.json and a files/ directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wudi/pagekit/project"
)

const (
	manifestName = "project.json"
	filesDir     = "files"
	tmpPrefix    = ".tmp-"
)

type manifest struct {
	project.Summary
	Files    []string        `json:"files"`
	Metadata json.RawMessage `json:"metadata"`
}

type Store struct {
	root string
	now  func() time.Time
}

// Open uses dir as the store root, creating it if needed. Leftovers of
// interrupted creates are removed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	return &Store{root: dir, now: time.Now}, nil
}

// Create writes the project into a temporary directory and renames it into
// place, so a failed create leaves nothing visible.
func (s *Store) Create(ctx context.Context, name, description string, files []project.File, metadata []byte) (string, error) {
	if err := project.CheckFiles(files); err != nil {
		return "", err
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return "", errors.New("metadata is not valid JSON")
	}
	tmp, err := os.MkdirTemp(s.root, tmpPrefix)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	if err := os.Mkdir(filepath.Join(tmp, filesDir), 0o755); err != nil {
		return "", err
	}
	m := manifest{
		Summary: project.Summary{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			CreatedAt:   s.now().UTC(),
			FileCount:   len(files),
		},
		Metadata: json.RawMessage(metadata),
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := writeFile(filepath.Join(tmp, filesDir, f.Name), f.Data); err != nil {
			return "", err
		}
		m.Files = append(m.Files, f.Name)
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(tmp, manifestName), blob); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, filepath.Join(s.root, m.ID)); err != nil {
		return "", err
	}
	committed = true
	return m.ID, nil
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns projects oldest first. Unreadable entries are skipped.
func (s *Store) List(ctx context.Context) ([]project.Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []project.Summary
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m, err := s.manifest(e.Name())
		if err != nil {
			continue
		}
		out = append(out, m.Summary)
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
	m, err := s.manifest(id)
	if err != nil {
		return nil, err
	}
	return &project.Record{Summary: m.Summary, Metadata: []byte(m.Metadata)}, nil
}

func (s *Store) Files(ctx context.Context, id string) ([]project.FileInfo, error) {
	m, err := s.manifest(id)
	if err != nil {
		return nil, err
	}
	out := make([]project.FileInfo, 0, len(m.Files))
	for _, name := range m.Files {
		st, err := os.Stat(filepath.Join(s.root, id, filesDir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, project.FileInfo{Name: name, Size: st.Size()})
	}
	return out, nil
}

func (s *Store) Download(ctx context.Context, id, fileName string) ([]byte, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	if err := project.CheckFileName(fileName); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, filesDir, fileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", id, fileName, project.ErrFileNotFound)
	}
	return data, err
}

// Delete renames the project out of sight before removing it, so a
// partially deleted project is never listed.
func (s *Store) Delete(ctx context.Context, id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.root, tmpPrefix+"del-"+id)
	if err := os.Rename(dir, tmp); err != nil {
		return err
	}
	return os.RemoveAll(tmp)
}

// dir resolves the directory of an existing project.
func (s *Store) dir(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%s: %w", id, project.ErrProjectNotFound)
	}
	dir := filepath.Join(s.root, id)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return "", fmt.Errorf("%s: %w", id, project.ErrProjectNotFound)
	}
	return dir, nil
}

func (s *Store) manifest(id string) (*manifest, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", manifestName, err)
	}
	return &m, nil
}
