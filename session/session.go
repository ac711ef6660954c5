// Package session holds editing sessions: one page catalog each, edited
// synchronously, with loading and assembly running as cancellable tasks.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/pagekit/assemble"
	"github.com/wudi/pagekit/catalog"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/project"
	"github.com/wudi/pagekit/thumbnail"
)

var (
	ErrClosed = errors.New("session closed")
	// ErrStale is the result of a load whose session was reset or closed
	// before it completed. Its documents have been released.
	ErrStale = errors.New("session changed before load completed")
	// ErrNoProjectStore is returned by project operations when the
	// session has no codec.
	ErrNoProjectStore = errors.New("no project store configured")
	ErrNoRenderer     = errors.New("no thumbnail renderer configured")
	ErrUnknownSession = errors.New("unknown session")
)

type Config struct {
	Loader    *document.Loader
	Assembler *assemble.Assembler
	// Codec enables SaveProject and OpenProject.
	Codec *project.Codec
	// Renderer enables thumbnails, configured by Thumbnails.
	Renderer   thumbnail.Renderer
	Thumbnails thumbnail.Config
	Logger     observability.Logger
}

func (c *Config) defaults() {
	c.Logger = observability.OrNop(c.Logger)
	if c.Loader == nil {
		c.Loader = document.NewLoader(document.Config{Logger: c.Logger})
	}
	if c.Assembler == nil {
		c.Assembler = assemble.New(assemble.Config{Logger: c.Logger})
	}
}

// FileResult reports one file of an AddFiles batch.
type FileResult struct {
	Name     string
	Document document.ID
	Pages    []catalog.RefID
	Err      error
}

// Session is one user's editing state. Edits apply synchronously under its
// lock; loads and terminal operations run as tasks bound to its lifetime.
type Session struct {
	id     string
	cfg    Config
	log    observability.Logger
	thumbs *thumbnail.Requestor

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	// term admits one merge or extract at a time.
	term chan struct{}

	mu      sync.Mutex
	catalog *catalog.Catalog
	gen     uint64
	closed  bool

	lastUsed atomic.Int64
}

// New returns an empty session. Close it to cancel its tasks and release
// its documents.
func New(id string, cfg Config) *Session {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		cfg:    cfg,
		log:    cfg.Logger.With(observability.String("session", id)),
		ctx:    ctx,
		cancel: cancel,
		term:   make(chan struct{}, 1),
	}
	if cfg.Renderer != nil {
		tc := cfg.Thumbnails
		tc.Logger = observability.OrNop(tc.Logger)
		s.thumbs = thumbnail.New(cfg.Renderer, tc)
	}
	s.setCatalog(catalog.New())
	s.touch()
	return s
}

func (s *Session) ID() string { return s.id }

// LastUsed reports when the session was last touched by any operation.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// setCatalog installs c; callers hold mu or own s exclusively.
func (s *Session) setCatalog(c *catalog.Catalog) {
	c.OnEvict = func(doc *document.Document) {
		s.log.Debug("document evicted", observability.String("file", doc.Name()))
	}
	s.catalog = c
	if s.thumbs != nil {
		s.thumbs.Flush()
	}
}

// AddFiles loads inputs in the background and appends every page of each
// file that loads. Per-file failures are reported in the results and do not
// affect the other files.
func (s *Session) AddFiles(inputs []document.Input) *Task[[]FileResult] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failed[[]FileResult](ErrClosed)
	}
	s.touch()
	gen := s.gen
	return start(s.ctx, &s.tasks, func(ctx context.Context) ([]FileResult, error) {
		results := s.cfg.Loader.LoadBatch(ctx, inputs)
		return s.install(ctx, gen, results)
	})
}

// install adds loaded documents to the catalog. A load whose session
// changed, or whose task was cancelled, changes nothing: its documents are
// released and every file reports the reason.
func (s *Session) install(ctx context.Context, gen uint64, results []document.Result) ([]FileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var discard error
	switch {
	case s.closed || s.gen != gen:
		discard = ErrStale
	case ctx.Err() != nil:
		discard = ctx.Err()
	}

	out := make([]FileResult, len(results))
	for i, r := range results {
		out[i] = FileResult{Name: r.Name, Err: r.Err}
		if r.Doc == nil {
			continue
		}
		if discard != nil {
			r.Doc.Release()
			out[i].Err = discard
			continue
		}
		out[i].Document = r.Doc.ID()
		out[i].Pages, out[i].Err = s.catalog.AddAllPages(r.Doc)
		// the catalog holds its own reference now
		r.Doc.Release()
	}
	if discard != nil {
		s.log.Info("discarded load", observability.Int("files", len(results)), observability.Err(discard))
		return out, discard
	}
	return out, nil
}

// Reset empties the catalog and marks in-flight loads stale.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.catalog.Reset()
	s.setCatalog(catalog.New())
	s.touch()
}

// Close cancels every task, waits for them and releases all documents.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.mu.Unlock()

	s.cancel()
	s.tasks.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.Reset()
	if s.thumbs != nil {
		s.thumbs.Flush()
	}
	s.log.Info("session closed")
}

// Merge assembles every entry in catalog order. Emptiness is checked
// before the task starts.
func (s *Session) Merge() *Task[[]byte] {
	return s.terminal(false)
}

// Extract assembles the selected entries in catalog order.
func (s *Session) Extract() *Task[[]byte] {
	return s.terminal(true)
}

func (s *Session) terminal(selectedOnly bool) *Task[[]byte] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failed[[]byte](ErrClosed)
	}
	s.touch()
	switch {
	case !selectedOnly && s.catalog.Len() == 0:
		return failed[[]byte](assemble.ErrEmptyCatalog)
	case selectedOnly && s.catalog.SelectedCount() == 0:
		return failed[[]byte](assemble.ErrEmptySelection)
	}
	// a snapshot keeps the run independent of edits made while it waits
	snap, err := s.catalog.Clone()
	if err != nil {
		return failed[[]byte](err)
	}
	return start(s.ctx, &s.tasks, func(ctx context.Context) ([]byte, error) {
		defer snap.Reset()
		select {
		case s.term <- struct{}{}:
			defer func() { <-s.term }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if selectedOnly {
			return s.cfg.Assembler.ExtractCatalog(ctx, snap)
		}
		return s.cfg.Assembler.MergeCatalog(ctx, snap)
	})
}

// SaveProject stores a snapshot of the catalog through the codec.
func (s *Session) SaveProject(name, description string) *Task[*project.Project] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failed[*project.Project](ErrClosed)
	}
	if s.cfg.Codec == nil {
		return failed[*project.Project](ErrNoProjectStore)
	}
	s.touch()
	if s.catalog.Len() == 0 {
		return failed[*project.Project](project.ErrEmptyCatalog)
	}
	snap, err := s.catalog.Clone()
	if err != nil {
		return failed[*project.Project](err)
	}
	return start(s.ctx, &s.tasks, func(ctx context.Context) (*project.Project, error) {
		defer snap.Reset()
		return s.cfg.Codec.Save(ctx, snap, name, description)
	})
}

// OpenProject replaces the catalog with the one stored under id. The
// current catalog is kept if loading fails.
func (s *Session) OpenProject(id string) *Task[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failed[int](ErrClosed)
	}
	if s.cfg.Codec == nil {
		return failed[int](ErrNoProjectStore)
	}
	s.touch()
	gen := s.gen
	return start(s.ctx, &s.tasks, func(ctx context.Context) (int, error) {
		c, err := s.cfg.Codec.Load(ctx, id)
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.gen != gen {
			c.Reset()
			return 0, ErrStale
		}
		s.gen++
		s.catalog.Reset()
		s.setCatalog(c)
		return c.Len(), nil
	})
}

// Thumbnail returns the preview of one catalog entry.
func (s *Session) Thumbnail(ctx context.Context, id catalog.RefID) (image.Image, error) {
	req, err := s.thumbnailRequest(id)
	if err != nil {
		return nil, err
	}
	return s.thumbs.Request(ctx, req)
}

// Thumbnails returns whatever previews could be rendered for the whole
// catalog.
func (s *Session) Thumbnails(ctx context.Context) (map[catalog.RefID]image.Image, error) {
	s.mu.Lock()
	if s.thumbs == nil {
		s.mu.Unlock()
		return nil, ErrNoRenderer
	}
	var reqs []thumbnail.Request
	for _, ref := range s.catalog.Entries() {
		doc, _ := s.catalog.Document(ref.DocumentID)
		reqs = append(reqs, thumbnail.Request{Ref: ref.ID, Doc: doc, Index: ref.PageIndex})
	}
	s.mu.Unlock()
	return s.thumbs.RequestMany(ctx, reqs), nil
}

func (s *Session) thumbnailRequest(id catalog.RefID) (thumbnail.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thumbs == nil {
		return thumbnail.Request{}, ErrNoRenderer
	}
	ref, ok := s.catalog.Get(id)
	if !ok {
		return thumbnail.Request{}, fmt.Errorf("thumbnail %v: %w", id, catalog.ErrUnknownPageRef)
	}
	doc, _ := s.catalog.Document(ref.DocumentID)
	s.touch()
	return thumbnail.Request{Ref: ref.ID, Doc: doc, Index: ref.PageIndex}, nil
}
