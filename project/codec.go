// Package project saves page catalogs together with their source files and
// rebuilds them later. Storage is delegated to a Store.
package project

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wudi/pagekit/catalog"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/observability"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Loader parses downloaded files. Default: a loader with default limits.
	Loader *document.Loader
	// Concurrency bounds parallel downloads on Load. Default: 4.
	Concurrency int
	Logger      observability.Logger
	Tracer      observability.Tracer
}

// Project describes a stored project.
type Project struct {
	Summary
	Files []FileMeta
	Pages []PageMeta
}

// SelectedCount returns how many stored entries are selected.
func (p *Project) SelectedCount() int {
	n := 0
	for _, pg := range p.Pages {
		if pg.Selected {
			n++
		}
	}
	return n
}

type Codec struct {
	store Store
	cfg   Config
}

func NewCodec(store Store, cfg Config) *Codec {
	cfg.Logger = observability.OrNop(cfg.Logger)
	cfg.Tracer = observability.TracerOrNop(cfg.Tracer)
	if cfg.Loader == nil {
		cfg.Loader = document.NewLoader(document.Config{Logger: cfg.Logger, Tracer: cfg.Tracer})
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Codec{store: store, cfg: cfg}
}

// Save stores every document referenced by c plus a snapshot of its order
// and selection.
func (k *Codec) Save(ctx context.Context, c *catalog.Catalog, name, description string) (p *Project, err error) {
	ctx, span := k.cfg.Tracer.StartSpan(ctx, observability.SpanProjectSave)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	if c.Len() == 0 {
		return nil, ErrEmptyCatalog
	}

	meta := Metadata{Version: metadataVersion}
	refs := make(map[document.ID]string)
	var files []File
	for i, doc := range c.Documents() {
		data := doc.Bytes()
		if data == nil {
			return nil, fmt.Errorf("save %q: %s: %w", name, doc.Name(), document.ErrReleased)
		}
		ref := fileRef(i, doc.Name())
		refs[doc.ID()] = ref
		files = append(files, File{Name: ref, Data: data})
		meta.Files = append(meta.Files, FileMeta{
			Ref:       ref,
			Name:      doc.Name(),
			PageCount: doc.PageCount(),
			Size:      doc.Size(),
			Digest:    doc.Digest(),
		})
	}
	for _, e := range c.Entries() {
		meta.Pages = append(meta.Pages, PageMeta{File: refs[e.DocumentID], Page: e.PageIndex, Selected: e.Selected})
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	id, err := k.store.Create(ctx, name, description, files, blob)
	if err != nil {
		return nil, storageErr("save", fmt.Sprintf("%q", name), err)
	}
	k.cfg.Logger.Info("project saved",
		observability.String("project", id),
		observability.Int("files", len(files)),
		observability.Int("pages", len(meta.Pages)))
	return k.Describe(ctx, id)
}

// Describe returns the stored summary and snapshot of a project without
// touching its files.
func (k *Codec) Describe(ctx context.Context, id string) (*Project, error) {
	rec, err := k.store.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get", id, err)
	}
	meta, err := DecodeMetadata(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", id, err)
	}
	return &Project{Summary: rec.Summary, Files: meta.Files, Pages: meta.Pages}, nil
}

// Load rebuilds the catalog saved under id. Every stored file is parsed
// again and must still have its recorded page count. On any failure no
// catalog is returned and every loaded document is released.
func (k *Codec) Load(ctx context.Context, id string) (c *catalog.Catalog, err error) {
	ctx, span := k.cfg.Tracer.StartSpan(ctx, observability.SpanProjectLoad)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	span.SetTag("project", id)

	p, err := k.Describe(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := k.fetch(ctx, id, p.Files)
	// the catalog takes its own references; these are the load references
	defer func() {
		for _, d := range docs {
			if d != nil {
				d.Release()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	byRef := make(map[string]*document.Document, len(docs))
	for i, f := range p.Files {
		doc := docs[i]
		if doc.PageCount() != f.PageCount {
			return nil, &MismatchError{File: f.Name, Recorded: f.PageCount, Actual: doc.PageCount()}
		}
		if f.Digest != "" && doc.Digest() != f.Digest {
			k.cfg.Logger.Warn("stored file changed but kept its page count",
				observability.String("project", id),
				observability.String("file", f.Name))
		}
		byRef[f.Ref] = doc
	}

	c = catalog.New()
	for _, pg := range p.Pages {
		ids, err := c.AddPages(byRef[pg.File], []int{pg.Page})
		if err != nil {
			c.Reset()
			return nil, err
		}
		if !pg.Selected {
			_ = c.SetSelection(ids[0], false)
		}
	}
	k.cfg.Logger.Info("project loaded",
		observability.String("project", id),
		observability.Int("files", len(docs)),
		observability.Int("pages", c.Len()))
	return c, nil
}

// fetch downloads and parses files in parallel. The returned slice is
// index-aligned with files; entries are nil for files that never loaded.
func (k *Codec) fetch(ctx context.Context, id string, files []FileMeta) ([]*document.Document, error) {
	docs := make([]*document.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.cfg.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			data, err := k.store.Download(gctx, id, f.Ref)
			if err != nil {
				return storageErr("download", id+"/"+f.Ref, err)
			}
			doc, err := k.cfg.Loader.Load(gctx, f.Name, data)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	return docs, g.Wait()
}

// List returns the stored projects.
func (k *Codec) List(ctx context.Context) ([]Summary, error) {
	list, err := k.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w: %w", ErrStorageFailure, err)
	}
	return list, nil
}

func (k *Codec) Delete(ctx context.Context, id string) error {
	if err := k.store.Delete(ctx, id); err != nil {
		return storageErr("delete", id, err)
	}
	k.cfg.Logger.Info("project deleted", observability.String("project", id))
	return nil
}
