// Package assemble produces new PDF files from pages of loaded documents.
// Merge emits every page it is given; Extract emits only the selected ones.
// Both copy pages structurally: content streams and the resources they
// reach are carried over byte for byte.
package assemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wudi/pagekit/catalog"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/writer"
)

var (
	// ErrEmptyCatalog is returned by Merge when there are no pages at all.
	ErrEmptyCatalog = errors.New("catalog is empty")
	// ErrEmptySelection is returned by Extract when no page is selected.
	ErrEmptySelection = errors.New("no pages selected")
)

// Page names one source page. Index is 0-based.
type Page struct {
	Doc      *document.Document
	Index    int
	Selected bool
}

type Config struct {
	// Output configures serialization. When Output.Version is empty the
	// highest version among the source documents is used.
	Output writer.Config
	// Deduplicate folds identical objects, such as the same font program
	// embedded by several sources, before writing.
	Deduplicate bool
	Logger      observability.Logger
	Tracer      observability.Tracer
}

type Assembler struct {
	cfg    Config
	writer writer.Writer
}

func New(cfg Config) *Assembler {
	cfg.Logger = observability.OrNop(cfg.Logger)
	cfg.Tracer = observability.TracerOrNop(cfg.Tracer)
	return &Assembler{cfg: cfg, writer: writer.New()}
}

// WithWriter replaces the serializer, typically with one carrying
// interceptors.
func (a *Assembler) WithWriter(w writer.Writer) *Assembler {
	a.writer = w
	return a
}

// Merge returns a PDF holding every page in order.
func (a *Assembler) Merge(ctx context.Context, pages []Page) ([]byte, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyCatalog
	}
	return a.run(ctx, observability.SpanMerge, pages)
}

// Extract returns a PDF holding the selected pages in their relative order.
func (a *Assembler) Extract(ctx context.Context, pages []Page) ([]byte, error) {
	selected := make([]Page, 0, len(pages))
	for _, p := range pages {
		if p.Selected {
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}
	return a.run(ctx, observability.SpanExtract, selected)
}

// MergeCatalog merges every entry of c in catalog order.
func (a *Assembler) MergeCatalog(ctx context.Context, c *catalog.Catalog) ([]byte, error) {
	if c.Len() == 0 {
		return nil, ErrEmptyCatalog
	}
	pages, err := Pages(c)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, observability.SpanMerge, pages)
}

// ExtractCatalog emits the selected entries of c in catalog order.
func (a *Assembler) ExtractCatalog(ctx context.Context, c *catalog.Catalog) ([]byte, error) {
	if c.SelectedCount() == 0 {
		return nil, ErrEmptySelection
	}
	pages, err := Pages(c)
	if err != nil {
		return nil, err
	}
	return a.Extract(ctx, pages)
}

// Pages resolves the entries of c into Page values, in catalog order.
func Pages(c *catalog.Catalog) ([]Page, error) {
	entries := c.Entries()
	pages := make([]Page, 0, len(entries))
	for _, ref := range entries {
		doc, ok := c.Document(ref.DocumentID)
		if !ok {
			return nil, fmt.Errorf("%v: %w", ref.ID, catalog.ErrUnknownDocument)
		}
		pages = append(pages, Page{Doc: doc, Index: ref.PageIndex, Selected: ref.Selected})
	}
	return pages, nil
}

func (a *Assembler) run(ctx context.Context, spanName string, pages []Page) (out []byte, err error) {
	ctx, span := a.cfg.Tracer.StartSpan(ctx, spanName)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	span.SetTag("pages", len(pages))
	start := time.Now()

	docs, err := retainAll(pages)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, d := range docs {
			d.Release()
		}
	}()

	doc, version, err := build(ctx, pages)
	if err != nil {
		return nil, err
	}
	if a.cfg.Deduplicate {
		n, err := dedupe(ctx, doc)
		if err != nil {
			return nil, err
		}
		a.cfg.Logger.Debug("folded duplicate objects", observability.Int("objects", n))
	}
	cfg := a.cfg.Output
	if cfg.Version == "" {
		cfg.Version = version
	}
	var buf bytes.Buffer
	if err := a.writer.Write(ctx, doc, &buf, cfg); err != nil {
		return nil, err
	}

	a.cfg.Logger.Info("assembled document",
		observability.String("op", spanName),
		observability.Int("pages", len(pages)),
		observability.Int("documents", len(docs)),
		observability.Int("objects", doc.Len()),
		observability.Int("bytes", buf.Len()),
		observability.Duration("elapsed", time.Since(start)))
	return buf.Bytes(), nil
}

// retainAll takes one reference on every distinct document for the
// duration of a run.
func retainAll(pages []Page) ([]*document.Document, error) {
	seen := make(map[document.ID]bool)
	var docs []*document.Document
	for _, p := range pages {
		if p.Doc == nil {
			return nil, fmt.Errorf("page %d: %w", p.Index, document.ErrInvalidDocument)
		}
		if seen[p.Doc.ID()] {
			continue
		}
		if err := p.Doc.Retain(); err != nil {
			for _, d := range docs {
				d.Release()
			}
			return nil, fmt.Errorf("%s: %w", p.Doc.Name(), err)
		}
		seen[p.Doc.ID()] = true
		docs = append(docs, p.Doc)
	}
	return docs, nil
}

// build copies pages into a fresh object table with a flat page tree.
func build(ctx context.Context, pages []Page) (*writer.Document, writer.PDFVersion, error) {
	out := writer.NewDocument()
	root := out.Alloc()
	tree := out.Alloc()
	version := writer.PDF14

	// Page numbers are reserved up front so links between copied pages can
	// be redirected regardless of the order they are copied in.
	refs := make([]raw.ObjectRef, len(pages))
	copiers := make(map[document.ID]*copier)
	for i, p := range pages {
		refs[i] = out.Alloc()
		cp, ok := copiers[p.Doc.ID()]
		if !ok {
			src, err := p.Doc.Source()
			if err != nil {
				return nil, "", err
			}
			cp = newCopier(src, out)
			copiers[p.Doc.ID()] = cp
			if v := writer.PDFVersion(p.Doc.Version()); v > version {
				version = v
			}
		}
		srcPage, err := p.Doc.Page(p.Index)
		if err != nil {
			return nil, "", err
		}
		cp.redirect(srcPage.Ref, refs[i])
	}

	kids := raw.NewArray()
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		srcPage, _ := p.Doc.Page(p.Index)
		dict, err := copiers[p.Doc.ID()].copyPage(ctx, srcPage, refs[i], tree)
		if err != nil {
			return nil, "", fmt.Errorf("%s page %d: %w", p.Doc.Name(), p.Index+1, err)
		}
		out.Set(refs[i], dict)
		kids.Append(raw.RefObj{R: refs[i]})
	}

	node := raw.Dict()
	node.Set("Type", raw.NameLiteral("Pages"))
	node.Set("Kids", kids)
	node.Set("Count", raw.NumberInt(int64(len(pages))))
	out.Set(tree, node)

	cat := raw.Dict()
	cat.Set("Type", raw.NameLiteral("Catalog"))
	cat.Set("Pages", raw.RefObj{R: tree})
	out.Set(root, cat)
	out.Root = root
	return out, version, nil
}
