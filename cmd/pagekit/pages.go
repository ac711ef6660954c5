package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/pagekit/catalog"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/internal/pagespec"
	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/thumbnail"
)

// input is one FILE[:PAGES] argument.
type input struct {
	path  string
	pages string
}

func parseInput(arg string) input {
	if i := strings.LastIndexByte(arg, ':'); i > 0 && i < len(arg)-1 && pagespec.Valid(arg[i+1:]) {
		return input{path: arg[:i], pages: arg[i+1:]}
	}
	return input{path: arg}
}

// loadCatalog loads every argument and appends its pages to a new
// catalog. Any file failing to load aborts the command.
func loadCatalog(ctx context.Context, e *env, args []string) (*catalog.Catalog, error) {
	if len(args) == 0 {
		return nil, usagef("no input files")
	}
	ins := make([]input, len(args))
	batch := make([]document.Input, len(args))
	for i, arg := range args {
		ins[i] = parseInput(arg)
		data, err := os.ReadFile(ins[i].path)
		if err != nil {
			return nil, err
		}
		batch[i] = document.Input{Name: filepath.Base(ins[i].path), Data: data}
	}

	results := e.loader.LoadBatch(ctx, batch)
	release := func() {
		for _, r := range results {
			if r.Doc != nil {
				r.Doc.Release()
			}
		}
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	if len(errs) > 0 {
		release()
		return nil, errors.Join(errs...)
	}

	c := catalog.New()
	for i, r := range results {
		indices, err := pagespec.Parse(ins[i].pages, r.Doc.PageCount())
		if err == nil {
			_, err = c.AddPages(r.Doc, indices)
		}
		if err != nil {
			c.Reset()
			release()
			return nil, fmt.Errorf("%s: %w", ins[i].path, err)
		}
	}
	// the catalog holds its own references now
	release()
	return c, nil
}

type fileInfo struct {
	Name    string            `json:"name"`
	Pages   int               `json:"pages"`
	Version string            `json:"version"`
	Size    int64             `json:"size"`
	Digest  string            `json:"digest"`
	Info    map[string]string `json:"info,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func runInfo(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return usagef("no input files")
	}
	batch := make([]document.Input, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		batch[i] = document.Input{Name: filepath.Base(path), Data: data}
	}
	report := make([]fileInfo, 0, len(args))
	failed := 0
	for _, r := range e.loader.LoadBatch(ctx, batch) {
		if r.Err != nil {
			failed++
			report = append(report, fileInfo{Name: r.Name, Error: r.Err.Error()})
			continue
		}
		report = append(report, fileInfo{
			Name:    r.Doc.Name(),
			Pages:   r.Doc.PageCount(),
			Version: r.Doc.Version(),
			Size:    r.Doc.Size(),
			Digest:  r.Doc.Digest(),
			Info:    r.Doc.Info(),
		})
		r.Doc.Release()
	}
	if err := emit(e.stdout, report); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be loaded", failed, len(args))
	}
	return nil
}

func runMerge(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	out := fs.String("o", "", "Output path, - for stdout")
	acfg := outputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if *out == "" {
		return usagef("-o is required")
	}
	c, err := loadCatalog(ctx, e, fs.Args())
	if err != nil {
		return err
	}
	defer c.Reset()
	data, err := newAssembler(e, acfg).MergeCatalog(ctx, c)
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

func runExtract(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	out := fs.String("o", "", "Output path, - for stdout")
	sel := fs.String("select", "", "Pages to keep, numbered across all inputs")
	acfg := outputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if *out == "" || *sel == "" {
		return usagef("-o and -select are required")
	}
	c, err := loadCatalog(ctx, e, fs.Args())
	if err != nil {
		return err
	}
	defer c.Reset()
	if err := selectPages(c, *sel); err != nil {
		return err
	}
	data, err := newAssembler(e, acfg).ExtractCatalog(ctx, c)
	if err != nil {
		return err
	}
	return writeOutput(*out, data)
}

// selectPages leaves exactly the catalog positions named by ranges selected.
func selectPages(c *catalog.Catalog, ranges string) error {
	positions, err := pagespec.Parse(ranges, c.Len())
	if err != nil {
		return err
	}
	entries := c.Entries()
	c.DeselectAll()
	for _, p := range positions {
		if err := c.SetSelection(entries[p].ID, true); err != nil {
			return err
		}
	}
	return nil
}

func runThumbs(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("thumbs", flag.ContinueOnError)
	dir := fs.String("out", "thumbs", "Directory for PNG files")
	scale := fs.Float64("scale", 0.25, "Preview scale relative to 72 dpi")
	maxW := fs.Int("max-width", 0, "Shrink previews wider than this")
	maxH := fs.Int("max-height", 0, "Shrink previews taller than this")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	c, err := loadCatalog(ctx, e, fs.Args())
	if err != nil {
		return err
	}
	defer c.Reset()
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return err
	}

	q := thumbnail.New(thumbnail.Placeholder{}, thumbnail.Config{
		Scale:     *scale,
		MaxWidth:  *maxW,
		MaxHeight: *maxH,
		Logger:    e.log,
	})
	entries := c.Entries()
	reqs := make([]thumbnail.Request, len(entries))
	for i, ref := range entries {
		doc, _ := c.Document(ref.DocumentID)
		reqs[i] = thumbnail.Request{Ref: ref.ID, Doc: doc, Index: ref.PageIndex}
	}
	images := q.RequestMany(ctx, reqs)
	for i, ref := range entries {
		img, ok := images[ref.ID]
		if !ok {
			continue
		}
		doc := reqs[i].Doc
		name := fmt.Sprintf("%03d-%s-p%d.png", i+1, strings.TrimSuffix(doc.Name(), filepath.Ext(doc.Name())), ref.PageIndex+1)
		if err := writePNG(filepath.Join(*dir, name), img); err != nil {
			return err
		}
	}
	e.log.Info("thumbnails written", observability.Int("count", len(images)), observability.Int("pages", len(entries)))
	if len(images) < len(entries) {
		return fmt.Errorf("%d of %d previews failed", len(entries)-len(images), len(entries))
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
