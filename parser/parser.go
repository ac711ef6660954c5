// Package parser turns PDF bytes into a lazily loaded object graph and a
// flattened page list with inherited attributes applied.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/security"
	"github.com/wudi/pagekit/xref"
	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrEncrypted is returned for documents carrying an /Encrypt dictionary.
	ErrEncrypted = errors.New("document is encrypted")
	// ErrNotPDF is returned when the data has no %PDF- header.
	ErrNotPDF = errors.New("missing %PDF header")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
	Cache    Cache
	Logger   observability.Logger
}

// Document is a parsed source file. Objects are loaded on demand through
// Loader; Pages is the document order of leaf page objects.
type Document struct {
	Version    string
	Trailer    *raw.DictObj
	Root       raw.ObjectRef
	Encryption security.EncryptionInfo
	Info       map[string]string
	Pages      []Page
	Repaired   bool
	Loader     ObjectLoader
}

func (d *Document) PageCount() int { return len(d.Pages) }

// Page is a leaf of the page tree. Resources, MediaBox, CropBox and Rotate
// hold the effective values after inheritance from ancestor /Pages nodes
// (nil when absent everywhere).
type Page struct {
	Ref       raw.ObjectRef
	Dict      *raw.DictObj
	Resources raw.Object
	MediaBox  raw.Object
	CropBox   raw.Object
	Rotate    int
}

// DocumentParser builds a Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Limits == (security.Limits{}) {
		cfg.XRef.Limits = cfg.Limits
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	start := time.Now()
	version, err := detectHeaderVersion(data)
	if err != nil {
		return nil, err
	}

	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithRecovery(p.cfg.Recovery).
		WithCache(p.cfg.Cache).
		Build()
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:  version,
		Trailer:  resolver.Trailer(),
		Repaired: resolver.Repaired(),
		Loader:   loader,
	}
	doc.Encryption = security.Inspect(doc.Trailer, func(ref raw.ObjectRef) (raw.Object, error) {
		return loader.Load(ctx, ref)
	})
	if doc.Encryption.Encrypted {
		return doc, fmt.Errorf("%w (%s)", ErrEncrypted, doc.Encryption)
	}

	root, ok := doc.Trailer.RefTo("Root")
	if !ok {
		return nil, errors.New("trailer /Root is not a reference")
	}
	doc.Root = root
	catalog, err := p.dict(ctx, loader, raw.RefObj{R: root})
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if catalog == nil {
		return nil, errors.New("document catalog is not a dictionary")
	}
	if v, ok := catalog.Name("Version"); ok && v > version {
		doc.Version = v
	}

	pagesObj, ok := catalog.Get("Pages")
	if !ok {
		return nil, errors.New("catalog has no /Pages")
	}
	w := &treeWalker{p: p, loader: loader, visited: make(map[raw.ObjectRef]bool)}
	if err := w.walk(ctx, pagesObj, inherited{}, 0); err != nil {
		return nil, fmt.Errorf("page tree: %w", err)
	}
	doc.Pages = w.pages
	doc.Info = p.info(ctx, loader, doc.Trailer)

	p.cfg.Logger.Debug("parsed pdf",
		observability.String("version", doc.Version),
		observability.Int("pages", len(doc.Pages)),
		observability.Bool("repaired", doc.Repaired),
		observability.Duration(observability.MetricParseTime, time.Since(start)))
	return doc, nil
}

// inherited carries the attributes a page may take from its ancestors.
type inherited struct {
	resources raw.Object
	mediaBox  raw.Object
	cropBox   raw.Object
	rotate    raw.Object
}

func (in inherited) override(ctx context.Context, loader ObjectLoader, d *raw.DictObj) (inherited, error) {
	out := in
	for key, slot := range map[string]*raw.Object{
		"Resources": &out.resources,
		"MediaBox":  &out.mediaBox,
		"CropBox":   &out.cropBox,
		"Rotate":    &out.rotate,
	} {
		v, ok := d.Get(key)
		if !ok {
			continue
		}
		// Rotate must be read as a number; the rest stay as written so
		// references can be copied rather than inlined.
		if key == "Rotate" {
			resolved, err := loader.Deref(ctx, v)
			if err != nil {
				return out, err
			}
			v = resolved
		}
		*slot = v
	}
	return out, nil
}

type treeWalker struct {
	p       *DocumentParser
	loader  ObjectLoader
	visited map[raw.ObjectRef]bool
	pages   []Page
}

func (w *treeWalker) walk(ctx context.Context, node raw.Object, in inherited, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > w.p.cfg.Limits.MaxPageTreeDepth {
		return fmt.Errorf("deeper than %d levels", w.p.cfg.Limits.MaxPageTreeDepth)
	}
	ref, isRef := node.(raw.RefObj)
	if isRef {
		if w.visited[ref.R] {
			err := fmt.Errorf("node %v visited twice", ref.R)
			if !recovery.Allows(ctx, w.p.cfg.Recovery, err, recovery.Location{ObjectNum: ref.R.Num, ObjectGen: ref.R.Gen, Component: "pagetree"}) {
				return err
			}
			return nil
		}
		w.visited[ref.R] = true
	}
	dict, err := w.p.dict(ctx, w.loader, node)
	if err != nil {
		return err
	}
	if dict == nil {
		err := fmt.Errorf("node %v is not a dictionary", node)
		if !recovery.Allows(ctx, w.p.cfg.Recovery, err, recovery.Location{Component: "pagetree"}) {
			return err
		}
		return nil
	}
	next, err := in.override(ctx, w.loader, dict)
	if err != nil {
		return err
	}

	typ, _ := dict.Name("Type")
	kidsObj, hasKids := dict.Get("Kids")
	if typ == "Page" || (typ != "Pages" && !hasKids) {
		if !isRef {
			return errors.New("page object is not indirect")
		}
		w.pages = append(w.pages, Page{
			Ref:       ref.R,
			Dict:      dict,
			Resources: next.resources,
			MediaBox:  next.mediaBox,
			CropBox:   next.cropBox,
			Rotate:    normalizeRotate(next.rotate),
		})
		return nil
	}

	kidsResolved, err := w.loader.Deref(ctx, kidsObj)
	if err != nil {
		return err
	}
	kids, ok := kidsResolved.(*raw.ArrayObj)
	if !ok {
		if hasKids {
			return fmt.Errorf("/Kids of %v is %s, want array", node, kidsResolved.Type())
		}
		return nil
	}
	for _, kid := range kids.Items {
		if err := w.walk(ctx, kid, next, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func normalizeRotate(obj raw.Object) int {
	n, ok := obj.(raw.NumberObj)
	if !ok {
		return 0
	}
	r := int(n.Int()) % 360
	if r < 0 {
		r += 360
	}
	return r - r%90
}

func (p *DocumentParser) dict(ctx context.Context, loader ObjectLoader, obj raw.Object) (*raw.DictObj, error) {
	resolved, err := loader.Deref(ctx, obj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case *raw.DictObj:
		return v, nil
	case *raw.StreamObj:
		return v.Dict, nil
	}
	return nil, nil
}

// info reads the text entries of the trailer /Info dictionary. Failures
// are logged and yield an empty map.
func (p *DocumentParser) info(ctx context.Context, loader ObjectLoader, trailer *raw.DictObj) map[string]string {
	out := make(map[string]string)
	infoObj, ok := trailer.Get("Info")
	if !ok {
		return out
	}
	info, err := p.dict(ctx, loader, infoObj)
	if err != nil || info == nil {
		p.cfg.Logger.Warn("unreadable /Info dictionary", observability.Err(err))
		return out
	}
	for key, v := range info.KV {
		resolved, err := loader.Deref(ctx, v)
		if err != nil {
			continue
		}
		if s, ok := resolved.(raw.StringObj); ok {
			out[key] = decodeText(s.Bytes)
		}
	}
	return out
}

// decodeText handles UTF-16BE text strings; anything else is returned as is.
func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	return string(b)
}

var headerRe = regexp.MustCompile(`%PDF-(\d\.\d)`)

// detectHeaderVersion finds the %PDF-x.y marker within the first KiB, as
// readers tolerate leading garbage.
func detectHeaderVersion(data []byte) (string, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return "", ErrNotPDF
	}
	m := headerRe.FindSubmatch(head)
	if m == nil {
		return "", fmt.Errorf("%w: unreadable version", ErrNotPDF)
	}
	return string(m[1]), nil
}
