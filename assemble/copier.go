package assemble

import (
	"context"
	"errors"
	"sort"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/parser"
	"github.com/wudi/pagekit/writer"
)

// letter is the MediaBox used when a page tree supplies none.
var letter = raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberInt(792))

// A copier moves objects of one source document into the output. Every
// source object is copied at most once; later references reuse the new
// number, so resources shared between pages stay shared.
type copier struct {
	loader parser.ObjectLoader
	out    *writer.Document
	trans  map[raw.ObjectRef]raw.ObjectRef
	// dropped holds references that are written as null: page tree nodes
	// and pages that are not part of the output, the source catalog, and
	// dangling references.
	dropped map[raw.ObjectRef]bool
	leaves  map[raw.ObjectRef]bool
	visits  int
}

func newCopier(src *parser.Document, out *writer.Document) *copier {
	leaves := make(map[raw.ObjectRef]bool, len(src.Pages))
	for _, p := range src.Pages {
		leaves[p.Ref] = true
	}
	return &copier{
		loader:  src.Loader,
		out:     out,
		trans:   make(map[raw.ObjectRef]raw.ObjectRef),
		dropped: make(map[raw.ObjectRef]bool),
		leaves:  leaves,
	}
}

// redirect makes references to a source page resolve to its copy. The
// first copy of a page wins when it appears more than once.
func (c *copier) redirect(from, to raw.ObjectRef) {
	if _, ok := c.trans[from]; !ok {
		c.trans[from] = to
	}
}

// copyPage builds the output dictionary for one page written as self.
// Inherited attributes are written onto the page itself since the output
// tree is flat.
func (c *copier) copyPage(ctx context.Context, page parser.Page, self, parent raw.ObjectRef) (*raw.DictObj, error) {
	out := raw.Dict()
	for _, k := range sortedKeys(page.Dict) {
		var (
			v   raw.Object
			err error
		)
		switch k {
		case "Parent", "Resources", "MediaBox", "CropBox", "Rotate":
			continue
		case "Annots":
			v, err = c.copyAnnots(ctx, page.Dict.KV[k], page.Ref, self)
		default:
			v, err = c.copy(ctx, page.Dict.KV[k])
		}
		if err != nil {
			return nil, err
		}
		out.Set(k, v)
	}
	out.Set("Type", raw.NameLiteral("Page"))
	out.Set("Parent", raw.RefObj{R: parent})

	res := raw.Object(raw.Dict())
	if page.Resources != nil {
		var err error
		if res, err = c.copy(ctx, page.Resources); err != nil {
			return nil, err
		}
	}
	out.Set("Resources", res)

	box := raw.Object(raw.Clone(letter))
	if page.MediaBox != nil {
		var err error
		if box, err = c.copy(ctx, page.MediaBox); err != nil {
			return nil, err
		}
	}
	out.Set("MediaBox", box)

	if page.CropBox != nil {
		crop, err := c.copy(ctx, page.CropBox)
		if err != nil {
			return nil, err
		}
		out.Set("CropBox", crop)
	}
	if page.Rotate != 0 {
		out.Set("Rotate", raw.NumberInt(int64(page.Rotate)))
	}
	return out, nil
}

// copyAnnots copies a page's annotations afresh for every output page. An
// annotation has a single page, so a page placed twice needs two sets, each
// with /P and popup links pointing into its own page.
func (c *copier) copyAnnots(ctx context.Context, annots raw.Object, src, self raw.ObjectRef) (raw.Object, error) {
	if r, ok := annots.(raw.RefObj); ok {
		obj, err := c.loader.Load(ctx, r.R)
		if err != nil {
			if errors.Is(err, parser.ErrObjectNotFound) {
				return raw.NullObj{}, nil
			}
			return nil, err
		}
		annots = obj
	}
	arr, ok := annots.(*raw.ArrayObj)
	if !ok {
		return c.copy(ctx, annots)
	}

	// Bindings are undone afterwards so the next instance of the page
	// gets its own numbers.
	type binding struct {
		ref, old raw.ObjectRef
		had      bool
	}
	var undo []binding
	bind := func(from, to raw.ObjectRef) {
		old, had := c.trans[from]
		undo = append(undo, binding{ref: from, old: old, had: had})
		c.trans[from] = to
	}
	defer func() {
		for i := len(undo) - 1; i >= 0; i-- {
			if b := undo[i]; b.had {
				c.trans[b.ref] = b.old
			} else {
				delete(c.trans, b.ref)
			}
		}
	}()

	bind(src, self)
	var own []raw.ObjectRef
	seen := make(map[raw.ObjectRef]bool)
	for _, item := range arr.Items {
		r, ok := item.(raw.RefObj)
		if !ok || seen[r.R] || c.dropped[r.R] {
			continue
		}
		seen[r.R] = true
		bind(r.R, c.out.Alloc())
		own = append(own, r.R)
	}
	for _, ref := range own {
		to := c.trans[ref]
		obj, err := c.loader.Load(ctx, ref)
		if errors.Is(err, parser.ErrObjectNotFound) {
			c.out.Set(to, raw.NullObj{})
			continue
		}
		if err != nil {
			return nil, err
		}
		cp, err := c.copy(ctx, obj)
		if err != nil {
			return nil, err
		}
		c.out.Set(to, cp)
	}
	return c.copy(ctx, arr)
}

func (c *copier) copy(ctx context.Context, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case nil:
		return raw.NullObj{}, nil
	case raw.RefObj:
		return c.copyRef(ctx, v.R)
	case *raw.DictObj:
		return c.copyDict(ctx, v, "")
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			cp, err := c.copy(ctx, item)
			if err != nil {
				return nil, err
			}
			out.Items[i] = cp
		}
		return out, nil
	case *raw.StreamObj:
		// /Length is rewritten by the writer; an indirect one would only
		// drag a stray number object along.
		dict, err := c.copyDict(ctx, v.Dict, "Length")
		if err != nil {
			return nil, err
		}
		return raw.NewStream(dict, v.Data), nil
	default:
		return raw.Clone(obj), nil
	}
}

func (c *copier) copyDict(ctx context.Context, d *raw.DictObj, skip string) (*raw.DictObj, error) {
	out := raw.Dict()
	if d == nil {
		return out, nil
	}
	for _, k := range sortedKeys(d) {
		if k == skip {
			continue
		}
		cp, err := c.copy(ctx, d.KV[k])
		if err != nil {
			return nil, err
		}
		out.Set(k, cp)
	}
	return out, nil
}

func (c *copier) copyRef(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if to, ok := c.trans[ref]; ok {
		return raw.RefObj{R: to}, nil
	}
	if c.dropped[ref] {
		return raw.NullObj{}, nil
	}
	c.visits++
	if c.visits%64 == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	obj, err := c.loader.Load(ctx, ref)
	if err != nil {
		if errors.Is(err, parser.ErrObjectNotFound) {
			c.dropped[ref] = true
			return raw.NullObj{}, nil
		}
		return nil, err
	}
	if c.structural(ref, obj) {
		c.dropped[ref] = true
		return raw.NullObj{}, nil
	}

	to := c.out.Alloc()
	c.trans[ref] = to
	cp, err := c.copy(ctx, obj)
	if err != nil {
		return nil, err
	}
	c.out.Set(to, cp)
	return raw.RefObj{R: to}, nil
}

// structural reports whether obj belongs to the source document's page
// tree or catalog. Following such a reference would pull the whole source
// file into the output.
func (c *copier) structural(ref raw.ObjectRef, obj raw.Object) bool {
	if c.leaves[ref] {
		return true
	}
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	switch t, _ := d.Name("Type"); t {
	case "Page", "Pages", "Catalog":
		return true
	}
	return false
}

func sortedKeys(d *raw.DictObj) []string {
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
