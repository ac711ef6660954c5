// Package catalog holds the ordered, editable list of page references that
// defines what a merge or extract emits.
//
// A Catalog is not safe for concurrent use; callers that share one across
// goroutines serialize access themselves.
package catalog

import (
	"errors"
	"fmt"

	"github.com/wudi/pagekit/document"
)

var (
	// ErrUnknownPageRef is returned for ids not present in the catalog.
	ErrUnknownPageRef = errors.New("unknown page reference")
	// ErrUnknownDocument is returned for documents the catalog does not track.
	ErrUnknownDocument = errors.New("unknown document")
)

// RefID identifies a PageRef. Ids are never reused within a catalog.
type RefID uint64

func (id RefID) String() string { return fmt.Sprintf("ref-%d", uint64(id)) }

// PageRef points at one page of one source document.
type PageRef struct {
	ID         RefID
	DocumentID document.ID
	PageIndex  int
	Selected   bool
}

type trackedDoc struct {
	doc  *document.Document
	refs int
}

// Catalog is the ordered working set of page references. It is not safe for
// concurrent use; callers serialize access.
type Catalog struct {
	// OnEvict, when set, is called after a document lost its last page
	// reference and was released.
	OnEvict func(doc *document.Document)

	next  RefID
	refs  map[RefID]*PageRef
	order []RefID
	docs  map[document.ID]*trackedDoc
}

// New returns an empty catalog whose RefIDs start at 1.
func New() *Catalog {
	return &Catalog{
		refs: make(map[RefID]*PageRef),
		docs: make(map[document.ID]*trackedDoc),
	}
}

// AddAllPages appends one selected PageRef per page of doc in page order.
func (c *Catalog) AddAllPages(doc *document.Document) ([]RefID, error) {
	indices := make([]int, doc.PageCount())
	for i := range indices {
		indices[i] = i
	}
	return c.AddPages(doc, indices)
}

// AddPages appends one selected PageRef per index, in the given order.
// Indices are 0-based and validated before anything is added. The catalog
// takes its own reference on doc the first time it sees it.
func (c *Catalog) AddPages(doc *document.Document, indices []int) ([]RefID, error) {
	for _, i := range indices {
		if i < 0 || i >= doc.PageCount() {
			return nil, fmt.Errorf("%s: page %d of %d: %w", doc.Name(), i, doc.PageCount(), document.ErrPageIndex)
		}
	}
	if len(indices) == 0 {
		return nil, nil
	}
	td, ok := c.docs[doc.ID()]
	if !ok {
		if err := doc.Retain(); err != nil {
			return nil, err
		}
		td = &trackedDoc{doc: doc}
		c.docs[doc.ID()] = td
	}
	ids := make([]RefID, 0, len(indices))
	for _, i := range indices {
		c.next++
		ref := &PageRef{ID: c.next, DocumentID: doc.ID(), PageIndex: i, Selected: true}
		c.refs[ref.ID] = ref
		c.order = append(c.order, ref.ID)
		td.refs++
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// Move relocates id to toIndex, clamped to the valid range. Every other
// entry keeps its relative order.
func (c *Catalog) Move(id RefID, toIndex int) error {
	from := c.IndexOf(id)
	if from < 0 {
		return fmt.Errorf("move %v: %w", id, ErrUnknownPageRef)
	}
	to := clamp(toIndex, 0, len(c.order)-1)
	if to == from {
		return nil
	}
	if from < to {
		copy(c.order[from:to], c.order[from+1:to+1])
	} else {
		copy(c.order[to+1:from+1], c.order[to:from])
	}
	c.order[to] = id
	return nil
}

// MoveBlock moves every page of a document as one contiguous block, in
// their current relative order, so that the first lands at toIndex
// (clamped). Other entries keep their relative order.
func (c *Catalog) MoveBlock(docID document.ID, toIndex int) error {
	if _, ok := c.docs[docID]; !ok {
		return fmt.Errorf("move block %s: %w", docID, ErrUnknownDocument)
	}
	block := make([]RefID, 0, c.docs[docID].refs)
	rest := make([]RefID, 0, len(c.order))
	for _, id := range c.order {
		if c.refs[id].DocumentID == docID {
			block = append(block, id)
		} else {
			rest = append(rest, id)
		}
	}
	to := clamp(toIndex, 0, len(rest))
	order := make([]RefID, 0, len(c.order))
	order = append(order, rest[:to]...)
	order = append(order, block...)
	order = append(order, rest[to:]...)
	c.order = order
	return nil
}

// Remove deletes id. When it was the last reference to its document, the
// document is released and OnEvict runs.
func (c *Catalog) Remove(id RefID) error {
	idx := c.IndexOf(id)
	if idx < 0 {
		return fmt.Errorf("remove %v: %w", id, ErrUnknownPageRef)
	}
	ref := c.refs[id]
	c.order = append(c.order[:idx], c.order[idx+1:]...)
	delete(c.refs, id)

	td := c.docs[ref.DocumentID]
	td.refs--
	if td.refs == 0 {
		delete(c.docs, ref.DocumentID)
		td.doc.Release()
		if c.OnEvict != nil {
			c.OnEvict(td.doc)
		}
	}
	return nil
}

// Toggle flips the selection of id and returns the new state.
func (c *Catalog) Toggle(id RefID) (bool, error) {
	ref, ok := c.refs[id]
	if !ok {
		return false, fmt.Errorf("toggle %v: %w", id, ErrUnknownPageRef)
	}
	ref.Selected = !ref.Selected
	return ref.Selected, nil
}

func (c *Catalog) SetSelection(id RefID, selected bool) error {
	ref, ok := c.refs[id]
	if !ok {
		return fmt.Errorf("select %v: %w", id, ErrUnknownPageRef)
	}
	ref.Selected = selected
	return nil
}

func (c *Catalog) SelectAll()   { c.setAll(true) }
func (c *Catalog) DeselectAll() { c.setAll(false) }

func (c *Catalog) setAll(selected bool) {
	for _, ref := range c.refs {
		ref.Selected = selected
	}
}

// Reset removes every entry and releases every document.
func (c *Catalog) Reset() {
	docs := c.Documents()
	c.refs = make(map[RefID]*PageRef)
	c.order = nil
	c.docs = make(map[document.ID]*trackedDoc)
	for _, d := range docs {
		d.Release()
		if c.OnEvict != nil {
			c.OnEvict(d)
		}
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

// Clone returns a new catalog with the same order, pages and selection.
// Entry ids are fresh; documents gain one reference from the clone.
func (c *Catalog) Clone() (*Catalog, error) {
	out := New()
	for _, id := range c.order {
		ref := c.refs[id]
		ids, err := out.AddPages(c.docs[ref.DocumentID].doc, []int{ref.PageIndex})
		if err != nil {
			out.Reset()
			return nil, err
		}
		out.refs[ids[0]].Selected = ref.Selected
	}
	return out, nil
}
