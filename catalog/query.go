package catalog

import (
	"fmt"

	"github.com/wudi/pagekit/document"
)

func (c *Catalog) Len() int { return len(c.order) }

// Entries returns a copy of every PageRef in catalog order.
func (c *Catalog) Entries() []PageRef {
	out := make([]PageRef, len(c.order))
	for i, id := range c.order {
		out[i] = *c.refs[id]
	}
	return out
}

// Selected returns the selected PageRefs in catalog order.
func (c *Catalog) Selected() []PageRef {
	var out []PageRef
	for _, id := range c.order {
		if ref := c.refs[id]; ref.Selected {
			out = append(out, *ref)
		}
	}
	return out
}

func (c *Catalog) SelectedCount() int {
	n := 0
	for _, ref := range c.refs {
		if ref.Selected {
			n++
		}
	}
	return n
}

func (c *Catalog) Get(id RefID) (PageRef, bool) {
	ref, ok := c.refs[id]
	if !ok {
		return PageRef{}, false
	}
	return *ref, true
}

// IndexOf returns the position of id, or -1.
func (c *Catalog) IndexOf(id RefID) int {
	if _, ok := c.refs[id]; !ok {
		return -1
	}
	for i, v := range c.order {
		if v == id {
			return i
		}
	}
	return -1
}

// PagesOf returns the PageRefs of one document in catalog order. It is
// empty once the document has been evicted.
func (c *Catalog) PagesOf(docID document.ID) []PageRef {
	var out []PageRef
	for _, id := range c.order {
		if ref := c.refs[id]; ref.DocumentID == docID {
			out = append(out, *ref)
		}
	}
	return out
}

// Documents returns the tracked documents in order of first appearance.
func (c *Catalog) Documents() []*document.Document {
	seen := make(map[document.ID]bool, len(c.docs))
	out := make([]*document.Document, 0, len(c.docs))
	for _, id := range c.order {
		docID := c.refs[id].DocumentID
		if !seen[docID] {
			seen[docID] = true
			out = append(out, c.docs[docID].doc)
		}
	}
	return out
}

func (c *Catalog) Document(id document.ID) (*document.Document, bool) {
	td, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return td.doc, true
}

// Validate checks the internal invariants: every ordered id resolves, no
// id repeats, every PageRef is ordered exactly once, page indices are in
// range and per-document counts match.
func (c *Catalog) Validate() error {
	if len(c.order) != len(c.refs) {
		return fmt.Errorf("order has %d ids for %d page refs", len(c.order), len(c.refs))
	}
	seen := make(map[RefID]bool, len(c.order))
	counts := make(map[document.ID]int)
	for i, id := range c.order {
		if seen[id] {
			return fmt.Errorf("%v appears twice (position %d)", id, i)
		}
		seen[id] = true
		ref, ok := c.refs[id]
		if !ok {
			return fmt.Errorf("%v at position %d does not resolve", id, i)
		}
		td, ok := c.docs[ref.DocumentID]
		if !ok {
			return fmt.Errorf("%v points at untracked document %s", id, ref.DocumentID)
		}
		if ref.PageIndex < 0 || ref.PageIndex >= td.doc.PageCount() {
			return fmt.Errorf("%v page index %d outside %d pages", id, ref.PageIndex, td.doc.PageCount())
		}
		counts[ref.DocumentID]++
	}
	for docID, td := range c.docs {
		if counts[docID] != td.refs {
			return fmt.Errorf("document %s tracks %d refs, found %d", docID, td.refs, counts[docID])
		}
	}
	return nil
}
