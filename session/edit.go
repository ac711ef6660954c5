package session

import (
	"github.com/wudi/pagekit/catalog"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/thumbnail"
)

// edit runs fn on the catalog under the session lock.
func (s *Session) edit(fn func(c *catalog.Catalog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.touch()
	return fn(s.catalog)
}

func (s *Session) Move(id catalog.RefID, to int) error {
	return s.edit(func(c *catalog.Catalog) error { return c.Move(id, to) })
}

func (s *Session) MoveBlock(doc document.ID, to int) error {
	return s.edit(func(c *catalog.Catalog) error { return c.MoveBlock(doc, to) })
}

// Remove deletes an entry and drops its cached preview.
func (s *Session) Remove(id catalog.RefID) error {
	return s.edit(func(c *catalog.Catalog) error {
		ref, ok := c.Get(id)
		if !ok {
			return c.Remove(id)
		}
		doc, _ := c.Document(ref.DocumentID)
		if err := c.Remove(id); err != nil {
			return err
		}
		if s.thumbs != nil {
			s.thumbs.Forget(thumbnail.Request{Ref: id, Doc: doc, Index: ref.PageIndex})
		}
		return nil
	})
}

func (s *Session) Toggle(id catalog.RefID) (selected bool, err error) {
	err = s.edit(func(c *catalog.Catalog) error {
		selected, err = c.Toggle(id)
		return err
	})
	return selected, err
}

func (s *Session) SetSelection(id catalog.RefID, selected bool) error {
	return s.edit(func(c *catalog.Catalog) error { return c.SetSelection(id, selected) })
}

func (s *Session) SelectAll() error {
	return s.edit(func(c *catalog.Catalog) error { c.SelectAll(); return nil })
}

func (s *Session) DeselectAll() error {
	return s.edit(func(c *catalog.Catalog) error { c.DeselectAll(); return nil })
}

// AddPages appends a subset of an already loaded document.
func (s *Session) AddPages(doc *document.Document, indices []int) (ids []catalog.RefID, err error) {
	err = s.edit(func(c *catalog.Catalog) error {
		ids, err = c.AddPages(doc, indices)
		return err
	})
	return ids, err
}

// Entries returns the catalog in order.
func (s *Session) Entries() []catalog.PageRef {
	var out []catalog.PageRef
	s.edit(func(c *catalog.Catalog) error { out = c.Entries(); return nil })
	return out
}

func (s *Session) PagesOf(doc document.ID) []catalog.PageRef {
	var out []catalog.PageRef
	s.edit(func(c *catalog.Catalog) error { out = c.PagesOf(doc); return nil })
	return out
}

func (s *Session) Documents() []*document.Document {
	var out []*document.Document
	s.edit(func(c *catalog.Catalog) error { out = c.Documents(); return nil })
	return out
}
