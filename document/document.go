// Package document loads source PDFs into reference counted, page
// addressable handles.
package document

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/wudi/pagekit/parser"
)

type ID string

// Document is a parsed source file. It owns its bytes exclusively; they are
// dropped when the last reference is released.
type Document struct {
	id      ID
	name    string
	size    int64
	digest  string
	pages   int
	version string
	info    map[string]string

	mu     sync.RWMutex
	refs   int
	data   []byte
	parsed *parser.Document
}

func newDocument(name string, data []byte, parsed *parser.Document, sum [32]byte) *Document {
	return &Document{
		id:      ID(uuid.NewString()),
		name:    name,
		size:    int64(len(data)),
		digest:  hex.EncodeToString(sum[:]),
		pages:   parsed.PageCount(),
		version: parsed.Version,
		info:    parsed.Info,
		refs:    1,
		data:    data,
		parsed:  parsed,
	}
}

func (d *Document) ID() ID          { return d.id }
func (d *Document) Name() string    { return d.name }
func (d *Document) Size() int64     { return d.size }
func (d *Document) PageCount() int  { return d.pages }
func (d *Document) Version() string { return d.version }
func (d *Document) Digest() string  { return d.digest }
func (d *Document) String() string  { return fmt.Sprintf("%s (%d pages)", d.name, d.pages) }

// Info returns the text entries of the document information dictionary.
func (d *Document) Info() map[string]string {
	out := make(map[string]string, len(d.info))
	for k, v := range d.info {
		out[k] = v
	}
	return out
}

// Bytes returns the source bytes, or nil once the document is released.
// Callers must not modify the slice.
func (d *Document) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data
}

// Retain adds a reference. It fails once the document was released.
func (d *Document) Retain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		return fmt.Errorf("%s: %w", d.name, ErrReleased)
	}
	d.refs++
	return nil
}

// Release drops a reference; the last one frees the bytes and the parsed
// structure. Extra calls are ignored.
func (d *Document) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		return
	}
	d.refs--
	if d.refs == 0 {
		d.data = nil
		d.parsed = nil
	}
}

func (d *Document) Released() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refs == 0
}

// Source returns the parsed structure for page copying.
func (d *Document) Source() (*parser.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.parsed == nil {
		return nil, fmt.Errorf("%s: %w", d.name, ErrReleased)
	}
	return d.parsed, nil
}

// Page returns the parsed page at the 0-based index i.
func (d *Document) Page(i int) (parser.Page, error) {
	src, err := d.Source()
	if err != nil {
		return parser.Page{}, err
	}
	if i < 0 || i >= len(src.Pages) {
		return parser.Page{}, fmt.Errorf("%s: page %d of %d: %w", d.name, i, len(src.Pages), ErrPageIndex)
	}
	return src.Pages[i], nil
}
