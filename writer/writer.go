// Package writer serializes an object table into a PDF file.
package writer

import (
	"context"
	"io"

	"github.com/wudi/pagekit/ir/raw"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF15 PDFVersion = "1.5"
	PDF17 PDFVersion = "1.7"
	PDF20 PDFVersion = "2.0"
)

type Config struct {
	Version PDFVersion
	// Producer is written to the /Info dictionary when set.
	Producer string
	// Deterministic derives /ID from the file body and omits dates, so the
	// same input always yields the same bytes.
	Deterministic bool
	// XRefStreams writes a cross-reference stream instead of a classic
	// table. It raises the version to at least 1.5.
	XRefStreams bool
	// Compress applies FlateDecode to streams that carry no filter.
	Compress bool
}

type Writer interface {
	Write(ctx context.Context, doc *Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// Interceptor observes each indirect object as it is written.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}
func (b *WriterBuilder) Build() Writer { return &impl{interceptors: b.interceptors} }

// New returns a writer without interceptors.
func New() Writer { return (&WriterBuilder{}).Build() }
