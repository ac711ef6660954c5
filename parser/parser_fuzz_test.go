package parser

import (
	"context"
	"testing"

	"github.com/wudi/pagekit/internal/pdftest"
	"github.com/wudi/pagekit/recovery"
)

func FuzzDocumentParser(f *testing.F) {
	f.Add(pdftest.Uniform("fuzz", 1))
	f.Add(pdftest.Inherited())
	f.Add(pdftest.Truncated())

	f.Fuzz(func(t *testing.T, data []byte) {
		for _, cfg := range []Config{
			{Recovery: recovery.NewStrictStrategy()},
			{Recovery: recovery.NewLenientStrategy(nil)},
		} {
			_, _ = NewDocumentParser(cfg).Parse(context.Background(), data)
		}
	})
}
