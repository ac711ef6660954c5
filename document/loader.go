package document

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/wudi/pagekit/observability"
	"github.com/wudi/pagekit/parser"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/security"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Limits   security.Limits
	Recovery recovery.Strategy
	// Concurrency bounds parallel parses in LoadBatch. Default: NumCPU.
	Concurrency int
	Logger      observability.Logger
	Tracer      observability.Tracer
}

type Loader struct {
	cfg    Config
	parser *parser.DocumentParser
}

func NewLoader(cfg Config) *Loader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	cfg.Tracer = observability.TracerOrNop(cfg.Tracer)
	return &Loader{
		cfg: cfg,
		parser: parser.NewDocumentParser(parser.Config{
			Limits:   cfg.Limits,
			Recovery: cfg.Recovery,
			Logger:   cfg.Logger,
		}),
	}
}

// Load parses data. The returned document holds one reference owned by
// the caller. Errors are *FileError wrapping ErrInvalidDocument,
// ErrEncryptedDocument or the context error.
func (l *Loader) Load(ctx context.Context, name string, data []byte) (*Document, error) {
	ctx, span := l.cfg.Tracer.StartSpan(ctx, observability.SpanDocumentLoad)
	defer span.Finish()
	span.SetTag("file", name)

	doc, err := l.load(ctx, name, data)
	if err != nil {
		span.SetError(err)
		l.cfg.Logger.Warn("document rejected", observability.String("file", name), observability.Err(err))
		return nil, &FileError{File: name, Err: err}
	}
	return doc, nil
}

func (l *Loader) load(ctx context.Context, name string, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidDocument)
	}
	start := time.Now()
	// the document owns its bytes; callers may reuse theirs
	owned := append([]byte(nil), data...)
	parsed, err := l.parser.Parse(ctx, owned)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, parser.ErrEncrypted):
		return nil, fmt.Errorf("%w: %v", ErrEncryptedDocument, parsed.Encryption)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if len(parsed.Pages) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalidDocument)
	}
	if parsed.Repaired {
		l.cfg.Logger.Warn("cross-reference table rebuilt", observability.String("file", name))
	}
	doc := newDocument(name, owned, parsed, blake2b.Sum256(owned))
	l.cfg.Logger.Info("document loaded",
		observability.String("file", name),
		observability.String("id", string(doc.ID())),
		observability.Int(observability.MetricPageCount, doc.PageCount()),
		observability.Int64("bytes", doc.Size()),
		observability.Duration(observability.MetricParseTime, time.Since(start)))
	return doc, nil
}

type Input struct {
	Name string
	Data []byte
}

// Result is the outcome for one Input; exactly one of Doc and Err is set.
type Result struct {
	Name string
	Doc  *Document
	Err  error
}

// LoadBatch loads inputs in parallel. A failing file does not affect the
// others; results are returned in input order.
func (l *Loader) LoadBatch(ctx context.Context, inputs []Input) []Result {
	results := make([]Result, len(inputs))
	var g errgroup.Group
	g.SetLimit(l.cfg.Concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			doc, err := l.Load(ctx, in.Name, in.Data)
			results[i] = Result{Name: in.Name, Doc: doc, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
