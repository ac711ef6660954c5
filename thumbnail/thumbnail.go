// Package thumbnail requests page previews from an external renderer and
// caches them per catalog entry. Previews are best effort: nothing in
// assembly depends on them.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/wudi/pagekit/catalog"
	"github.com/wudi/pagekit/document"
	"github.com/wudi/pagekit/observability"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Renderer draws page pageIndex (0-based) of a PDF at the given scale,
// where 1 means one pixel per point.
type Renderer interface {
	Render(ctx context.Context, data []byte, pageIndex int, scale float64) (image.Image, error)
}

type RendererFunc func(ctx context.Context, data []byte, pageIndex int, scale float64) (image.Image, error)

func (f RendererFunc) Render(ctx context.Context, data []byte, pageIndex int, scale float64) (image.Image, error) {
	return f(ctx, data, pageIndex, scale)
}

type Config struct {
	// Scale passed to the renderer. Default: 0.25.
	Scale float64
	// MaxWidth and MaxHeight, when set, shrink previews to fit.
	MaxWidth  int
	MaxHeight int
	// TTL of cached previews. Default: 10 minutes.
	TTL time.Duration
	// Timeout bounds one render. Default: 30 seconds.
	Timeout time.Duration
	// Concurrency bounds RequestMany. Default: 4.
	Concurrency int
	Logger      observability.Logger
	Tracer      observability.Tracer
}

// Request identifies one preview: catalog entry Ref showing page Index of
// Doc. RefIDs restart in every catalog, so the document is part of the key.
type Request struct {
	Ref   catalog.RefID
	Doc   *document.Document
	Index int
}

func (r Request) key() string {
	return fmt.Sprintf("%s/%s/%d", r.Ref, r.Doc.ID(), r.Index)
}

type Requestor struct {
	renderer Renderer
	cfg      Config
	cache    *cache.Cache
	group    singleflight.Group
	// gen counts flushes; renders started before one are not cached.
	gen atomic.Uint64
}

func New(r Renderer, cfg Config) *Requestor {
	if cfg.Scale <= 0 {
		cfg.Scale = 0.25
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	cfg.Tracer = observability.TracerOrNop(cfg.Tracer)
	return &Requestor{
		renderer: r,
		cfg:      cfg,
		cache:    cache.New(cfg.TTL, 2*cfg.TTL),
	}
}

// Request returns the preview for req, rendering it at most once for
// concurrent callers. A cancelled caller stops waiting; the render itself
// finishes for the others and fills the cache.
func (q *Requestor) Request(ctx context.Context, req Request) (image.Image, error) {
	if req.Doc == nil {
		return nil, fmt.Errorf("%v: %w", req.Ref, document.ErrInvalidDocument)
	}
	key := req.key()
	if img, ok := q.cache.Get(key); ok {
		return img.(image.Image), nil
	}
	if err := req.Doc.Retain(); err != nil {
		return nil, fmt.Errorf("%v: %w", req.Ref, err)
	}

	// every caller holds its own reference until the shared render is done
	ch := q.group.DoChan(key, func() (any, error) {
		gen := q.gen.Load()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.Timeout)
		defer cancel()
		img, err := q.render(rctx, req)
		if err != nil {
			return nil, err
		}
		if q.gen.Load() == gen {
			q.cache.Set(key, img, cache.DefaultExpiration)
		}
		return img, nil
	})
	select {
	case res := <-ch:
		req.Doc.Release()
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	case <-ctx.Done():
		go func() {
			<-ch
			req.Doc.Release()
		}()
		return nil, ctx.Err()
	}
}

func (q *Requestor) render(ctx context.Context, req Request) (image.Image, error) {
	ctx, span := q.cfg.Tracer.StartSpan(ctx, observability.SpanThumbnailFetch)
	defer span.Finish()
	span.SetTag("page", req.Index)

	data := req.Doc.Bytes()
	if data == nil {
		return nil, fmt.Errorf("%s: %w", req.Doc.Name(), document.ErrReleased)
	}
	img, err := q.renderer.Render(ctx, data, req.Index, q.cfg.Scale)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("%s page %d: %w", req.Doc.Name(), req.Index+1, err)
	}
	if img == nil {
		return nil, errors.New("renderer returned no image")
	}
	return fit(img, q.cfg.MaxWidth, q.cfg.MaxHeight), nil
}

// RequestMany renders reqs in parallel. Failures are logged and left out
// of the result.
func (q *Requestor) RequestMany(ctx context.Context, reqs []Request) map[catalog.RefID]image.Image {
	imgs := make([]image.Image, len(reqs))
	var g errgroup.Group
	g.SetLimit(q.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			img, err := q.Request(ctx, req)
			if err != nil {
				q.cfg.Logger.Warn("thumbnail failed",
					observability.String("ref", req.Ref.String()),
					observability.Err(err))
				return nil
			}
			imgs[i] = img
			return nil
		})
	}
	g.Wait()

	out := make(map[catalog.RefID]image.Image, len(reqs))
	for i, img := range imgs {
		if img != nil {
			out[reqs[i].Ref] = img
		}
	}
	return out
}

// Cached returns the preview for req without rendering.
func (q *Requestor) Cached(req Request) (image.Image, bool) {
	if req.Doc == nil {
		return nil, false
	}
	img, ok := q.cache.Get(req.key())
	if !ok {
		return nil, false
	}
	return img.(image.Image), true
}

// Forget drops the cached preview for req.
func (q *Requestor) Forget(req Request) {
	if req.Doc != nil {
		q.cache.Delete(req.key())
	}
}

// Flush drops every cached preview, including those of renders still in
// flight.
func (q *Requestor) Flush() {
	q.gen.Add(1)
	q.cache.Flush()
}

// fit scales img down to the box, keeping its aspect ratio. Zero bounds
// are unconstrained.
func fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}
	ratio := 1.0
	if maxW > 0 && w > maxW {
		ratio = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		ratio = min(ratio, float64(maxH)/float64(h))
	}
	if ratio == 1 {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(1, int(float64(w)*ratio+0.5)), max(1, int(float64(h)*ratio+0.5))))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
