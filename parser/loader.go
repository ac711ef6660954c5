package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pagekit/filters"
	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/recovery"
	"github.com/wudi/pagekit/scanner"
	"github.com/wudi/pagekit/security"
	"github.com/wudi/pagekit/xref"
)

// ErrObjectNotFound is returned for references the xref table does not know.
var ErrObjectNotFound = errors.New("object not found")

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

// ObjectLoader reads indirect objects on demand. Implementations are safe
// for concurrent use.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
	// Deref follows obj through indirect references until it reaches a
	// direct object. Missing targets resolve to null.
	Deref(ctx context.Context, obj raw.Object) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable xref.Table
	maxDepth  int
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(s recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = s
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.data == nil || b.xrefTable == nil {
		return nil, errors.New("data and xrefTable required")
	}
	limits := b.limits.WithDefaults()
	maxDepth := b.maxDepth
	if maxDepth == 0 {
		maxDepth = limits.MaxIndirectDepth
	}
	cache := b.cache
	if cache == nil {
		cache = newMapCache()
	}
	return &objectLoader{
		data:      b.data,
		xrefTable: b.xrefTable,
		maxDepth:  maxDepth,
		limits:    limits,
		cache:     cache,
		recovery:  b.recovery,
		pipeline: filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		}),
		objstm: make(map[int]map[int]raw.Object),
	}, nil
}

type objectLoader struct {
	data      []byte
	xrefTable xref.Table
	maxDepth  int
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline

	mu     sync.Mutex
	objstm map[int]map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx, ref, 0)
}

func (o *objectLoader) Deref(ctx context.Context, obj raw.Object) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for depth := 0; ; depth++ {
		r, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if depth >= o.maxDepth {
			return nil, fmt.Errorf("indirect chain from %v deeper than %d", r.R, o.maxDepth)
		}
		next, err := o.load(ctx, r.R, 0)
		if errors.Is(err, ErrObjectNotFound) {
			return raw.NullObj{}, nil
		}
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

// load assumes the caller holds o.mu. depth counts nested loads triggered
// by indirect stream lengths.
func (o *objectLoader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.maxDepth {
		return nil, fmt.Errorf("object %v: max indirect depth exceeded", ref)
	}
	if obj, ok := o.cache.Get(ref); ok {
		return obj, nil
	}
	var (
		obj raw.Object
		err error
	)
	if offset, gen, found := o.xrefTable.Lookup(ref.Num); found {
		obj, err = o.loadAtOffset(ctx, ref, offset, gen, depth)
	} else if stm, idx, ok := o.xrefTable.ObjStream(ref.Num); ok {
		obj, err = o.loadFromObjectStream(ctx, ref, stm, idx, depth)
	} else {
		return nil, fmt.Errorf("%w: %v", ErrObjectNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	o.cache.Put(ref, obj)
	return obj, nil
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxNesting:      o.limits.MaxNesting,
		MaxStreamLength: o.limits.MaxStreamLength,
	}
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, gen int, depth int) (raw.Object, error) {
	s := scanner.New(o.data, o.scannerConfig())
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	rd := scanner.NewReader(s, func(d *raw.DictObj) int64 {
		return o.streamLength(ctx, d, depth)
	})
	got, obj, err := rd.ReadIndirect()
	if err != nil {
		return nil, fmt.Errorf("object %v at offset %d: %w", ref, offset, err)
	}
	if got.Num != ref.Num || got.Gen != gen {
		mismatch := fmt.Errorf("object header %v does not match xref entry %d %d", got, ref.Num, gen)
		loc := recovery.Location{ByteOffset: offset, ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "loader"}
		if !recovery.Allows(ctx, o.recovery, mismatch, loc) {
			return nil, mismatch
		}
	}
	return obj, nil
}

// streamLength resolves /Length, following an indirect reference when
// needed. -1 lets the scanner search for endstream.
func (o *objectLoader) streamLength(ctx context.Context, d *raw.DictObj, depth int) int64 {
	v, ok := d.Get("Length")
	if !ok {
		return -1
	}
	switch n := v.(type) {
	case raw.NumberObj:
		return n.Int()
	case raw.RefObj:
		target, err := o.load(ctx, n.R, depth+1)
		if err != nil {
			return -1
		}
		if num, ok := target.(raw.NumberObj); ok {
			return num.Int()
		}
	}
	return -1
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, stmNum, idx int, depth int) (raw.Object, error) {
	objs, ok := o.objstm[stmNum]
	if !ok {
		var err error
		objs, err = o.readObjectStream(ctx, stmNum, depth)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", stmNum, err)
		}
		o.objstm[stmNum] = objs
	}
	obj, ok := objs[ref.Num]
	if !ok {
		return nil, fmt.Errorf("%w: %v not in object stream %d (index %d)", ErrObjectNotFound, ref, stmNum, idx)
	}
	return obj, nil
}

func (o *objectLoader) readObjectStream(ctx context.Context, stmNum int, depth int) (map[int]raw.Object, error) {
	offset, gen, ok := o.xrefTable.Lookup(stmNum)
	if !ok {
		return nil, errors.New("object stream entry missing")
	}
	obj, err := o.loadAtOffset(ctx, raw.ObjectRef{Num: stmNum, Gen: gen}, offset, gen, depth)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("not a stream")
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	data, err := o.pipeline.DecodeStream(ctx, st)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > int64(len(data)) || n < 0 {
		return nil, fmt.Errorf("invalid /N %d or /First %d", n, first)
	}

	header := scanner.New(data[:first], o.scannerConfig())
	pairs := make([]int64, 0, 2*n)
	for int64(len(pairs)) < 2*n {
		tok, err := header.Next()
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("header: unexpected %s token", tok.Type)
		}
		pairs = append(pairs, tok.Int)
	}

	body := data[first:]
	objs := make(map[int]raw.Object, n)
	for i := 0; i < len(pairs); i += 2 {
		num, off := int(pairs[i]), pairs[i+1]
		if off < 0 || off > int64(len(body)) {
			return nil, fmt.Errorf("object %d offset %d out of range", num, off)
		}
		s := scanner.New(body, o.scannerConfig())
		if err := s.SeekTo(off); err != nil {
			return nil, err
		}
		item, err := scanner.NewReader(s, nil).ReadObject()
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", num, err)
		}
		objs[num] = item
	}
	return objs, nil
}

type mapCache struct {
	m map[raw.ObjectRef]raw.Object
}

func newMapCache() *mapCache { return &mapCache{m: make(map[raw.ObjectRef]raw.Object)} }

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	v, ok := c.m[ref]
	return v, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) { c.m[ref] = obj }
