package raw

// Typed accessors. They never follow indirect references; callers that need
// resolution go through a Resolver first.

// Name returns the name stored under key.
func (d *DictObj) Name(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	n, ok := v.(NameObj)
	return n.Val, ok
}

// Int returns the integer stored under key. Reals are truncated.
func (d *DictObj) Int(key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

// RefTo returns the indirect reference stored under key.
func (d *DictObj) RefTo(key string) (ObjectRef, bool) {
	v, ok := d.Get(key)
	if !ok {
		return ObjectRef{}, false
	}
	r, ok := v.(RefObj)
	return r.R, ok
}

// DictAt returns a direct dictionary stored under key.
func (d *DictObj) DictAt(key string) (*DictObj, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	dd, ok := v.(*DictObj)
	return dd, ok
}

// ArrayAt returns a direct array stored under key.
func (d *DictObj) ArrayAt(key string) (*ArrayObj, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	a, ok := v.(*ArrayObj)
	return a, ok
}

// Clone returns a deep copy of obj. References are copied as references;
// stream payloads are duplicated so the copy shares no memory with obj.
func Clone(obj Object) Object {
	switch v := obj.(type) {
	case *DictObj:
		if v == nil {
			return (*DictObj)(nil)
		}
		out := &DictObj{KV: make(map[string]Object, len(v.KV))}
		for k, item := range v.KV {
			out.KV[k] = Clone(item)
		}
		return out
	case *ArrayObj:
		out := &ArrayObj{Items: make([]Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = Clone(item)
		}
		return out
	case *StreamObj:
		var dict *DictObj
		if v.Dict != nil {
			dict = Clone(v.Dict).(*DictObj)
		}
		return &StreamObj{Dict: dict, Data: append([]byte(nil), v.Data...)}
	case StringObj:
		return StringObj{Bytes: append([]byte(nil), v.Bytes...), Hex: v.Hex}
	default:
		return obj
	}
}
