package raw

import "testing"

func TestCloneIsDeep(t *testing.T) {
	inner := Dict()
	inner.Set("F1", Ref(7, 0))
	src := Dict()
	src.Set("Font", inner)
	src.Set("Box", NewArray(NumberInt(0), NumberInt(0), NumberFloat(612.5), NumberInt(792)))
	stream := NewStream(src, []byte("BT ET"))

	cp := Clone(stream).(*StreamObj)
	cp.Data[0] = 'X'
	cpFont, _ := cp.Dict.DictAt("Font")
	cpFont.Set("F2", Ref(8, 0))

	if string(stream.Data) != "BT ET" {
		t.Fatalf("clone shares stream bytes: %q", stream.Data)
	}
	if _, ok := inner.Get("F2"); ok {
		t.Fatalf("clone shares nested dictionaries")
	}
	if r, ok := cpFont.RefTo("F1"); !ok || r != (ObjectRef{Num: 7}) {
		t.Fatalf("reference not preserved: %v %v", r, ok)
	}
}

func TestTypedGetters(t *testing.T) {
	d := Dict()
	d.Set("Type", NameLiteral("Page"))
	d.Set("Rotate", NumberInt(90))
	d.Set("UserUnit", NumberFloat(1.5))

	if n, ok := d.Name("Type"); !ok || n != "Page" {
		t.Fatalf("Name: got %q %v", n, ok)
	}
	if n, ok := d.Int("Rotate"); !ok || n != 90 {
		t.Fatalf("Int: got %d %v", n, ok)
	}
	if n, ok := d.Int("UserUnit"); !ok || n != 1 {
		t.Fatalf("Int on real: got %d %v", n, ok)
	}
	if _, ok := d.Name("Rotate"); ok {
		t.Fatalf("Name on number should fail")
	}
	var nilDict *DictObj
	if _, ok := nilDict.Get("Type"); ok {
		t.Fatalf("nil dict lookup should miss")
	}
}
