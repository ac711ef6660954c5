package writer

import (
	"sort"

	"github.com/wudi/pagekit/ir/raw"
)

// Document is the set of indirect objects making up an output file.
// Object numbers are handed out densely starting at 1.
type Document struct {
	objects map[int]raw.Object
	next    int

	Root raw.ObjectRef
	// Info holds text entries for the /Info dictionary.
	Info map[string]string
}

func NewDocument() *Document {
	return &Document{objects: make(map[int]raw.Object), next: 1}
}

// Alloc reserves an object number; the object is supplied later with Set.
func (d *Document) Alloc() raw.ObjectRef {
	ref := raw.ObjectRef{Num: d.next}
	d.next++
	return ref
}

func (d *Document) Set(ref raw.ObjectRef, obj raw.Object) { d.objects[ref.Num] = obj }

// Add stores obj under a fresh number.
func (d *Document) Add(obj raw.Object) raw.ObjectRef {
	ref := d.Alloc()
	d.Set(ref, obj)
	return ref
}

func (d *Document) Get(ref raw.ObjectRef) (raw.Object, bool) {
	obj, ok := d.objects[ref.Num]
	return obj, ok
}

func (d *Document) Len() int { return len(d.objects) }

// Delete drops an object. Its number is left free in the output.
func (d *Document) Delete(ref raw.ObjectRef) { delete(d.objects, ref.Num) }

// Refs lists the stored objects in ascending number order.
func (d *Document) Refs() []raw.ObjectRef {
	nums := d.numbers()
	refs := make([]raw.ObjectRef, len(nums))
	for i, n := range nums {
		refs[i] = raw.ObjectRef{Num: n}
	}
	return refs
}

func (d *Document) numbers() []int {
	nums := make([]int, 0, len(d.objects))
	for n := range d.objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
