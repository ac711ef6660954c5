// Package raw holds the undecoded PDF object model shared by the scanner,
// the parser and the writer.
package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// IsZero reports whether r is the (invalid) zero reference.
func (r ObjectRef) IsZero() bool { return r.Num == 0 && r.Gen == 0 }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Resolver looks up the target of an indirect reference.
type Resolver interface {
	Resolve(ref ObjectRef) (Object, error)
}
