// Package recovery decides how the parser reacts to malformed input.
package recovery

import "context"

type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "unknown"
	}
}

// Allows reports whether s permits the parser to carry on after err.
// A nil strategy behaves like StrictStrategy.
func Allows(ctx context.Context, s Strategy, err error, loc Location) bool {
	if s == nil {
		return false
	}
	switch s.OnError(ctx, err, loc) {
	case ActionSkip, ActionFix, ActionWarn:
		return true
	default:
		return false
	}
}
