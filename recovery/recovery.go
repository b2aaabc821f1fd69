// Package recovery lets callers choose how much malformed input the
// parser tolerates.
package recovery

import (
	"context"
	"fmt"
)

// Strategy is consulted for every recoverable parse error.
type Strategy interface {
	OnError(ctx context.Context, err error, at Location) Action
}

// Location points at the damaged part of a file.
type Location struct {
	Component  string
	ByteOffset int64
	// ObjectNum is zero when no object is involved.
	ObjectNum int
	ObjectGen int
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s %d %d R", l.Component, l.ObjectNum, l.ObjectGen)
	}
	return fmt.Sprintf("%s at offset %d", l.Component, l.ByteOffset)
}

// Damaged parts reported in Location.Component.
const (
	ComponentXRef   = "xref"
	ComponentObject = "object"
	ComponentStream = "stream"
	ComponentPage   = "page"
)

// Action is what the parser does next.
type Action int

const (
	// ActionFail aborts the open.
	ActionFail Action = iota
	// ActionSkip treats the damaged object as null.
	ActionSkip
	// ActionFix rebuilds the structure, e.g. the xref by scanning.
	ActionFix
	// ActionWarn continues as if nothing happened.
	ActionWarn
)

var actionNames = [...]string{"fail", "skip", "fix", "warn"}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "unknown"
	}
	return actionNames[a]
}
