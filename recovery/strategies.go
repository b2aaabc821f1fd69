package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/pdfredact/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy repairs a broken xref and skips unreadable objects,
// recording every error it saw.
type LenientStrategy struct {
	Logger observability.Logger

	mu     sync.Mutex
	errors []error
}

func NewLenientStrategy(logger observability.Logger) *LenientStrategy {
	return &LenientStrategy{Logger: observability.OrNop(logger)}
}

func (s *LenientStrategy) OnError(ctx context.Context, err error, location Location) Action {
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Errorf("%s: %w", location, err))
	s.mu.Unlock()

	action := ActionWarn
	switch location.Component {
	case ComponentXRef:
		action = ActionFix
	case ComponentObject, ComponentStream:
		action = ActionSkip
	}
	observability.OrNop(s.Logger).Warn("recovering from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Int("object", location.ObjectNum),
		observability.String("action", action.String()),
		observability.Err(err),
	)
	return action
}

// Errors returns a copy of the errors recorded so far.
func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
