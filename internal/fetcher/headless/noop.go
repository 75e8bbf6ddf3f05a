package headless

import (
	"context"
	"errors"
)

// ErrDisabled is returned by Noop for every call.
var ErrDisabled = errors.New("headless browser disabled")

// Noop stands in for Browser when headless.enabled is false. Phases that
// need a browser fail per item instead of aborting the run.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always fails with ErrDisabled.
func (Noop) Render(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}

// Evaluate always fails with ErrDisabled.
func (Noop) Evaluate(context.Context, string, string, string, any) error {
	return ErrDisabled
}

// Screenshot always fails with ErrDisabled.
func (Noop) Screenshot(context.Context, string) ([]byte, error) {
	return nil, ErrDisabled
}

// Close is a no-op.
func (Noop) Close() {}
