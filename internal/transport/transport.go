// Package transport delivers follow-up emails. A Sender owns one delivery
// channel; the scheduler loop calls it synchronously and never retries
// inside the adapter. A failed send surfaces as an error and the loop
// re-attempts on a later tick.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/chasehq/followup/internal/store"
)

// ErrNotConnected is returned when the user has no usable transport
// credential. The loop records it verbatim on the followup.
var ErrNotConnected = errors.New("Gmail not connected")

// Error wraps a provider-side delivery failure.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Msg, e.Err)
	}
	return "transport: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Sender delivers one HTML email for a user and returns the provider
// message id.
type Sender interface {
	Send(ctx context.Context, user store.User, to, subject, htmlBody string) (string, error)
}
