// Package remote classifies failures of calls to storefront backend services.
//
// A RejectionError means the server answered and explicitly refused the
// request; its message is safe to show to the customer verbatim. Any other
// error returned by an adapter is treated as a network failure and is shown
// through an operation-specific fallback message.
package remote

import (
	"fmt"

	"github.com/go-faster/errors"
)

// RejectionError is returned when a remote service responds with an explicit
// failure: a non-2xx status or a `success:false` envelope.
type RejectionError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Message returns the server-provided message carried by err, or fallback
// when err is not a rejection or the rejection carried no message.
func Message(err error, fallback string) string {
	var rej *RejectionError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	return fallback
}

// IsRejection reports whether err is an explicit server-side refusal.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
