package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// UserMessager is implemented by errors that carry a message fit for display.
type UserMessager interface {
	UserMessage() string
}

// Failure is a failed dispatch. Message is the single human-readable string
// shown to the user; Err keeps the cause for logging.
type Failure struct {
	Label   string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed: %s", f.Label, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// UserMessage returns the displayable message.
func (f *Failure) UserMessage() string {
	return f.Message
}

func newFailure(label string, err error) *Failure {
	return &Failure{Label: label, Message: Message(err), Err: err}
}

// Message collapses any error into one displayable string.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var um UserMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	}
	return err.Error()
}
