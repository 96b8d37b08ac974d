package messenger

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/dripflow/internal/catalog"
)

// Attachment is one entry of a step's ordered media plan.
type Attachment struct {
	Kind catalog.MediaKind
	Ref  string
}

// Message is a single drip touch: the copy plus the ordered media plan to try
// for it. The plan is a fallback chain, not a gallery; exactly one variant is
// delivered.
type Message struct {
	Copy  string
	Media []Attachment
}

// Provider delivers drip messages to a chat contact.
type Provider interface {
	Send(ctx context.Context, subscriberID string, msg Message) error
}

// permanentError marks delivery failures that no retry can fix, such as a
// blocked bot or a deleted chat.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is Permanent over fmt.Errorf.
func Permanentf(format string, args ...any) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether the delivery failure is unrecoverable. Permanent
// failures advance the funnel anyway so one dead chat cannot wedge a batch.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// NoOpProvider drops every message. Used when no messenger token is
// configured, which keeps local development and tests quiet.
type NoOpProvider struct{}

func NewNoOpProvider() *NoOpProvider { return &NoOpProvider{} }

func (p *NoOpProvider) Send(ctx context.Context, subscriberID string, msg Message) error {
	return nil
}
