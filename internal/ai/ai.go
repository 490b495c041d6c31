// Package ai defines the client contract for the external text-generation
// service and the sanitization applied on both sides of the wire.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind selects the artifact a Generate call produces.
type Kind string

const (
	KindSummary    Kind = "summary"
	KindMindMap    Kind = "mindmap"
	KindFlashcards Kind = "flashcards"
	KindQuiz       Kind = "quiz"
)

// Artifact is the result of a generation call. Text is set for KindSummary;
// JSON carries the normalized structure for the other kinds.
type Artifact struct {
	Kind Kind
	Text string
	JSON json.RawMessage
}

// Client defines the capability to exchange text for a generated artifact.
type Client interface {
	// Generate sends sanitized text to the remote service and returns the
	// artifact for the requested kind.
	Generate(ctx context.Context, kind Kind, text string) (Artifact, error)
	// Available reports whether the service is believed reachable. A false
	// return lets callers reject new work with a service-unavailable signal
	// instead of accepting a job bound to fail.
	Available() bool
}

// ErrServiceUnavailable is returned when the remote service gives no
// response at all (connection failure or timeout). The message is what
// callers store and surface, so it stays human-readable.
var ErrServiceUnavailable = errors.New("AI server is not responding")

// ErrEmptySanitized is returned when sanitization leaves nothing to send.
var ErrEmptySanitized = errors.New("the processed text is empty after sanitization")

// RemoteError reports a non-success response from the remote service.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("AI service error: %d - %s", e.Status, e.Message)
}
