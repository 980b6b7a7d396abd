package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ChunkRequest is one speech-to-text call for a single audio file.
type ChunkRequest struct {
	AudioPath string
	Language  string
	Diarize   bool
}

// Segment is a provider segment in chunk-local time.
type Segment struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64
	// HasConfidence is false when the provider did not report a score.
	HasConfidence bool
	Words         []Word
}

type Word struct {
	Start float64
	End   float64
	Text  string
}

type Result struct {
	Language string
	Text     string
	Segments []Segment
}

// Provider is a speech-to-text backend.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req ChunkRequest) (*Result, error)
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether resubmitting may succeed: transport failures,
// throttling and server errors are, other client errors are not.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}
