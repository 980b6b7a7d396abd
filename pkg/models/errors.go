package models

import (
	"errors"
	"fmt"
)

// MediaDecodeError reports that the input media could not be fetched or decoded.
type MediaDecodeError struct {
	Source  string
	Message string
	Err     error
}

func (e *MediaDecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media decode %s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("media decode %s: %s: %v", e.Source, e.Message, e.Err)
}

func (e *MediaDecodeError) Unwrap() error { return e.Err }

// ProviderError wraps a failed or malformed speech-to-text / text-generation call.
type ProviderError struct {
	Stage       StageName
	Provider    string
	Recoverable bool
	Err         error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider %s failed: %v", e.Stage, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ArtifactGenerationError reports a PDF or calendar failure.
type ArtifactGenerationError struct {
	Stage StageName
	Err   error
}

func (e *ArtifactGenerationError) Error() string {
	return fmt.Sprintf("%s: artifact generation failed: %v", e.Stage, e.Err)
}

func (e *ArtifactGenerationError) Unwrap() error { return e.Err }

// IsRecoverable reports whether resubmitting the same request may succeed.
func IsRecoverable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}
	return false
}
