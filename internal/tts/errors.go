package tts

import (
	"errors"
	"fmt"
	"strings"
)

// SynthesisError reports an engine that rejected its input, timed out, or
// produced no usable audio. It is retried once by the pipeline and then
// fails the chapter.
type SynthesisError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s synthesis: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s synthesis: %s", e.Backend, e.Reason)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// ConfigurationError reports missing engine assets. It makes the backend
// unavailable; it is never a per-request condition.
type ConfigurationError struct {
	Backend string
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s backend not configured: missing %s", e.Backend, strings.Join(e.Missing, ", "))
}

// IsConfiguration reports whether err stems from missing backend assets.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func synthErr(backend, reason string, err error) *SynthesisError {
	return &SynthesisError{Backend: backend, Reason: reason, Err: err}
}
