package core

import "fmt"

// ModelNotFoundError reports a request for a model the gateway does not
// serve, or one that is disabled.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found", e.Model)
}

// ProviderUnavailableError reports that no provider could take the call:
// the primary is down or disabled and no fallback qualified.
type ProviderUnavailableError struct {
	Provider string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %q unavailable", e.Provider)
}

// UpstreamError wraps a failure returned by the provider itself.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
