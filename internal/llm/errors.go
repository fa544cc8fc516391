package llm

import (
	"fmt"
)

// ConfigError signals missing or unusable provider configuration. During
// registry construction it means the adapter is skipped; it only aborts
// startup when no adapter at all is usable.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error for provider %q: %s", e.Provider, e.Reason)
}

// ProviderUnavailableError signals that the requested provider has no
// registered adapter. Surfaced to the caller, never retried.
type ProviderUnavailableError struct {
	Provider string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %q is not available", e.Provider)
}

// VendorCallError wraps a network, auth, or rate-limit failure from a
// backend. Retry policy lives above this layer.
type VendorCallError struct {
	Provider string
	Err      error
}

func (e *VendorCallError) Error() string {
	return fmt.Sprintf("provider %q call failed: %v", e.Provider, e.Err)
}

func (e *VendorCallError) Unwrap() error {
	return e.Err
}

// ToolExecutionError signals a failed tool call. The agent loop never
// aborts on it; the failure is fed back to the backend as an error-flagged
// tool result.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// ValidationError signals a malformed message, rejected before persistence.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}
