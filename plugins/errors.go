package plugins

import (
	"errors"
	"fmt"
)

// Common error variables for plugin registry and lifecycle operations.
var (
	// ErrPluginNotFound indicates a descriptor with no registered factory.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginAlreadyRegistered indicates a second registration under an
	// identity that is already taken.
	ErrPluginAlreadyRegistered = errors.New("plugin already registered")

	// ErrInvalidDescriptor indicates a descriptor missing its identity.
	ErrInvalidDescriptor = errors.New("invalid plugin descriptor")

	// ErrVersionMismatch indicates a plugin built against a different API
	// version; its factory refused to instantiate.
	ErrVersionMismatch = errors.New("plugin API version mismatch")
)

// PluginError is a detailed error from a plugin operation.
type PluginError struct {
	// PluginID identifies the plugin where the error occurred.
	PluginID string

	// Operation describes the action being performed.
	Operation string

	// Message provides details of the failure.
	Message string

	// Err is the underlying error, when any.
	Err error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %s failed: %s (%v)", e.PluginID, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s failed: %s", e.PluginID, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error-chain handling.
func (e *PluginError) Unwrap() error {
	return e.Err
}

// NewPluginError creates a PluginError with the given details.
func NewPluginError(pluginID, operation, message string, err error) *PluginError {
	return &PluginError{
		PluginID:  pluginID,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
