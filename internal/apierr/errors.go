// Package apierr defines the typed errors shared across kernel components
// and the translation of those errors at the process boundaries (HTTP
// status codes, CLI exit codes).
//
// Components return these types directly; callers branch with the Is*
// helpers, which unwrap. String matching on error text is never required.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents a resource not found error with contextual
// information. The error includes resource type and name for precise error
// reporting and supports custom error messages for specific use cases.
type NotFoundError struct {
	// ResourceType categorizes the type of resource that was not found
	// (e.g., "service", "job", "object", "permission set")
	ResourceType string

	// ResourceName is the specific identifier of the resource that was not found
	ResourceName string

	// Message provides a custom error message if the default format is insufficient
	Message string
}

// Error implements the error interface for NotFoundError.
// Returns either the custom message if provided, or a formatted default
// message using the resource type and name.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is a NotFoundError using error unwrapping.
//
// Example:
//
//	svc, err := registry.Get("cache")
//	if apierr.IsNotFound(err) {
//	    // Handle not found case
//	}
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource
// type and name. This is the standard way to create not found errors
// throughout the kernel.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// NewNotFoundErrorWithMessage creates a new NotFoundError with a custom
// message, used when the default format doesn't provide sufficient context.
func NewNotFoundErrorWithMessage(resourceType, resourceName, message string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
		Message:      message,
	}
}

// Specific NotFoundError constructors for each resource type.
// These provide convenient, type-specific error creation with consistent naming.
var (
	// NewServiceNotFoundError creates a service not found error.
	NewServiceNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("service", name)
	}

	// NewPluginNotFoundError creates a plugin not found error.
	NewPluginNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("plugin", name)
	}

	// NewJobNotFoundError creates a job not found error.
	NewJobNotFoundError = func(id string) *NotFoundError {
		return NewNotFoundError("job", id)
	}

	// NewObjectNotFoundError creates an object definition not found error.
	NewObjectNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("object", name)
	}

	// NewRecordNotFoundError creates a record not found error.
	NewRecordNotFoundError = func(id string) *NotFoundError {
		return NewNotFoundError("record", id)
	}

	// NewPermissionSetNotFoundError creates a permission set not found error.
	NewPermissionSetNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("permission set", name)
	}

	// NewMetadataNotFoundError creates a metadata entry not found error.
	NewMetadataNotFoundError = func(key string) *NotFoundError {
		return NewNotFoundError("metadata entry", key)
	}

	// NewChannelNotFoundError creates a notification channel not found error.
	NewChannelNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("notification channel", name)
	}

	// NewTemplateNotFoundError creates a notification template not found error.
	NewTemplateNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("template", name)
	}

	// NewWorkflowNotFoundError creates a workflow not found error.
	NewWorkflowNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("workflow", name)
	}

	// NewNotificationNotFoundError creates a notification not found error.
	NewNotificationNotFoundError = func(id string) *NotFoundError {
		return NewNotFoundError("notification", id)
	}
)

// PermissionDeniedError represents a denied authorization check. It carries
// the code PERMISSION_DENIED and maps to HTTP 403 at the server boundary.
type PermissionDeniedError struct {
	// UserID is the subject of the denied check.
	UserID string

	// ObjectName is the object the check was performed against.
	ObjectName string

	// Action is the denied action (create, read, update, delete).
	Action string

	// Reason is the human-readable denial reason.
	Reason string
}

// Error implements the error interface for PermissionDeniedError.
func (e *PermissionDeniedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("No permission for action '%s' on object '%s'", e.Action, e.ObjectName)
}

// Code returns the stable machine-readable code for this error kind.
func (e *PermissionDeniedError) Code() string { return "PERMISSION_DENIED" }

// IsPermissionDenied checks if an error is a PermissionDeniedError using
// error unwrapping.
func IsPermissionDenied(err error) bool {
	var denied *PermissionDeniedError
	return errors.As(err, &denied)
}

// NewPermissionDeniedError creates a PermissionDeniedError with the default
// reason format.
func NewPermissionDeniedError(userID, objectName, action string) *PermissionDeniedError {
	return &PermissionDeniedError{
		UserID:     userID,
		ObjectName: objectName,
		Action:     action,
		Reason:     fmt.Sprintf("No permission for action '%s' on object '%s'", action, objectName),
	}
}

// ConflictError represents a uniqueness violation, e.g. registering a
// service or plugin under a name that is already taken.
type ConflictError struct {
	ResourceType string
	ResourceName string
	Message      string
}

// Error implements the error interface for ConflictError.
func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s already registered", e.ResourceType, e.ResourceName)
}

// IsConflict checks if an error is a ConflictError using error unwrapping.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// NewConflictError creates a new ConflictError.
func NewConflictError(resourceType, resourceName string) *ConflictError {
	return &ConflictError{ResourceType: resourceType, ResourceName: resourceName}
}

// NotCustomizableError is raised when a mutation targets a system-owned
// metadata entry. The entry survives the attempt untouched.
type NotCustomizableError struct {
	// EntryType is "object" or "field".
	EntryType string

	// Name identifies the protected entry ("account" or "account.status").
	Name string
}

// Error implements the error interface for NotCustomizableError.
func (e *NotCustomizableError) Error() string {
	return fmt.Sprintf("system %s %s is not customizable", e.EntryType, e.Name)
}

// IsNotCustomizable checks if an error is a NotCustomizableError.
func IsNotCustomizable(err error) bool {
	var nc *NotCustomizableError
	return errors.As(err, &nc)
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates field-level failures. Validators collect every
// problem before returning so the operator sees all of them at once, never
// just the first.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// Add appends a field error.
func (e *ValidationErrors) Add(field, format string, args ...interface{}) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any failure was collected.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// OrNil returns the collection as an error, or nil when empty. Callers use
// this as the single return point of a collect-all validator.
func (e *ValidationErrors) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Error implements the error interface, joining all collected failures.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// IsValidation checks if an error is a ValidationErrors using error unwrapping.
func IsValidation(err error) bool {
	var ve *ValidationErrors
	return errors.As(err, &ve)
}

// AsValidation extracts the ValidationErrors from an error chain, or nil.
func AsValidation(err error) *ValidationErrors {
	var ve *ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

// LifecycleError records which plugin and phase broke a bootstrap or
// shutdown, wrapping the plugin's own error.
type LifecycleError struct {
	// Plugin is the identifier of the failing plugin.
	Plugin string

	// Phase is the lifecycle phase that failed (init, start, destroy).
	Phase string

	// Err is the underlying error returned by the plugin.
	Err error
}

// Error implements the error interface for LifecycleError.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("plugin %s failed during %s: %v", e.Plugin, e.Phase, e.Err)
}

// Unwrap exposes the plugin's own error to errors.Is/As.
func (e *LifecycleError) Unwrap() error { return e.Err }

// NewLifecycleError creates a LifecycleError.
func NewLifecycleError(plugin, phase string, err error) *LifecycleError {
	return &LifecycleError{Plugin: plugin, Phase: phase, Err: err}
}
