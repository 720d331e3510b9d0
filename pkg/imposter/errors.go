package imposter

import (
	"fmt"
	"net/http"
)

// ValidationError reports a malformed response configuration.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
	}
	return e.Message
}

// StatusCode returns the HTTP status code for this error.
func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *ValidationError) Hint() string {
	return "Set exactly one of is, inject or proxy on each response."
}

// InjectionError reports a fault in rule-author supplied logic.
type InjectionError struct {
	Message string
	Source  string
}

func (e *InjectionError) Error() string {
	return "invalid injection: " + e.Message
}

// StatusCode returns the HTTP status code for this error.
func (e *InjectionError) StatusCode() int {
	return http.StatusBadRequest
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *InjectionError) Hint() string {
	if e.Source == "" {
		return "Start the server with --allow-injection to enable inject responses."
	}
	return "Check the injected source for syntax errors and runtime faults."
}

// MissingResourceError reports a lookup miss, such as a stale, duplicate or
// forged proxy resolution key.
type MissingResourceError struct {
	Resource string
}

func (e *MissingResourceError) Error() string {
	return fmt.Sprintf("no pending proxy resolution for %s", e.Resource)
}

// StatusCode returns the HTTP status code for this error.
func (e *MissingResourceError) StatusCode() int {
	return http.StatusNotFound
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *MissingResourceError) Hint() string {
	return "Each callback URL can be completed once. Check that the key was issued by this imposter and not already used."
}
