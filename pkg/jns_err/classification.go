// pkg/jns_err/classification.go
//
// Error classification with remediation hints. The process exit code is 1 for any
// error; categories only drive log fields and the remediation text shown to the operator.

package jns_err

import (
	"fmt"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// ErrorCategory classifies errors for appropriate handling
type ErrorCategory int

const (
	// CategorySystem - local OS/filesystem issues
	CategorySystem ErrorCategory = iota
	// CategoryValidation - bad arguments or configuration
	CategoryValidation
	// CategoryNetwork - connectivity or TLS trust problems reaching the coordinator
	CategoryNetwork
	// CategoryCoordinator - the coordinator rejected a request or never brought the node up
	CategoryCoordinator
	// CategoryInternal - config-schema mismatch or bug in this tool
	CategoryInternal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryNetwork:
		return "network"
	case CategoryCoordinator:
		return "coordinator"
	case CategoryInternal:
		return "internal"
	default:
		return "system"
	}
}

// ClassifiedError wraps an error with category and remediation info
type ClassifiedError struct {
	Category    ErrorCategory
	Message     string
	Cause       error
	Remediation []string
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)

	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Remediation) > 0 {
		sb.WriteString("\n\nHow to fix:")
		for i, step := range e.Remediation {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// CategoryOf returns the category of the first ClassifiedError in err's chain,
// or CategorySystem when there is none.
func CategoryOf(err error) ErrorCategory {
	var classified *ClassifiedError
	if cerr.As(err, &classified) {
		return classified.Category
	}
	if IsExpectedUserError(err) {
		return CategoryValidation
	}
	return CategorySystem
}

// ExitCode is 0 for nil and 1 for every other error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// NewValidationError creates an error for input validation failures
func NewValidationError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewNetworkError creates an error for network issues
func NewNetworkError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryNetwork,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewCoordinatorError creates an error for requests the coordinator refused or
// conditions it never reached.
func NewCoordinatorError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryCoordinator,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewInternalError creates an error for schema mismatches and bugs.
func NewInternalError(message string, cause error) error {
	return &ClassifiedError{
		Category: CategoryInternal,
		Message:  message,
		Cause:    cause,
		Remediation: []string{
			"The node configuration document has a shape this tool does not manage",
			"Include the DEBUG output of a --verbose run when reporting it",
		},
	}
}

// NewFilesystemError creates an error for local file problems
func NewFilesystemError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategorySystem,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}
