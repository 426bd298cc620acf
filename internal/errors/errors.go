package errors

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeValidation
	ErrorTypeNetwork
	ErrorTypeFileSystem
	ErrorTypeParsing
	ErrorTypeDependency
	ErrorTypeConfiguration
	ErrorTypeProtocol
	ErrorTypePermission
	ErrorTypeTimeout
	ErrorTypeNotFound
	ErrorTypeAuth
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeNetwork:
		return "NETWORK"
	case ErrorTypeFileSystem:
		return "FILESYSTEM"
	case ErrorTypeParsing:
		return "PARSING"
	case ErrorTypeDependency:
		return "DEPENDENCY"
	case ErrorTypeConfiguration:
		return "CONFIGURATION"
	case ErrorTypeProtocol:
		return "PROTOCOL"
	case ErrorTypePermission:
		return "PERMISSION"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeAuth:
		return "AUTH"
	default:
		return "UNKNOWN"
	}
}

// IntuneError is an error with a stable code, context and operator suggestions
type IntuneError struct {
	Type        ErrorType         `json:"type"`
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Cause       error             `json:"-"`
	Context     map[string]string `json:"context,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Stack       []string          `json:"stack,omitempty"`
	Retryable   bool              `json:"retryable"`
}

// Error implements the error interface
func (e *IntuneError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *IntuneError) Unwrap() error {
	return e.Cause
}

// Is matches on Type and Code, so a bare sentinel created with Sentinel
// matches every error raised with the same pair.
func (e *IntuneError) Is(target error) bool {
	if t, ok := target.(*IntuneError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error
func (e *IntuneError) WithContext(key, value string) *IntuneError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion to the error
func (e *IntuneError) WithSuggestion(suggestion string) *IntuneError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *IntuneError) WithSuggestions(suggestions []string) *IntuneError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// SetRetryable marks the error as retryable or not
func (e *IntuneError) SetRetryable(retryable bool) *IntuneError {
	e.Retryable = retryable
	return e
}

// FormatDetailed returns a detailed error message with context and suggestions
func (e *IntuneError) FormatDetailed() string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("%s error [%s]: %s\n", e.Type.String(), e.Code, e.Message))

	if len(e.Context) > 0 {
		builder.WriteString("\nContext:\n")
		for _, key := range sortedKeys(e.Context) {
			builder.WriteString(fmt.Sprintf("   %s: %s\n", key, e.Context[key]))
		}
	}

	if e.Cause != nil {
		builder.WriteString(fmt.Sprintf("\nUnderlying cause: %v\n", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		builder.WriteString("\nSuggestions:\n")
		for _, suggestion := range e.Suggestions {
			builder.WriteString(fmt.Sprintf("   - %s\n", suggestion))
		}
	}

	if e.Retryable {
		builder.WriteString("\nThis operation can be retried\n")
	}

	return builder.String()
}

// NewError creates a new IntuneError
func NewError(errorType ErrorType, code, message string) *IntuneError {
	return &IntuneError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Stack:     captureStack(),
	}
}

// WrapError wraps an existing error with IntuneError
func WrapError(err error, errorType ErrorType, code, message string) *IntuneError {
	e := NewError(errorType, code, message)
	e.Cause = err
	return e
}

// Sentinel returns a comparison value for errors.Is.
func Sentinel(errorType ErrorType, code string) *IntuneError {
	return &IntuneError{Type: errorType, Code: code, Message: code}
}

// As extracts an *IntuneError from err's chain.
func As(err error) (*IntuneError, bool) {
	for err != nil {
		if e, ok := err.(*IntuneError); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func captureStack() []string {
	var stack []string

	for i := 2; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		if strings.Contains(fn.Name(), "Intunewin") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Common error constructors

// NewValidationError creates a validation error
func NewValidationError(code, message string) *IntuneError {
	return NewError(ErrorTypeValidation, code, message).
		WithSuggestion("Check the input parameters and try again")
}

// NewNetworkError creates a network error
func NewNetworkError(code, message string) *IntuneError {
	return NewError(ErrorTypeNetwork, code, message).
		SetRetryable(true).
		WithSuggestions([]string{
			"Check your internet connection",
			"Verify graph.microsoft.com and the storage endpoint are reachable",
		})
}

// NewFileSystemError creates a filesystem error
func NewFileSystemError(code, message string) *IntuneError {
	return NewError(ErrorTypeFileSystem, code, message).
		WithSuggestions([]string{
			"Check file permissions",
			"Ensure the path exists",
			"Verify disk space availability",
		})
}

// NewParsingError creates a parsing error
func NewParsingError(code, message string) *IntuneError {
	return NewError(ErrorTypeParsing, code, message).
		WithSuggestions([]string{
			"Verify the file is an .intunewin produced by IntuneWinAppUtil",
			"Re-create the package and try again",
		})
}

// NewDependencyError creates a dependency error
func NewDependencyError(code, message string) *IntuneError {
	return NewError(ErrorTypeDependency, code, message).
		WithSuggestions([]string{
			"Run 'intunewin doctor' to check dependencies",
			"Set packaging.tool_path to the IntuneWinAppUtil.exe location",
		})
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *IntuneError {
	return NewError(ErrorTypeConfiguration, code, message).
		WithSuggestions([]string{
			"Check the configuration file syntax",
			"Run 'intunewin init' to regenerate configuration",
		})
}

// NewProtocolError creates an error for an unexpected server-side transition
func NewProtocolError(code, message string) *IntuneError {
	return NewError(ErrorTypeProtocol, code, message).
		WithSuggestion("The app record may be left partially configured; re-run to reuse it by display name")
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(code, message string) *IntuneError {
	return NewError(ErrorTypeTimeout, code, message).
		SetRetryable(true).
		WithSuggestions([]string{
			"Increase upload.poll_attempts or upload.poll_interval",
			"Try the operation again",
		})
}

// NewNotFoundError creates a not found error
func NewNotFoundError(code, message string) *IntuneError {
	return NewError(ErrorTypeNotFound, code, message).
		WithSuggestions([]string{
			"Verify the path exists",
			"Check the spelling of the path",
		})
}

// NewAuthError creates an authentication error
func NewAuthError(code, message string) *IntuneError {
	return NewError(ErrorTypeAuth, code, message).
		WithSuggestions([]string{
			"Check tenant.id, tenant.client_id and tenant.client_secret",
			"Ensure the app registration has DeviceManagementApps.ReadWrite.All",
		})
}
