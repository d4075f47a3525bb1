package errors

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeInvalidArgument   ErrorType = "invalid_argument"
	ErrorTypeInvalidOption     ErrorType = "invalid_option"
	ErrorTypeAlreadyExists     ErrorType = "already_exists"
	ErrorTypeAlreadyGrouped    ErrorType = "already_grouped"
	ErrorTypeCapacityExceeded  ErrorType = "capacity_exceeded"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	ErrorTypeOSResource        ErrorType = "os_resource"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// Context keys shared by the constructors below
const (
	ContextKeyOperation = "op"
	ContextKeyOSCode    = "os_code"
	ContextKeyOption    = "option"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Group errors
func NewInvalidArgumentError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInvalidArgument, message, cause)
}

// NewInvalidOptionError names the offending limit option both in the message and in the context.
func NewInvalidOptionError(option string) *DomainError {
	return NewDomainError(ErrorTypeInvalidOption, fmt.Sprintf("invalid option '%s'", option), nil).
		WithContext(ContextKeyOption, option)
}

func NewAlreadyExistsError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAlreadyExists, message, cause)
}

func NewAlreadyGroupedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAlreadyGrouped, message, cause)
}

func NewCapacityExceededError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCapacityExceeded, message, cause)
}

func NewMalformedResponseError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeMalformedResponse, message, cause)
}

// NewOSResourceError wraps a failed OS call. The failing operation and, when the
// cause carries one, the OS error code are recorded in the context.
func NewOSResourceError(op string, cause error) *DomainError {
	e := NewDomainError(ErrorTypeOSResource, op+" failed", cause).WithContext(ContextKeyOperation, op)
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		e.WithContext(ContextKeyOSCode, uint32(errno))
	}
	return e
}

// Wrapper layer errors
func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Error checking helpers
func isType(err error, errorType ErrorType) bool {
	return err != nil && errors.Is(err, &DomainError{Type: errorType})
}

func IsInvalidArgumentError(err error) bool {
	return isType(err, ErrorTypeInvalidArgument)
}

func IsInvalidOptionError(err error) bool {
	return isType(err, ErrorTypeInvalidOption)
}

func IsAlreadyExistsError(err error) bool {
	return isType(err, ErrorTypeAlreadyExists)
}

func IsAlreadyGroupedError(err error) bool {
	return isType(err, ErrorTypeAlreadyGrouped)
}

func IsCapacityExceededError(err error) bool {
	return isType(err, ErrorTypeCapacityExceeded)
}

func IsMalformedResponseError(err error) bool {
	return isType(err, ErrorTypeMalformedResponse)
}

func IsOSResourceError(err error) bool {
	return isType(err, ErrorTypeOSResource)
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

// contextValue returns the first value recorded under key along the chain
func contextValue(err error, key string) (interface{}, bool) {
	for err != nil {
		if domainErr, ok := err.(*DomainError); ok {
			if value, found := domainErr.Context[key]; found {
				return value, true
			}
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}

// OSCode returns the OS error code recorded by NewOSResourceError.
func OSCode(err error) (uint32, bool) {
	value, _ := contextValue(err, ContextKeyOSCode)
	code, ok := value.(uint32)
	return code, ok
}

// Operation returns the failing operation recorded by NewOSResourceError.
func Operation(err error) string {
	value, _ := contextValue(err, ContextKeyOperation)
	op, _ := value.(string)
	return op
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
