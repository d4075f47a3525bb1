package errors

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorMessage(t *testing.T) {
	err := NewAlreadyGroupedError("pid 7 is already part of a group", nil)
	assert.Equal(t, "already_grouped: pid 7 is already part of a group", err.Error())

	wrapped := NewIOError("read failed", fmt.Errorf("eof"))
	assert.Equal(t, "io: read failed: eof", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "eof")
}

func TestDomainErrorIsMatchesType(t *testing.T) {
	err := fmt.Errorf("admit: %w", NewCapacityExceededError("full", nil))

	assert.True(t, errors.Is(err, &DomainError{Type: ErrorTypeCapacityExceeded}))
	assert.False(t, errors.Is(err, &DomainError{Type: ErrorTypeAlreadyGrouped}))
	assert.True(t, IsCapacityExceededError(err))
	assert.False(t, IsOSResourceError(err))
}

func TestInvalidOptionError(t *testing.T) {
	err := NewInvalidOptionError("bogus")
	assert.True(t, IsInvalidOptionError(err))
	assert.Contains(t, err.Error(), "'bogus'")
	assert.Equal(t, "bogus", err.Context[ContextKeyOption])
}

func TestOSResourceError(t *testing.T) {
	err := NewOSResourceError("AssignProcessToJobObject", syscall.Errno(5))
	require.True(t, IsOSResourceError(err))

	code, ok := OSCode(err)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), code)
	assert.Equal(t, "AssignProcessToJobObject", Operation(err))
	assert.True(t, errors.Is(err, syscall.Errno(5)))

	plain := NewOSResourceError("CreateJobObject", fmt.Errorf("denied"))
	_, ok = OSCode(plain)
	assert.False(t, ok)
	assert.Equal(t, "CreateJobObject", Operation(plain))

	_, ok = OSCode(fmt.Errorf("not a domain error"))
	assert.False(t, ok)
	assert.Empty(t, Operation(nil))
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"invalid_argument", NewInvalidArgumentError("x", nil), IsInvalidArgumentError},
		{"already_exists", NewAlreadyExistsError("x", nil), IsAlreadyExistsError},
		{"malformed_response", NewMalformedResponseError("x", nil), IsMalformedResponseError},
		{"validation", NewValidationError("x", nil), IsValidationError},
		{"process", NewProcessError("x", nil), IsProcessError},
		{"internal", NewInternalError("x", nil), IsInternalError},
		{"cancelled", NewCancelledError("x", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())

	collection.Add(nil)
	collection.Add(NewProcessError("spawn failed", nil))
	collection.Add(NewIOError("read failed", nil))

	require.Error(t, collection.ToError())
	assert.Len(t, collection.Errors, 2)
	assert.Contains(t, collection.Error(), "2 errors occurred")
}

func TestHelpersWalkWrappedDomainErrors(t *testing.T) {
	inner := NewOSResourceError("TerminateJobObject", syscall.Errno(6))
	outer := NewInternalError("terminate failed", fmt.Errorf("group: %w", inner))

	assert.True(t, IsInternalError(outer))
	assert.True(t, IsOSResourceError(outer))
	assert.Equal(t, "TerminateJobObject", Operation(outer))
	code, ok := OSCode(outer)
	assert.True(t, ok)
	assert.Equal(t, uint32(6), code)

	nested := NewValidationError("invalid limits", NewInvalidOptionError("bogus"))
	assert.True(t, IsInvalidOptionError(nested))
}
