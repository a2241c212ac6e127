package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested record could not be found.
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden indicates that the session may not act on the requested record.
	ErrForbidden = errors.New("forbidden")
	// ErrConfirmationRequired indicates that a destructive call was attempted without confirmation.
	ErrConfirmationRequired = errors.New("confirmation required")
)

// Coder is implemented by every error in the taxonomy. Codes take the form
// "<operation>.<reason>" and are stable across releases.
type Coder interface {
	Code() string
}

// CodeOf returns the code of the first Coder in the chain, or an empty string.
func CodeOf(err error) string {
	var coder Coder
	if errors.As(err, &coder) {
		return coder.Code()
	}
	return ""
}

// ValidationError reports malformed or missing input. It is raised before any store call.
type ValidationError struct {
	Operation string
	Field     string
	Reason    string
}

// Validation constructs a ValidationError.
func Validation(operation, field, reason string) error {
	return &ValidationError{Operation: operation, Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Operation, e.Field, e.Reason)
}

func (e *ValidationError) Code() string {
	return e.Operation + ".invalid_" + e.Field
}

// RetrievalError wraps a record store read failure.
type RetrievalError struct {
	Operation string
	Err       error
}

// Retrieval wraps err as a RetrievalError.
func Retrieval(operation string, err error) error {
	return &RetrievalError{Operation: operation, Err: err}
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s: retrieval failed: %v", e.Operation, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

func (e *RetrievalError) Code() string {
	return e.Operation + ".retrieval_failed"
}

// MutationError wraps a record store write failure. Prior state is left unchanged.
type MutationError struct {
	Operation string
	Err       error
}

// Mutation wraps err as a MutationError.
func Mutation(operation string, err error) error {
	return &MutationError{Operation: operation, Err: err}
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: mutation failed: %v", e.Operation, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

func (e *MutationError) Code() string {
	return e.Operation + ".mutation_failed"
}

// AuthError reports a rejected sign-in, sign-up or session. Message is safe to show to the user.
type AuthError struct {
	Reason  string
	Message string
	Err     error
}

// Auth constructs an AuthError.
func Auth(reason, message string) error {
	return &AuthError{Reason: reason, Message: message}
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Code() string {
	return "auth." + e.Reason
}

// OrphanedIdentityError reports an identity whose profile could not be created and whose
// compensating removal also failed.
type OrphanedIdentityError struct {
	IdentityID string
	Err        error
}

func (e *OrphanedIdentityError) Error() string {
	return fmt.Sprintf("identity %s left without profile: %v", e.IdentityID, e.Err)
}

func (e *OrphanedIdentityError) Unwrap() error {
	return e.Err
}

func (e *OrphanedIdentityError) Code() string {
	return "users.create_operator.orphaned_identity"
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
