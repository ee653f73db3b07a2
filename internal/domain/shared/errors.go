package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a repository-level error with a stable code
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Repository-level sentinels. Storage adapters return these; the admin
// service translates them into Failures.
var (
	ErrNotFound      = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput  = NewDomainError("INVALID_INPUT", "Invalid input provided")
)

// FailureKind is the stable tag a failure is serialized with at the remote boundary
type FailureKind string

const (
	KindInvalidCredentials   FailureKind = "InvalidCredentials"
	KindInvalidData          FailureKind = "InvalidData"
	KindNoSuchEntity         FailureKind = "NoSuchEntity"
	KindEntityExists         FailureKind = "EntityExists"
	KindStorageFailure       FailureKind = "StorageFailure"
	KindDatabaseNeedsUpgrade FailureKind = "DatabaseNeedsUpgrade"
)

// Failure is the typed error every admin operation returns.
// Error() only ever returns Message; Cause is kept for logging and errors.Is/As.
type Failure struct {
	Kind    FailureKind
	Message string
	Cause   error
}

// Error implements the error interface
func (f *Failure) Error() string {
	return f.Message
}

// Unwrap returns the underlying cause
func (f *Failure) Unwrap() error {
	return f.Cause
}

// Is matches another Failure of the same kind, so the Err* sentinels below
// work with errors.Is.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// Kind sentinels for errors.Is
var (
	ErrInvalidCredentials   = &Failure{Kind: KindInvalidCredentials}
	ErrInvalidData          = &Failure{Kind: KindInvalidData}
	ErrNoSuchEntity         = &Failure{Kind: KindNoSuchEntity}
	ErrEntityExists         = &Failure{Kind: KindEntityExists}
	ErrStorageFailure       = &Failure{Kind: KindStorageFailure}
	ErrDatabaseNeedsUpgrade = &Failure{Kind: KindDatabaseNeedsUpgrade}
)

// authFailedMessage is shared by every authentication failure so that
// "no such tenant" and "wrong password" are indistinguishable.
const authFailedMessage = "authentication failed"

// InvalidCredentials returns the generic authentication failure. The cause is
// never part of the message.
func InvalidCredentials(cause error) *Failure {
	return &Failure{Kind: KindInvalidCredentials, Message: authFailedMessage, Cause: cause}
}

// InvalidData reports a violated validation rule on a field
func InvalidData(field, rule string) *Failure {
	return &Failure{
		Kind:    KindInvalidData,
		Message: fmt.Sprintf("invalid data: %s: %s", field, rule),
	}
}

// NoSuchEntity reports that a referenced entity (or tenant) does not exist
func NoSuchEntity(ref fmt.Stringer) *Failure {
	return &Failure{
		Kind:    KindNoSuchEntity,
		Message: fmt.Sprintf("no such entity: %s", ref),
		Cause:   ErrNotFound,
	}
}

// EntityExists reports a uniqueness collision
func EntityExists(what string) *Failure {
	return &Failure{
		Kind:    KindEntityExists,
		Message: fmt.Sprintf("entity already exists: %s", what),
		Cause:   ErrAlreadyExists,
	}
}

// StorageFailure wraps a persistence or extension fault
func StorageFailure(op string, cause error) *Failure {
	msg := op + " failed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Failure{Kind: KindStorageFailure, Message: msg, Cause: cause}
}

// DatabaseNeedsUpgrade reports a schema that is mid-migration or locked
func DatabaseNeedsUpgrade(cause error) *Failure {
	msg := "database needs upgrade"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Failure{Kind: KindDatabaseNeedsUpgrade, Message: msg, Cause: cause}
}

// KindOf classifies any error. Errors that are not Failures are storage faults.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindStorageFailure
}

// AsFailure returns err as a *Failure, wrapping foreign errors as StorageFailure
func AsFailure(op string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return StorageFailure(op, err)
}
