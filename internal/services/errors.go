package services

import (
	"errors"

	"taskflow/internal/models"
)

// Kind classifies service failures for the API boundary.
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindStorage
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindStorage:
		return "storage_failure"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "unexpected"
}

// Error is the structured error returned by every service operation.
type Error struct {
	Kind    Kind
	Message string
	Fields  []models.FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so the sentinels
// below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrTaskNotFound       = &Error{Kind: KindNotFound, Message: "Task not found"}
	ErrAttachmentNotFound = &Error{Kind: KindNotFound, Message: "Attachment not found"}
	ErrFileNotFound       = &Error{Kind: KindNotFound, Message: "File not found on server"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "Not authorized to access this task"}
	ErrForbiddenUpdate    = &Error{Kind: KindForbidden, Message: "Not authorized to update this task"}
	ErrForbiddenDelete    = &Error{Kind: KindForbidden, Message: "Not authorized to delete this task"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Message: "User not found"}
	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Message: "Invalid credentials"}
	ErrUserExists         = &Error{Kind: KindValidation, Message: "User already exists"}
)

func validationError(fields ...models.FieldError) *Error {
	msg := "Validation failed"
	if len(fields) == 1 {
		msg = fields[0].Msg
	}
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

func storageError(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

func unexpected(msg string, err error) *Error {
	return &Error{Kind: KindUnexpected, Message: msg, Err: err}
}

// KindOf reports the kind of err; anything that is not an *Error is unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}
