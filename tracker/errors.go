package tracker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies tracker failures for transports.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindValidation           ErrorKind = "validation"
	KindInsufficientEvidence ErrorKind = "insufficient_evidence"
	KindPayloadTooLarge      ErrorKind = "payload_too_large"
	KindNoFileProvided       ErrorKind = "no_file_provided"
	KindStorage              ErrorKind = "storage_failure"
)

// Error is the error type returned by the tracker.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind-only sentinels (no message) against any error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrInsufficientEvidence = &Error{Kind: KindInsufficientEvidence, Message: "report must include summary and at least one evidence link or attachment"}
	ErrPayloadTooLarge      = &Error{Kind: KindPayloadTooLarge, Message: "file exceeds the upload size limit"}
	ErrNoFileProvided       = &Error{Kind: KindNoFileProvided, Message: "no file uploaded"}
	ErrStorage              = &Error{Kind: KindStorage}

	ErrTaskNotFound = &Error{Kind: KindNotFound, Message: "task not found"}
)

// KindOf 返回错误分类，未知错误归为存储失败
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindStorage
}

func validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func taskNotFound(id int64) error {
	return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
}

func storageErr(op string, err error) error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}
