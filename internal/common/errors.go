package common

import "github.com/pkg/errors"

// ErrorKind is the closed taxonomy of task error kinds, transmitted over the wire
// as a plain string so master and worker don't need to share Go error
// types.
type ErrorKind string

const (
	KindInvalidDag     ErrorKind = "InvalidDag"
	KindInputNotFound  ErrorKind = "InputNotFound"
	KindReaderError    ErrorKind = "ReaderError"
	KindUnknownFunc    ErrorKind = "UnknownFunction"
	KindTypeError      ErrorKind = "TypeError"
	KindMissingKey     ErrorKind = "MissingKey"
	KindIoError        ErrorKind = "IoError"
	KindFetchFailed    ErrorKind = "FetchFailed"
	KindTimeout        ErrorKind = "Timeout"
	KindCancelled      ErrorKind = "Cancelled"
)

// TaskError is a Kind-tagged error that crosses the worker -> master
// boundary. It wraps the underlying cause with pkg/errors so stack context
// survives locally, while Kind/Message are what actually get serialized.
type TaskError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func NewError(kind ErrorKind, cause error, msg string) *TaskError {
	return &TaskError{Kind: kind, Message: msg, cause: errors.WithStack(cause)}
}

func (e *TaskError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *TaskError) Unwrap() error { return e.cause }

// Errorf builds a TaskError without an underlying cause, formatting Message
// the way errors.Errorf would.
func Errorf(kind ErrorKind, format string, args ...interface{}) *TaskError {
	return &TaskError{Kind: kind, Message: errors.Errorf(format, args...).Error()}
}

// AsTaskError extracts the Kind/Message pair to report to the master,
// defaulting unrecognized errors to IoError so a bare Go error from deep in
// the stack never crashes task reporting.
func AsTaskError(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind, te.Message
	}
	return KindIoError, err.Error()
}
