package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorWrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	te := NewError(KindIoError, cause, "writing output")
	assert.Equal(t, "IoError: writing output", te.Error())
	assert.ErrorIs(t, te.Unwrap(), cause)
}

func TestErrorfNoCause(t *testing.T) {
	te := Errorf(KindTypeError, "expected %s, got %s", "int", "string")
	assert.Equal(t, KindTypeError, te.Kind)
	assert.Contains(t, te.Error(), "expected int, got string")
	assert.Nil(t, te.Unwrap())
}

func TestAsTaskErrorRecognizesTaskError(t *testing.T) {
	te := Errorf(KindMissingKey, "no such key")
	kind, msg := AsTaskError(te)
	assert.Equal(t, KindMissingKey, kind)
	assert.Equal(t, "no such key", msg)
}

func TestAsTaskErrorDefaultsUnknownErrorsToIoError(t *testing.T) {
	kind, msg := AsTaskError(errors.New("boom"))
	assert.Equal(t, KindIoError, kind)
	assert.Equal(t, "boom", msg)
}

func TestAsTaskErrorNilIsEmpty(t *testing.T) {
	kind, msg := AsTaskError(nil)
	assert.Equal(t, ErrorKind(""), kind)
	assert.Equal(t, "", msg)
}

func TestAsTaskErrorUnwrapsWrappedTaskError(t *testing.T) {
	te := NewError(KindFetchFailed, errors.New("connection reset"), "fetching bucket")
	wrapped := errWrap{te}
	kind, msg := AsTaskError(wrapped)
	assert.Equal(t, KindFetchFailed, kind)
	assert.Equal(t, "fetching bucket", msg)
}

type errWrap struct{ err error }

func (e errWrap) Error() string { return e.err.Error() }
func (e errWrap) Unwrap() error { return e.err }

func TestErrorsAsFindsTaskErrorPointer(t *testing.T) {
	te := NewError(KindTimeout, nil, "task exceeded deadline")
	var target *TaskError
	require.True(t, errors.As(error(te), &target))
	assert.Equal(t, KindTimeout, target.Kind)
}
