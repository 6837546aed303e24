package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-spark/internal/common"
	"mini-spark/internal/records"
)

func TestMapFuncToLower(t *testing.T) {
	fn, ok := MapFunc("to_lower")
	require.True(t, ok)
	out, err := fn(records.Text("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.S)
}

func TestMapFuncUnknownType(t *testing.T) {
	fn, ok := MapFunc("to_lower")
	require.True(t, ok)
	_, err := fn(records.Tuple(records.Text("x")))
	assert.Error(t, err)
}

func TestFilterFuncLongWords(t *testing.T) {
	fn, ok := FilterFunc("long_words")
	require.True(t, ok)

	keep, err := fn(records.Text("hello"))
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = fn(records.Text("hi"))
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestFlatMapTokenize(t *testing.T) {
	fn, ok := FlatMapFunc("tokenize")
	require.True(t, ok)
	out, err := fn(records.Text("Hello, World! Go rocks."))
	require.NoError(t, err)
	words := make([]string, len(out))
	for i, r := range out {
		words[i] = r.S
	}
	assert.Equal(t, []string{"Hello", "World", "Go", "rocks"}, words)
}

func TestReduceFuncSum(t *testing.T) {
	fn, ok := ReduceFunc("sum")
	require.True(t, ok)

	acc, err := fn("", false, "2")
	require.NoError(t, err)
	assert.Equal(t, "2", acc)

	acc, err = fn(acc, true, "3.5")
	require.NoError(t, err)
	assert.Equal(t, "5.5", acc)
}

func TestReduceFuncSumTypeError(t *testing.T) {
	fn, ok := ReduceFunc("sum")
	require.True(t, ok)
	_, err := fn("", false, "not-a-number")
	require.Error(t, err)
	kind, _ := common.AsTaskError(err)
	assert.Equal(t, common.KindTypeError, kind)
}

func TestReduceFuncCount(t *testing.T) {
	fn, ok := ReduceFunc("count")
	require.True(t, ok)

	acc := ""
	present := false
	for i := 0; i < 3; i++ {
		var err error
		acc, err = fn(acc, present, "1")
		require.NoError(t, err)
		present = true
	}
	assert.Equal(t, "3", acc)
}

func TestReduceValue(t *testing.T) {
	v, err := ReduceValue(records.Text("word"))
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	v, err = ReduceValue(records.KV("k", "7"))
	require.NoError(t, err)
	assert.Equal(t, "7", v)
}

func TestKnownFunction(t *testing.T) {
	assert.True(t, KnownFunction("tokenize"))
	assert.True(t, KnownFunction("sum"))
	assert.False(t, KnownFunction("does_not_exist"))
}
