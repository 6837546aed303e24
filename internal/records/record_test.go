package records

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeyAndValue(t *testing.T) {
	kv := KV("a", "1")
	k, err := kv.Key()
	require.NoError(t, err)
	assert.Equal(t, "a", k)
	v, err := kv.Value()
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	text := Text("hello")
	k, err = text.Key()
	require.NoError(t, err)
	assert.Equal(t, "hello", k)

	tup := Tuple(Text("x"), Text("y"))
	_, err = tup.Key()
	assert.Error(t, err)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	in := []Record{Text("alpha"), KV("k1", "v1"), Tuple(Text("a"), KV("b", "c"))}
	for _, r := range in {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Flush())

	out, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i, r := range in {
		assert.Equal(t, r.Kind, out[i].Kind)
	}
	assert.Equal(t, "alpha", out[0].S)
	assert.Equal(t, "k1", out[1].K)
	assert.Equal(t, "v1", out[1].V)
	assert.Len(t, out[2].Xs, 2)
}

func TestReaderEmptyStreamReturnsEOFImmediately(t *testing.T) {
	out, err := ReadAll(&bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReaderTruncatedPayloadErrors(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(Text("full record")))
	require.NoError(t, w.Flush())

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, err := ReadAll(truncated)
	assert.Error(t, err)
}
