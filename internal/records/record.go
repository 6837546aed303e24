// Package records implements the Record tagged union that flows between
// operators, and its on-disk framing used by shuffle buckets and spill files.
package records

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Kind discriminates the Record variant.
type Kind string

const (
	KindText  Kind = "text"
	KindKV    Kind = "kv"
	KindTuple Kind = "tup"
)

// Record is a tagged variant of {Text(string), KeyValue(string,string),
// Tuple(list<Record>)}. It is opaque to the scheduler and interpreted only
// by operators.
type Record struct {
	Kind Kind      `json:"t"`
	S    string    `json:"s,omitempty"`
	K    string    `json:"k,omitempty"`
	V    string    `json:"v,omitempty"`
	Xs   []Record  `json:"xs,omitempty"`
}

// Text builds a text-variant Record.
func Text(s string) Record { return Record{Kind: KindText, S: s} }

// KV builds a key-value-variant Record.
func KV(k, v string) Record { return Record{Kind: KindKV, K: k, V: v} }

// Tuple builds a tuple-variant Record out of the given children.
func Tuple(xs ...Record) Record { return Record{Kind: KindTuple, Xs: xs} }

// Key extracts the grouping key of a record for reduce_by_key / shuffle /
// join. KV records use K; text records use the whole string as their own
// key (so narrow pipelines that never key a record still shuffle
// deterministically). Tuples have no key.
func (r Record) Key() (string, error) {
	switch r.Kind {
	case KindKV:
		return r.K, nil
	case KindText:
		return r.S, nil
	default:
		return "", errors.Errorf("record of kind %q has no key", r.Kind)
	}
}

// Value returns the scalar value carried by a KV or text record.
func (r Record) Value() (string, error) {
	switch r.Kind {
	case KindKV:
		return r.V, nil
	case KindText:
		return r.S, nil
	default:
		return "", errors.Errorf("record of kind %q has no scalar value", r.Kind)
	}
}

// Writer frames records as "u32 little-endian length | JSON payload" and
// writes them sequentially, matching the wire format shared by shuffle
// buckets and spill files.
type Writer struct {
	w   *bufio.Writer
	buf [4]byte
}

// NewWriter wraps w in a framed Record writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends one framed record.
func (fw *Writer) Write(r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	binary.LittleEndian.PutUint32(fw.buf[:], uint32(len(payload)))
	if _, err := fw.w.Write(fw.buf[:]); err != nil {
		return errors.Wrap(err, "write record length")
	}
	if _, err := fw.w.Write(payload); err != nil {
		return errors.Wrap(err, "write record payload")
	}
	return nil
}

// Flush flushes any buffered bytes to the underlying writer.
func (fw *Writer) Flush() error {
	return fw.w.Flush()
}

// Reader reads framed records sequentially until EOF.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r in a framed Record reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next reads the next record, returning io.EOF once the stream is
// exhausted.
func (fr *Reader) Next() (Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, errors.Wrap(io.ErrUnexpectedEOF, "truncated record length")
		}
		return Record{}, err // propagates io.EOF unwrapped
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return Record{}, errors.Wrap(err, "truncated record payload")
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, errors.Wrap(err, "unmarshal record")
	}
	return rec, nil
}

// ReadAll drains every record from r into a slice. Intended for bounded test
// fixtures and small shuffle buckets, not for the streaming hot path.
func ReadAll(r io.Reader) ([]Record, error) {
	fr := NewReader(r)
	var out []Record
	for {
		rec, err := fr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
