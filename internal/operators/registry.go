// Package operators implements the fixed registry of named functions plus
// the Map/Filter/FlatMap transforms, the reducers used by reduce_by_key,
// and the join terminal operator that the worker executor drives,
// operating over records.Record.
package operators

import (
	"strconv"
	"strings"

	"mini-spark/internal/common"
	"mini-spark/internal/records"
)

// MapFn transforms one record into exactly one record.
type MapFn func(records.Record) (records.Record, error)

// FilterFn is a predicate over one record.
type FilterFn func(records.Record) (bool, error)

// FlatMapFn expands one record into zero or more records.
type FlatMapFn func(records.Record) ([]records.Record, error)

// ReduceFn combines an accumulator string with one more value, both string
// encoded so the same accumulator can spill to disk and be merged back.
type ReduceFn func(acc string, present bool, val string) (string, error)

var mapFns = map[string]MapFn{
	"to_lower": mapString(strings.ToLower),
	"to_upper": mapString(strings.ToUpper),
	"identity": func(r records.Record) (records.Record, error) { return r, nil },
}

var filterFns = map[string]FilterFn{
	"non_empty": func(r records.Record) (bool, error) {
		s, err := representative(r)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(s) != "", nil
	},
	"long_words": func(r records.Record) (bool, error) {
		s, err := representative(r)
		if err != nil {
			return false, err
		}
		return len(s) > 4, nil
	},
}

var flatMapFns = map[string]FlatMapFn{
	"tokenize": func(r records.Record) ([]records.Record, error) {
		s, err := representative(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.Map(func(ch rune) rune {
			if strings.ContainsRune(".,;?!-", ch) {
				return -1
			}
			return ch
		}, s)
		var out []records.Record
		for _, w := range strings.Fields(cleaned) {
			out = append(out, records.Text(w))
		}
		return out, nil
	},
}

var reduceFns = map[string]ReduceFn{
	"sum":   numericReduce(func(acc, v float64) float64 { return acc + v }, 0),
	"min":   numericReduceFirst(func(acc, v float64) float64 { return min(acc, v) }),
	"max":   numericReduceFirst(func(acc, v float64) float64 { return max(acc, v) }),
	"count": func(acc string, present bool, _ string) (string, error) {
		n := int64(0)
		if present {
			parsed, err := strconv.ParseInt(acc, 10, 64)
			if err != nil {
				return "", common.NewError(common.KindTypeError, err, "count accumulator corrupt")
			}
			n = parsed
		}
		return strconv.FormatInt(n+1, 10), nil
	},
}

// MapFunc looks up a registered map function.
func MapFunc(name string) (MapFn, bool) { fn, ok := mapFns[name]; return fn, ok }

// FilterFunc looks up a registered filter predicate.
func FilterFunc(name string) (FilterFn, bool) { fn, ok := filterFns[name]; return fn, ok }

// FlatMapFunc looks up a registered flat-map function.
func FlatMapFunc(name string) (FlatMapFn, bool) { fn, ok := flatMapFns[name]; return fn, ok }

// ReduceFunc looks up a registered reducer for reduce_by_key.
func ReduceFunc(name string) (ReduceFn, bool) { fn, ok := reduceFns[name]; return fn, ok }

// KnownFunction reports whether name is registered in any category; used
// by DAG validation to reject unknown named functions at admission.
func KnownFunction(name string) bool {
	if _, ok := mapFns[name]; ok {
		return true
	}
	if _, ok := filterFns[name]; ok {
		return true
	}
	if _, ok := flatMapFns[name]; ok {
		return true
	}
	if _, ok := reduceFns[name]; ok {
		return true
	}
	return false
}

func mapString(f func(string) string) MapFn {
	return func(r records.Record) (records.Record, error) {
		switch r.Kind {
		case records.KindText:
			return records.Text(f(r.S)), nil
		case records.KindKV:
			return records.KV(r.K, f(r.V)), nil
		default:
			return records.Record{}, common.Errorf(common.KindTypeError, "map: cannot apply string fn to %s record", r.Kind)
		}
	}
}

func representative(r records.Record) (string, error) {
	switch r.Kind {
	case records.KindText:
		return r.S, nil
	case records.KindKV:
		return r.V, nil
	default:
		return "", common.Errorf(common.KindTypeError, "cannot treat %s record as scalar", r.Kind)
	}
}

// ReduceValue is the value a record contributes to reduce_by_key: the
// explicit value for KV records, or the constant "1" for Text records so
// that reduce_by_key(token, sum) over tokens counts occurrences.
func ReduceValue(r records.Record) (string, error) {
	switch r.Kind {
	case records.KindKV:
		return r.V, nil
	case records.KindText:
		return "1", nil
	default:
		return "", common.Errorf(common.KindTypeError, "reduce_by_key: cannot reduce %s record", r.Kind)
	}
}

func numericReduce(combine func(acc, v float64) float64, zero float64) ReduceFn {
	return func(acc string, present bool, val string) (string, error) {
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "", common.NewError(common.KindTypeError, err, "reducer expected a numeric value, got "+strconv.Quote(val))
		}
		base := zero
		if present {
			base, err = strconv.ParseFloat(acc, 64)
			if err != nil {
				return "", common.NewError(common.KindTypeError, err, "accumulator corrupt")
			}
		}
		return formatFloat(combine(base, v)), nil
	}
}

func numericReduceFirst(combine func(acc, v float64) float64) ReduceFn {
	return func(acc string, present bool, val string) (string, error) {
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "", common.NewError(common.KindTypeError, err, "reducer expected a numeric value, got "+strconv.Quote(val))
		}
		if !present {
			return formatFloat(v), nil
		}
		base, err := strconv.ParseFloat(acc, 64)
		if err != nil {
			return "", common.NewError(common.KindTypeError, err, "accumulator corrupt")
		}
		return formatFloat(combine(base, v)), nil
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
