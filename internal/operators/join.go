package operators

import (
	"mini-spark/internal/common"
	"mini-spark/internal/records"
)

// InnerJoin implements join_by_key as an inner join. The left side is
// materialized into a key -> []Record map; the right side probes it.
// Matches are emitted as Tuple(left, right) records, preserving right-side
// order.
func InnerJoin(left, right []records.Record) ([]records.Record, error) {
	index := make(map[string][]records.Record, len(left))
	for _, l := range left {
		k, err := l.Key()
		if err != nil {
			return nil, common.NewError(common.KindMissingKey, err, "join: left record missing key")
		}
		index[k] = append(index[k], l)
	}

	var out []records.Record
	for _, r := range right {
		k, err := r.Key()
		if err != nil {
			return nil, common.NewError(common.KindMissingKey, err, "join: right record missing key")
		}
		for _, l := range index[k] {
			out = append(out, records.Tuple(l, r))
		}
	}
	return out, nil
}
