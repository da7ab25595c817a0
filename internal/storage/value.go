package storage

import (
	"math/rand/v2"
	"sort"

	"golang.org/x/exp/slices"
)

// ValueVersion is a version number paired with the set of values observed
// for that version on a single node.
//
// Values holds more than one element only when writes carrying the same
// version were applied without being reconciled. There is no merge function;
// a conflicting set is kept as-is until a higher version replaces it.
type ValueVersion struct {
	Values  []string `json:"values"`
	Version int      `json:"version"`
}

// NewValueVersion returns a record holding a single value.
func NewValueVersion(value string, version int) ValueVersion {
	return ValueVersion{Version: version, Values: []string{value}}
}

// IsZero reports whether the record holds no values at all.
func (vv ValueVersion) IsZero() bool {
	return len(vv.Values) == 0
}

// Len returns the number of values in the set.
func (vv ValueVersion) Len() int {
	return len(vv.Values)
}

// Conflicted reports whether the record carries an unreconciled value set.
func (vv ValueVersion) Conflicted() bool {
	return len(vv.Values) > 1
}

// Contains reports whether value is in the set.
func (vv ValueVersion) Contains(value string) bool {
	return slices.Contains(vv.Values, value)
}

// Apply returns the record that results from writing value at version on top
// of vv. A higher version replaces the set, an equal version joins it, and a
// lower version is stale and leaves vv unchanged. The second return value
// reports whether the write changed anything.
func (vv ValueVersion) Apply(value string, version int) (ValueVersion, bool) {
	switch {
	case vv.IsZero() || version > vv.Version:
		return NewValueVersion(value, version), true
	case version == vv.Version:
		if vv.Contains(value) {
			return vv.Clone(), false
		}
		out := vv.Clone()
		out.Values = append(out.Values, value)
		sort.Strings(out.Values)
		return out, true
	default:
		return vv.Clone(), false
	}
}

// Resolve picks one value from the set uniformly at random. It is meant for
// presentation only; reads hand back the full set.
func (vv ValueVersion) Resolve(rng *rand.Rand) string {
	switch len(vv.Values) {
	case 0:
		return ""
	case 1:
		return vv.Values[0]
	}
	if rng == nil {
		return vv.Values[rand.IntN(len(vv.Values))]
	}
	return vv.Values[rng.IntN(len(vv.Values))]
}

// Clone returns a deep copy so callers never share the backing array.
func (vv ValueVersion) Clone() ValueVersion {
	return ValueVersion{
		Version: vv.Version,
		Values:  slices.Clone(vv.Values),
	}
}
