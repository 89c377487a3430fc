// Package record defines the typed key that identifies one stored blob: a
// sample index paired with one of that sample's source slots.
package record

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Key identifies one record: source slot Source of sample Sample.
//
// Keys are comparable and are used directly as map keys throughout the
// store, so two distinct (sample, source) pairs can never collide the way
// flattened integers could if the sources-per-sample count disagreed.
type Key struct {
	Sample int // Sample index in [0, N)
	Source int // Source slot in [0, S)
}

// FromFlat inverts Flatten for a dataset with the given sources per sample.
func FromFlat(flat int64, sources int) Key {
	s := int64(sources)
	return Key{Sample: int(flat / s), Source: int(flat % s)}
}

// Flatten returns Sample*sources + Source, the index of the key in the
// dense key space of a dataset with the given sources per sample.
func (k Key) Flatten(sources int) int64 {
	return int64(k.Sample)*int64(sources) + int64(k.Source)
}

// Compare orders keys by sample, then by source. This matches ascending
// flattened order for any fixed sources-per-sample count.
func (k Key) Compare(o Key) int {
	switch {
	case k.Sample < o.Sample:
		return -1
	case k.Sample > o.Sample:
		return 1
	case k.Source < o.Source:
		return -1
	case k.Source > o.Source:
		return 1
	}
	return 0
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// Valid reports whether k lies inside a dataset of n samples with the
// given sources per sample.
func (k Key) Valid(n, sources int) bool {
	return k.Sample >= 0 && k.Sample < n && k.Source >= 0 && k.Source < sources
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Sample, k.Source)
}

// Sort orders keys ascending in place.
func Sort(keys []Key) {
	slices.SortFunc(keys, func(a, b Key) int { return a.Compare(b) })
}

// Expand returns every key of the given samples in ascending order.
// The samples are sorted and deduplicated first.
func Expand(samples []int, sources int) []Key {
	s := slices.Clone(samples)
	slices.Sort(s)
	s = slices.Compact(s)
	keys := make([]Key, 0, len(s)*sources)
	for _, sample := range s {
		for src := 0; src < sources; src++ {
			keys = append(keys, Key{Sample: sample, Source: src})
		}
	}
	return keys
}
