package record

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

// TestFlatten verifies flattening and its inverse across source counts
func TestFlatten(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		sources int
		want    int64
	}{
		{name: "single source", key: Key{Sample: 7, Source: 0}, sources: 1, want: 7},
		{name: "second of three sources", key: Key{Sample: 4, Source: 1}, sources: 3, want: 13},
		{name: "first sample", key: Key{Sample: 0, Source: 2}, sources: 3, want: 2},
		{name: "large index", key: Key{Sample: 1 << 30, Source: 3}, sources: 4, want: (1 << 32) + 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.Flatten(tt.sources)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.key, FromFlat(got, tt.sources))
		})
	}
}

// TestCompareMatchesFlatOrder checks that key order and flattened order agree
func TestCompareMatchesFlatOrder(t *testing.T) {
	const sources = 3
	keys := Expand([]int{5, 1, 3, 1}, sources)
	for i := 1; i < len(keys); i++ {
		assert.True(t, keys[i-1].Less(keys[i]), "%v should sort before %v", keys[i-1], keys[i])
		assert.Less(t, keys[i-1].Flatten(sources), keys[i].Flatten(sources))
	}
	assert.Equal(t, 0, Key{Sample: 2, Source: 1}.Compare(Key{Sample: 2, Source: 1}))
}

func TestSort(t *testing.T) {
	keys := []Key{{3, 0}, {1, 1}, {1, 0}, {0, 2}}
	Sort(keys)

	want := []Key{{0, 2}, {1, 0}, {1, 1}, {3, 0}}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("Sort mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandDeduplicates(t *testing.T) {
	got := Expand([]int{2, 0, 2}, 2)
	want := []Key{{0, 0}, {0, 1}, {2, 0}, {2, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", diff)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Key{Sample: 5, Source: 1}.Valid(6, 2))
	assert.False(t, Key{Sample: 6, Source: 0}.Valid(6, 2))
	assert.False(t, Key{Sample: 0, Source: 2}.Valid(6, 2))
	assert.False(t, Key{Sample: -1, Source: 0}.Valid(6, 2))
	assert.Equal(t, "4/1", Key{Sample: 4, Source: 1}.String())
}
