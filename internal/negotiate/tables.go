package negotiate

import (
	"fmt"

	"github.com/dreamware/shufflestore/internal/record"
)

// SizeTable maps every record in the dataset to its byte length. It is
// built once by Negotiate and is read-only afterwards, so it may be shared
// between goroutines.
type SizeTable struct {
	sizes map[record.Key]int64
	total int64
}

// NewSizeTable builds a table from entries. Used by tests and single-rank
// setups that skip negotiation.
func NewSizeTable(entries []Entry) (*SizeTable, error) {
	return decodeTable(encodeEntries(entries), len(entries))
}

// Size returns the length of key.
func (t *SizeTable) Size(key record.Key) (int64, bool) {
	s, ok := t.sizes[key]
	return s, ok
}

// Len returns the number of records in the table.
func (t *SizeTable) Len() int { return len(t.sizes) }

// TotalBytes returns the summed size of every record.
func (t *SizeTable) TotalBytes() int64 { return t.total }

// Complete verifies the table covers every key of an n-sample dataset with
// the given sources per sample, and nothing else.
func (t *SizeTable) Complete(n, sources int) error {
	if len(t.sizes) != n*sources {
		return fmt.Errorf("%w: table has %d records, dataset has %d", ErrNegotiation, len(t.sizes), n*sources)
	}
	for k := range t.sizes {
		if !k.Valid(n, sources) {
			return fmt.Errorf("%w: record %s outside dataset", ErrNegotiation, k)
		}
	}
	return nil
}

// Span locates one record in the local buffer.
type Span struct {
	Offset int64
	Size   int64
}

// End returns the offset one past the record.
func (s Span) End() int64 { return s.Offset + s.Size }

// OffsetTable places this rank's owned records in its local buffer.
type OffsetTable struct {
	keys  []record.Key
	spans map[record.Key]Span
	total int64
}

// BuildOffsets assigns each owned key the running sum of the sizes before
// it, in ascending key order. Every owned key must appear in sizes.
func BuildOffsets(owned []record.Key, sizes *SizeTable) (*OffsetTable, error) {
	keys := make([]record.Key, len(owned))
	copy(keys, owned)
	record.Sort(keys)

	t := &OffsetTable{keys: keys, spans: make(map[record.Key]Span, len(keys))}
	for _, k := range keys {
		size, ok := sizes.Size(k)
		if !ok {
			return nil, fmt.Errorf("%w: owned record %s has no negotiated size", ErrNegotiation, k)
		}
		if _, dup := t.spans[k]; dup {
			return nil, fmt.Errorf("%w: owned record %s listed twice", ErrNegotiation, k)
		}
		t.spans[k] = Span{Offset: t.total, Size: size}
		t.total += size
	}
	return t, nil
}

// Lookup returns the span of key.
func (t *OffsetTable) Lookup(key record.Key) (Span, bool) {
	s, ok := t.spans[key]
	return s, ok
}

// Keys returns the owned keys in buffer order.
func (t *OffsetTable) Keys() []record.Key { return t.keys }

// Len returns the number of owned records.
func (t *OffsetTable) Len() int { return len(t.keys) }

// Total returns the packed length of all owned records.
func (t *OffsetTable) Total() int64 { return t.total }

// Check verifies the records tile [0, Total()) with no gaps or overlap.
func (t *OffsetTable) Check() error {
	var next int64
	for _, k := range t.keys {
		s := t.spans[k]
		if s.Offset != next {
			return fmt.Errorf("record %s at offset %d, want %d", k, s.Offset, next)
		}
		next = s.End()
	}
	if next != t.total {
		return fmt.Errorf("records end at %d, total is %d", next, t.total)
	}
	return nil
}
