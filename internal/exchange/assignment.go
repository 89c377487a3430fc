package exchange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// ErrInvalidAssignment is returned for an order or assignment that cannot
// drive an exchange.
var ErrInvalidAssignment = errors.New("invalid assignment")

// Assignment maps each rank to the positions in the epoch's shuffled order
// whose samples it trains on. Index is rank.
type Assignment [][]int

// Validate checks a has one entry per rank and every position lies in
// [0, n).
func (a Assignment) Validate(world, n int) error {
	if len(a) != world {
		return fmt.Errorf("%w: %d ranks assigned, world is %d", ErrInvalidAssignment, len(a), world)
	}
	for r, positions := range a {
		for _, p := range positions {
			if p < 0 || p >= n {
				return fmt.Errorf("%w: rank %d position %d not in [0, %d)", ErrInvalidAssignment, r, p, n)
			}
		}
	}
	return nil
}

// Encode serializes a for broadcast: the rank count, then each rank's
// position count followed by its positions, all big-endian uint32.
func (a Assignment) Encode() []byte {
	size := 4
	for _, positions := range a {
		size += 4 + 4*len(positions)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
	for _, positions := range a {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(positions)))
		for _, p := range positions {
			buf = binary.BigEndian.AppendUint32(buf, uint32(p))
		}
	}
	return buf
}

// DecodeAssignment parses the output of Encode.
func DecodeAssignment(buf []byte) (Assignment, error) {
	next := func() (int, error) {
		if len(buf) < 4 {
			return 0, fmt.Errorf("%w: truncated encoding", ErrInvalidAssignment)
		}
		v := binary.BigEndian.Uint32(buf)
		buf = buf[4:]
		return int(v), nil
	}

	ranks, err := next()
	if err != nil {
		return nil, err
	}
	if ranks > len(buf)/4 {
		return nil, fmt.Errorf("%w: %d ranks in %d bytes", ErrInvalidAssignment, ranks, len(buf))
	}
	a := make(Assignment, ranks)
	for r := range a {
		count, err := next()
		if err != nil {
			return nil, err
		}
		if count > len(buf)/4 {
			return nil, fmt.Errorf("%w: rank %d lists %d positions in %d bytes", ErrInvalidAssignment, r, count, len(buf))
		}
		a[r] = make([]int, count)
		for i := range a[r] {
			if a[r][i], err = next(); err != nil {
				return nil, err
			}
		}
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidAssignment, len(buf))
	}
	return a, nil
}

// OrderChecksum fingerprints order so ranks can confirm they shuffled
// identically without shipping the whole permutation.
func OrderChecksum(order []int) uint32 {
	h := crc32.NewIEEE()
	var b [8]byte
	for _, v := range order {
		binary.BigEndian.PutUint64(b[:], uint64(v))
		h.Write(b[:])
	}
	return h.Sum32()
}

// ValidateOrder checks order is a permutation of [0, n).
func ValidateOrder(order []int, n int) error {
	if len(order) != n {
		return fmt.Errorf("%w: order has %d entries, dataset has %d", ErrInvalidAssignment, len(order), n)
	}
	seen := make([]bool, n)
	for pos, s := range order {
		if s < 0 || s >= n {
			return fmt.Errorf("%w: order[%d] = %d not in [0, %d)", ErrInvalidAssignment, pos, s, n)
		}
		if seen[s] {
			return fmt.Errorf("%w: sample %d appears twice in order", ErrInvalidAssignment, s)
		}
		seen[s] = true
	}
	return nil
}
