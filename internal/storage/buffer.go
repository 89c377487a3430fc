package storage

import (
	"fmt"
	"hash/crc32"
)

// Buffer is the contiguous block holding every record a rank owns, packed
// back to back at the offsets negotiated during setup.
type Buffer struct {
	data []byte
}

// Allocate reserves one block of exactly total bytes.
func Allocate(total int64) (*Buffer, error) {
	if total < 0 {
		return nil, fmt.Errorf("allocate: negative size %d", total)
	}
	if int64(int(total)) != total {
		return nil, fmt.Errorf("allocate: %d bytes exceeds address space", total)
	}
	return &Buffer{data: make([]byte, total)}, nil
}

// Slice returns the n bytes starting at off. The slice aliases the buffer.
func (b *Buffer) Slice(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > int64(len(b.data)) {
		return nil, fmt.Errorf("slice [%d, %d) outside buffer of %d bytes", off, off+n, len(b.data))
	}
	return b.data[off : off+n : off+n], nil
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int64 { return int64(len(b.data)) }

// Checksum returns the CRC-32 (IEEE) of the buffer contents.
func (b *Buffer) Checksum() uint32 { return crc32.ChecksumIEEE(b.data) }
