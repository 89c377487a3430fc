package source

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/record"
)

var logger = logrus.WithField("module", "source")

var (
	// ErrOpen is returned when a record's backing file or entry cannot be
	// opened or stat'ed.
	ErrOpen = errors.New("cannot open record")

	// ErrShortRead is returned when fewer bytes were read than the record's
	// measured size.
	ErrShortRead = errors.New("short read")

	// ErrManifest is returned for a malformed or inconsistent manifest.
	ErrManifest = errors.New("invalid manifest")
)

// Source provides sizes and contents of records.
type Source interface {
	// Size returns the byte length of the record without reading it.
	Size(key record.Key) (int64, error)

	// ReadInto fills dst with the record's bytes. dst must be exactly the
	// record's size; anything else is an error.
	ReadInto(key record.Key, dst []byte) error

	// Close releases resources held by the source.
	Close() error
}
