package source

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/dreamware/shufflestore/internal/record"
)

// BadgerSource serves records from a badger database.
type BadgerSource struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at path.
func OpenBadger(path string) (*BadgerSource, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", path, err)
	}
	return &BadgerSource{db: db}, nil
}

// NewBadgerSource wraps an already open database.
func NewBadgerSource(db *badger.DB) *BadgerSource {
	return &BadgerSource{db: db}
}

// BadgerKey returns the database key a record is stored under.
func BadgerKey(key record.Key) []byte {
	return []byte(fmt.Sprintf("sample/%d/%d", key.Sample, key.Source))
}

// Size returns the stored value's length.
func (s *BadgerSource) Size(key record.Key) (int64, error) {
	var size int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(BadgerKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			size = int64(len(val))
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("%w: record %s: %v", ErrOpen, key, err)
	}
	return size, nil
}

// ReadInto copies the stored value into dst.
func (s *BadgerSource) ReadInto(key record.Key, dst []byte) error {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(BadgerKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n = len(val)
			if n == len(dst) {
				copy(dst, val)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%w: record %s: %v", ErrOpen, key, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: record %s: stored %d bytes, want %d", ErrShortRead, key, n, len(dst))
	}
	return nil
}

// Ingest stores every record produced by read for keys in one write batch.
func (s *BadgerSource) Ingest(keys []record.Key, read func(record.Key) ([]byte, error)) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		val, err := read(k)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", k, err)
		}
		if err := wb.Set(BadgerKey(k), val); err != nil {
			return fmt.Errorf("ingest %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ingest flush: %w", err)
	}
	logger.WithField("records", len(keys)).Info("records ingested")
	return nil
}

// Close closes the database.
func (s *BadgerSource) Close() error {
	return s.db.Close()
}
