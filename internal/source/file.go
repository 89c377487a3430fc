package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dreamware/shufflestore/internal/record"
)

// FileSource reads each record from its own file.
type FileSource struct {
	resolver Resolver
}

// NewFileSource creates a source reading the files r names.
func NewFileSource(r Resolver) *FileSource {
	return &FileSource{resolver: r}
}

func (s *FileSource) path(key record.Key) (string, error) {
	dir, name, err := s.resolver.Resolve(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Size stats the record's file.
func (s *FileSource) Size(key record.Key) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("%w: record %s (%s): %v", ErrOpen, key, p, err)
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%w: record %s (%s) is a directory", ErrOpen, key, p)
	}
	return fi.Size(), nil
}

// ReadInto reads exactly len(dst) bytes of the record's file into dst.
func (s *FileSource) ReadInto(key record.Key, dst []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("%w: record %s (%s): %v", ErrOpen, key, p, err)
	}
	defer f.Close()

	n, err := io.ReadFull(f, dst)
	if err != nil {
		return fmt.Errorf("%w: record %s (%s): read %d of %d bytes", ErrShortRead, key, p, n, len(dst))
	}
	return nil
}

// Close is a no-op; files are closed after each read.
func (s *FileSource) Close() error { return nil }
