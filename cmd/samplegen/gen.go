package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/record"
	"github.com/dreamware/shufflestore/internal/source"
)

// generator produces the records of a synthetic dataset. Record (i, s) is
// a pure function of the seed and key, so any subset can be regenerated
// for checking.
type generator struct {
	samples int
	sources int
	seed    int64
	minSize int
	maxSize int
}

func newGenerator(samples, sources int, seed int64, minSize, maxSize int) (*generator, error) {
	switch {
	case samples <= 0:
		return nil, fmt.Errorf("samples must be positive, got %d", samples)
	case sources <= 0:
		return nil, fmt.Errorf("sources must be positive, got %d", sources)
	case minSize < 0 || maxSize < minSize:
		return nil, fmt.Errorf("invalid size range [%d, %d]", minSize, maxSize)
	}
	return &generator{samples: samples, sources: sources, seed: seed, minSize: minSize, maxSize: maxSize}, nil
}

// Keys returns every record key in ascending order.
func (g *generator) Keys() []record.Key {
	keys := make([]record.Key, 0, g.samples*g.sources)
	for i := 0; i < g.samples; i++ {
		for s := 0; s < g.sources; s++ {
			keys = append(keys, record.Key{Sample: i, Source: s})
		}
	}
	return keys
}

// Record returns the contents of k.
func (g *generator) Record(k record.Key) ([]byte, error) {
	if k.Sample < 0 || k.Sample >= g.samples || k.Source < 0 || k.Source >= g.sources {
		return nil, fmt.Errorf("record %s out of range", k)
	}
	rng := rand.New(rand.NewSource(g.seed ^ int64(k.Sample*g.sources+k.Source+1)*0x2545f4914f6cdd1d))
	data := make([]byte, g.minSize+rng.Intn(g.maxSize-g.minSize+1))
	rng.Read(data)
	return data, nil
}

// writeFiles writes every record to dir under pattern, then the manifest
// if name is not empty. Each file is replaced atomically, so a rerun over
// an existing dataset never leaves a torn record behind.
func writeFiles(g *generator, dir, pattern, manifest string) error {
	if dir == "" {
		return fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var (
		lines strings.Builder
		total int64
	)
	for i := 0; i < g.samples; i++ {
		for s := 0; s < g.sources; s++ {
			k := record.Key{Sample: i, Source: s}
			data, err := g.Record(k)
			if err != nil {
				return err
			}
			name := fmt.Sprintf(pattern, i, s)
			if err := atomic.WriteFile(filepath.Join(dir, name), bytes.NewReader(data)); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			total += int64(len(data))
			if s > 0 {
				lines.WriteByte(' ')
			}
			lines.WriteString(name)
		}
		lines.WriteByte('\n')
	}

	if manifest != "" {
		if !filepath.IsAbs(manifest) {
			manifest = filepath.Join(dir, manifest)
		}
		if err := atomic.WriteFile(manifest, strings.NewReader(lines.String())); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	logger.WithFields(logrus.Fields{
		"dir":      dir,
		"records":  g.samples * g.sources,
		"bytes":    total,
		"manifest": manifest,
	}).Info("dataset written")
	return nil
}

// fileReader reads records from a file dataset laid out by pattern.
func fileReader(dir, pattern string) (func(record.Key) ([]byte, error), error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required to read %s", dir)
	}
	src := source.NewFileSource(source.PatternResolver{Dir: dir, Pattern: pattern})
	return func(k record.Key) ([]byte, error) {
		size, err := src.Size(k)
		if err != nil {
			return nil, err
		}
		data := make([]byte, size)
		if err := src.ReadInto(k, data); err != nil {
			return nil, err
		}
		return data, nil
	}, nil
}

// ingest stores the record read returns for every key of g in the badger
// database at path.
func ingest(g *generator, path string, read func(record.Key) ([]byte, error)) error {
	if path == "" {
		return fmt.Errorf("badger path is required")
	}
	db, err := source.OpenBadger(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ingest(g.Keys(), read)
}
