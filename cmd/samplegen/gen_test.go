package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shufflestore/internal/record"
	"github.com/dreamware/shufflestore/internal/source"
)

func TestNewGeneratorValidation(t *testing.T) {
	tests := []struct {
		name             string
		samples, sources int
		minSize, maxSize int
	}{
		{name: "no samples", samples: 0, sources: 1, maxSize: 8},
		{name: "no sources", samples: 1, sources: 0, maxSize: 8},
		{name: "negative min", samples: 1, sources: 1, minSize: -1, maxSize: 8},
		{name: "inverted range", samples: 1, sources: 1, minSize: 9, maxSize: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGenerator(tt.samples, tt.sources, 1, tt.minSize, tt.maxSize)
			assert.Error(t, err)
		})
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	g, err := newGenerator(5, 2, 42, 10, 20)
	require.NoError(t, err)
	again, err := newGenerator(5, 2, 42, 10, 20)
	require.NoError(t, err)
	other, err := newGenerator(5, 2, 43, 10, 20)
	require.NoError(t, err)

	keys := g.Keys()
	require.Len(t, keys, 10)
	assert.Equal(t, record.Key{Sample: 0, Source: 0}, keys[0])
	assert.Equal(t, record.Key{Sample: 4, Source: 1}, keys[9])

	differs := false
	for _, k := range keys {
		a, err := g.Record(k)
		require.NoError(t, err)
		b, err := again.Record(k)
		require.NoError(t, err)
		assert.Equal(t, a, b, "record %s", k)
		assert.GreaterOrEqual(t, len(a), 10)
		assert.LessOrEqual(t, len(a), 20)

		c, err := other.Record(k)
		require.NoError(t, err)
		if string(a) != string(c) {
			differs = true
		}
	}
	assert.True(t, differs, "seed had no effect")

	_, err = g.Record(record.Key{Sample: 5, Source: 0})
	assert.Error(t, err)
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "train")
	g, err := newGenerator(4, 2, 7, 1, 64)
	require.NoError(t, err)
	require.NoError(t, writeFiles(g, dir, "%03d_%d.bin", "manifest.txt"))

	m, err := source.LoadManifest(filepath.Join(dir, "manifest.txt"), "", 4, 2)
	require.NoError(t, err)
	src := source.NewFileSource(m)
	for _, k := range g.Keys() {
		want, err := g.Record(k)
		require.NoError(t, err)
		size, err := src.Size(k)
		require.NoError(t, err)
		got := make([]byte, size)
		require.NoError(t, src.ReadInto(k, got))
		assert.Equal(t, want, got, "record %s", k)
	}

	_, err = os.Stat(filepath.Join(dir, "003_1.bin"))
	assert.NoError(t, err)
	assert.Error(t, writeFiles(g, "", "%d_%d.bin", ""))
}

func TestIngest(t *testing.T) {
	g, err := newGenerator(3, 2, 9, 0, 32)
	require.NoError(t, err)

	t.Run("generated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db")
		require.NoError(t, ingest(g, path, g.Record))
		assertBadgerMatches(t, path, g)
	})

	t.Run("from files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, writeFiles(g, dir, "%d_%d.bin", ""))
		read, err := fileReader(dir, "%d_%d.bin")
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "db")
		require.NoError(t, ingest(g, path, read))
		assertBadgerMatches(t, path, g)
	})

	t.Run("missing file", func(t *testing.T) {
		read, err := fileReader(t.TempDir(), "%d_%d.bin")
		require.NoError(t, err)
		err = ingest(g, filepath.Join(t.TempDir(), "db"), read)
		assert.ErrorIs(t, err, source.ErrOpen)
	})

	assert.Error(t, ingest(g, "", g.Record))
}

func assertBadgerMatches(t *testing.T, path string, g *generator) {
	t.Helper()
	db, err := source.OpenBadger(path)
	require.NoError(t, err)
	defer db.Close()
	for _, k := range g.Keys() {
		want, err := g.Record(k)
		require.NoError(t, err)
		size, err := db.Size(k)
		require.NoError(t, err)
		got := make([]byte, size)
		require.NoError(t, db.ReadInto(k, got))
		assert.Equal(t, want, got, "record %s", k)
	}
}
