package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shufflestore/internal/record"
)

func writeRecord(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestPatternResolver(t *testing.T) {
	r := PatternResolver{Dir: "/data", Pattern: "%04d_%d.bin"}
	dir, name, err := r.Resolve(record.Key{Sample: 12, Source: 1})
	require.NoError(t, err)
	assert.Equal(t, "/data", dir)
	assert.Equal(t, "0012_1.bin", name)

	_, _, err = r.Resolve(record.Key{Sample: -1})
	assert.Error(t, err)
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		sources int
		want    int
		wantErr bool
	}{
		{name: "two sources", input: "a.jpg a.lbl\nb.jpg b.lbl\n", sources: 2, want: 2},
		{name: "comments and blanks", input: "# header\n\na.jpg\n  \nb.jpg\n", sources: 1, want: 2},
		{name: "inconsistent source count", input: "a.jpg a.lbl\nb.jpg\n", sources: 2, wantErr: true},
		{name: "zero sources", input: "a\n", sources: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest(strings.NewReader(tt.input), "/d", tt.sources)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrManifest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Len())
		})
	}
}

func TestManifestResolve(t *testing.T) {
	m, err := ParseManifest(strings.NewReader("a.jpg /abs/a.lbl\nb.jpg b.lbl\n"), "/d", 2)
	require.NoError(t, err)

	dir, name, err := m.Resolve(record.Key{Sample: 1, Source: 1})
	require.NoError(t, err)
	assert.Equal(t, "/d", dir)
	assert.Equal(t, "b.lbl", name)

	dir, name, err = m.Resolve(record.Key{Sample: 0, Source: 1})
	require.NoError(t, err)
	assert.Equal(t, "/abs", dir)
	assert.Equal(t, "a.lbl", name)

	_, _, err = m.Resolve(record.Key{Sample: 2})
	assert.ErrorIs(t, err, ErrManifest)
	_, _, err = m.Resolve(record.Key{Sample: 0, Source: 2})
	assert.ErrorIs(t, err, ErrManifest)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("x0\nx1\nx2\n"), 0o644))

	m, err := LoadManifest(path, "", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Dir)

	_, err = LoadManifest(path, "", 4, 1)
	assert.ErrorIs(t, err, ErrManifest)

	_, err = LoadManifest(filepath.Join(dir, "missing.txt"), "", 0, 1)
	assert.ErrorIs(t, err, ErrManifest)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "0_0.bin", "hello")
	writeRecord(t, dir, "1_0.bin", "")
	src := NewFileSource(PatternResolver{Dir: dir, Pattern: "%d_%d.bin"})
	defer src.Close()

	size, err := src.Size(record.Key{Sample: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	buf := make([]byte, size)
	require.NoError(t, src.ReadInto(record.Key{Sample: 0}, buf))
	assert.Equal(t, "hello", string(buf))

	t.Run("zero length record", func(t *testing.T) {
		size, err := src.Size(record.Key{Sample: 1})
		require.NoError(t, err)
		assert.Zero(t, size)
		assert.NoError(t, src.ReadInto(record.Key{Sample: 1}, nil))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := src.Size(record.Key{Sample: 7})
		assert.ErrorIs(t, err, ErrOpen)
		assert.Contains(t, err.Error(), "7/0")
		assert.ErrorIs(t, src.ReadInto(record.Key{Sample: 7}, make([]byte, 1)), ErrOpen)
	})

	t.Run("short read", func(t *testing.T) {
		err := src.ReadInto(record.Key{Sample: 0}, make([]byte, 9))
		assert.ErrorIs(t, err, ErrShortRead)
	})
}

func openTestBadger(t *testing.T) *BadgerSource {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	s := NewBadgerSource(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerSource(t *testing.T) {
	s := openTestBadger(t)
	keys := record.Expand([]int{0, 1, 2}, 2)

	err := s.Ingest(keys, func(k record.Key) ([]byte, error) {
		return []byte(fmt.Sprintf("rec-%s", k)), nil
	})
	require.NoError(t, err)

	for _, k := range keys {
		want := fmt.Sprintf("rec-%s", k)
		size, err := s.Size(k)
		require.NoError(t, err)
		assert.Equal(t, int64(len(want)), size)

		buf := make([]byte, size)
		require.NoError(t, s.ReadInto(k, buf))
		assert.Equal(t, want, string(buf))
	}

	_, err = s.Size(record.Key{Sample: 9})
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, s.ReadInto(keys[0], make([]byte, 2)), ErrShortRead)
}

func TestBadgerIngestFromFiles(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "0_0.bin", "alpha")
	writeRecord(t, dir, "1_0.bin", "beta")
	files := NewFileSource(PatternResolver{Dir: dir, Pattern: "%d_%d.bin"})

	s := openTestBadger(t)
	keys := record.Expand([]int{0, 1}, 1)
	require.NoError(t, s.Ingest(keys, func(k record.Key) ([]byte, error) {
		n, err := files.Size(k)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		return buf, files.ReadInto(k, buf)
	}))

	buf := make([]byte, 4)
	require.NoError(t, s.ReadInto(record.Key{Sample: 1}, buf))
	assert.Equal(t, "beta", string(buf))

	err := s.Ingest([]record.Key{{Sample: 5}}, func(k record.Key) ([]byte, error) {
		n, err := files.Size(k)
		return make([]byte, n), err
	})
	assert.ErrorIs(t, err, ErrOpen)
}
