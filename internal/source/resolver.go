package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dreamware/shufflestore/internal/record"
)

// Resolver maps a record key to the directory and file name holding it.
type Resolver interface {
	Resolve(key record.Key) (dir, name string, err error)
}

// PatternResolver names files with a printf pattern taking the sample and
// source indices, e.g. "%06d_%d.bin".
type PatternResolver struct {
	Dir     string
	Pattern string
}

// Resolve implements Resolver.
func (r PatternResolver) Resolve(key record.Key) (string, string, error) {
	if key.Sample < 0 || key.Source < 0 {
		return "", "", fmt.Errorf("resolve %s: negative index", key)
	}
	return r.Dir, fmt.Sprintf(r.Pattern, key.Sample, key.Source), nil
}

// ManifestResolver names files from a manifest: line i lists the file
// names of sample i, one per source slot, separated by whitespace. Blank
// lines and lines starting with '#' are skipped.
type ManifestResolver struct {
	Dir   string
	names [][]string
}

// LoadManifest reads the manifest at path. Relative file names resolve
// against dir, or against the manifest's directory when dir is empty.
// Every line must carry exactly sources names, and when n is positive the
// manifest must list exactly n samples.
func LoadManifest(path, dir string, n, sources int) (*ManifestResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	defer f.Close()

	if dir == "" {
		dir = filepath.Dir(path)
	}
	m, err := ParseManifest(f, dir, sources)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if n > 0 && m.Len() != n {
		return nil, fmt.Errorf("%w: %s lists %d samples, dataset has %d", ErrManifest, path, m.Len(), n)
	}
	logger.WithField("path", path).WithField("samples", m.Len()).Info("manifest loaded")
	return m, nil
}

// ParseManifest reads manifest lines from r.
func ParseManifest(r io.Reader, dir string, sources int) (*ManifestResolver, error) {
	if sources <= 0 {
		return nil, fmt.Errorf("%w: sources per sample must be positive, got %d", ErrManifest, sources)
	}
	m := &ManifestResolver{Dir: dir}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != sources {
			return nil, fmt.Errorf("%w: line %d has %d sources, want %d", ErrManifest, line, len(fields), sources)
		}
		m.names = append(m.names, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	return m, nil
}

// Len returns the number of samples listed.
func (m *ManifestResolver) Len() int { return len(m.names) }

// Resolve implements Resolver.
func (m *ManifestResolver) Resolve(key record.Key) (string, string, error) {
	if key.Sample < 0 || key.Sample >= len(m.names) {
		return "", "", fmt.Errorf("%w: sample %d not in manifest of %d", ErrManifest, key.Sample, len(m.names))
	}
	names := m.names[key.Sample]
	if key.Source < 0 || key.Source >= len(names) {
		return "", "", fmt.Errorf("%w: source %d not in [0, %d)", ErrManifest, key.Source, len(names))
	}
	name := names[key.Source]
	if filepath.IsAbs(name) {
		return filepath.Dir(name), filepath.Base(name), nil
	}
	return m.Dir, name, nil
}
