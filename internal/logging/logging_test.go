package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shufflestore/internal/config"
)

func TestInitStderr(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	require.NoError(t, Init(config.LogConf{Level: "debug"}, "node.log"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.Equal(t, os.Stderr, logrus.StandardLogger().Out)

	require.NoError(t, Init(config.LogConf{Level: "nonsense"}, "node.log"))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}

func TestInitFile(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, Init(config.LogConf{Level: "info", Path: dir}, "node.log"))

	logrus.WithField("module", "test").Info("hello")

	matches, err := filepath.Glob(filepath.Join(dir, "node.log.*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "module=test")
}
