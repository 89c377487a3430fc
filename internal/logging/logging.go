// Package logging configures the process-wide logrus logger from LogConf.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/config"
)

// TimeFormat is the timestamp layout of log lines.
const TimeFormat = "2006-01-02 15:04:05.000"

// Init sets the standard logger's level, format and output. With an empty
// conf.Path it logs to stderr; otherwise to fileName under conf.Path,
// rotated hourly and kept for a week.
func Init(conf config.LogConf, fileName string) error {
	level, err := logrus.ParseLevel(conf.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimeFormat,
	})

	w, err := Writer(conf.Path, fileName)
	if err != nil {
		return err
	}
	logrus.SetOutput(w)
	return nil
}

// Writer returns the sink for logs under dir, or stderr when dir is empty.
func Writer(dir, fileName string) (io.Writer, error) {
	if dir == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fileName)
	w, err := rotatelogs.New(
		path+".%Y%m%d%H",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open rotating log %s: %w", path, err)
	}
	return w, nil
}
