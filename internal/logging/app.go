package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/klyr/edgerewrite/internal/config"
)

// NewLogger builds the application logger. When cfg.File is set, output also
// goes to that file, rotated by size. path resolves the file name against
// the configuration directory.
func NewLogger(cfg config.LoggingConfig, path func(string) string, stderr io.Writer) (*logrus.Logger, func() error, error) {
	if stderr == nil {
		stderr = os.Stderr
	}

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	closeFn := func() error { return nil }
	out := stderr
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   path(cfg.File),
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 7),
			LocalTime:  true,
			Compress:   true,
		}
		out = io.MultiWriter(stderr, rotator)
		closeFn = rotator.Close
	}
	logger.SetOutput(out)

	return logger, closeFn, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
