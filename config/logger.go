package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. With file set, output also goes to
// that file; the returned closer releases it.
func NewLogger(level, format, file string) (*logrus.Logger, func() error, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "LOG_LEVEL %q", level)
	}
	log.SetLevel(lvl)

	closer := func() error { return nil }
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open log file %s", file)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, f))
		closer = f.Close
	}
	return log, closer, nil
}
