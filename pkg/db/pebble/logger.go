package pebble

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// engineLogger forwards pebble's internal log lines to zerolog.
type engineLogger struct {
	log zerolog.Logger
}

func (l engineLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l engineLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprintf(format, args...))
}

// Fatalf matches pebble's default logger, which terminates the process.
func (l engineLogger) Fatalf(format string, args ...interface{}) {
	l.log.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}
