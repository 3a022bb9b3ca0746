package badger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// engineLogger forwards badger's internal log lines to zerolog.
type engineLogger struct {
	log zerolog.Logger
}

func (l engineLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(l.format(format, args...))
}

func (l engineLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msg(l.format(format, args...))
}

func (l engineLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msg(l.format(format, args...))
}

func (l engineLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msg(l.format(format, args...))
}

func (l engineLogger) format(format string, args ...interface{}) string {
	return strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
}
