package badgerstore

import (
	"fmt"
	"log/slog"
	"strings"
)

// slogAdapter routes badger's printf-style logging into slog. Badger's info
// output is chatty, so it is demoted to debug.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(line(format, args))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.logger.Warn(line(format, args))
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.logger.Debug(line(format, args))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(line(format, args))
}

func line(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
