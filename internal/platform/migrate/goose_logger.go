package migrate

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// gooseSlogLogger adapts goose's printf-style logger to slog.
type gooseSlogLogger struct {
	logger *slog.Logger
}

func (l gooseSlogLogger) Printf(format string, v ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	l.logger.Info(msg, "component", "migrate")
}

func (l gooseSlogLogger) Fatalf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if l.logger != nil {
		l.logger.Error(msg, "component", "migrate")
	}
	os.Exit(1)
}
