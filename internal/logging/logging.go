package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	level = new(slog.LevelVar)

	current atomic.Pointer[slog.Logger]
)

func init() {
	SetOutput(os.Stdout)
}

func logger() *slog.Logger {
	return current.Load()
}

// SetOutput redirects all log output to w. It is safe to call while other
// goroutines are logging.
func SetOutput(w io.Writer) {
	current.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func SetDebug(enable bool) {
	if enable {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// Logger returns the shared logger, for packages that want attributes
// instead of formatted messages.
func Logger() *slog.Logger {
	return logger()
}

func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

func Infof(msg string, args ...any) {
	logger().Info(fmt.Sprintf(msg, args...))
}

func Warnf(msg string, args ...any) {
	logger().Warn(fmt.Sprintf(msg, args...))
}

func Error(msg string, err error) {
	logger().Error(msg, "error", err)
}

func Errorf(msg string, args ...any) {
	logger().Error(fmt.Sprintf(msg, args...))
}

func Fatalf(format string, v ...any) {
	logger().Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

func Debugf(msg string, args ...any) {
	if !logger().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger().Debug(fmt.Sprintf(msg, args...))
}
