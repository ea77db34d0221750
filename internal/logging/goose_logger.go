package logging

import "github.com/pressly/goose/v3"

type GooseLogger struct {
}

var _ goose.Logger = (*GooseLogger)(nil)

func (GooseLogger) Fatalf(format string, v ...interface{}) {
	Fatalf(format, v...)
}

// Printf demotes goose's migration chatter to debug; a sync run prints its
// own progress lines.
func (GooseLogger) Printf(format string, v ...interface{}) {
	Debugf(format, v...)
}
