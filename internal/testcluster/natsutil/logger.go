package natsutil

import (
	"github.com/nats-io/nats-server/v2/server"
	log "github.com/sirupsen/logrus"
)

type serverLogger struct {
	entry *log.Entry
}

var _ server.Logger = (*serverLogger)(nil)

// NewServerLogger adapts a logrus entry to the logger interface of the embedded NATS server.
// The server is chatty, so notices are logged at debug level.
func NewServerLogger(entry *log.Entry) server.Logger {
	return &serverLogger{entry: entry}
}

func (l *serverLogger) Noticef(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

func (l *serverLogger) Warnf(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

func (l *serverLogger) Fatalf(format string, v ...interface{}) {
	// The server calls Fatalf for errors it can recover from when embedded, so don't exit.
	l.entry.Errorf(format, v...)
}

func (l *serverLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

func (l *serverLogger) Debugf(format string, v ...interface{}) {
	l.entry.Tracef(format, v...)
}

func (l *serverLogger) Tracef(format string, v ...interface{}) {
	l.entry.Tracef(format, v...)
}
