// Package logging contains logrus helpers shared by the harness and its launchers.
package logging

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const Stacktrace = "stacktrace"

// Unexported but considered part of the stable interface of pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Unexported but considered part of the stable interface of pkg/errors.
type causer interface {
	Cause() error
}

// WithStacktrace adds err and, if one was recorded, its stack trace to logger. For an aggregate of
// errors the stack of the first error that carries one is used.
func WithStacktrace(logger *log.Entry, err error) *log.Entry {
	logger = logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(Stacktrace, stack)
	}
	return logger
}

// ExtractStack walks down the chain of causes and returns the first stack trace it encounters,
// or nil if there is none.
func ExtractStack(err error) errors.StackTrace {
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			if stack := ExtractStack(e); stack != nil {
				return stack
			}
		}
		return nil
	}
	if stackErr, ok := err.(stackTracer); ok {
		return stackErr.StackTrace()
	} else if causeErr, ok := err.(causer); ok {
		return ExtractStack(causeErr.Cause())
	}
	return nil
}
