package health

import (
	"errors"
	"sync/atomic"
)

// Checker is implemented by anything whose liveness can be checked, e.g. a client connection.
type Checker interface {
	Check() error
}

// CheckerFunc adapts an ordinary function to the Checker interface.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}

// StartupCompleteChecker fails until MarkComplete has been called.
type StartupCompleteChecker struct {
	complete atomic.Bool
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (sc *StartupCompleteChecker) MarkComplete() {
	sc.complete.Store(true)
}

func (sc *StartupCompleteChecker) Check() error {
	if sc.complete.Load() {
		return nil
	}
	return errors.New("startup is not complete")
}
