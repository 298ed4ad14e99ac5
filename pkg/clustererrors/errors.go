// Package clustererrors contains the error types returned by the test cluster harness and its
// component launchers. Callers should inspect them with errors.As rather than by message, since
// most errors are wrapped with additional context on their way up.
//
// If several components fail while the cluster is being torn down, the harness returns a
// multierror.Error from package github.com/hashicorp/go-multierror that encapsulates the
// individual errors.
package clustererrors

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrConfiguration is returned when the harness or one of its components is given a configuration
// it can not run with, e.g., zero broker configs. It is always raised before any component starts.
type ErrConfiguration struct {
	// Name of the offending setting, e.g., "brokers"
	Name string
	// Optional message explaining what is wrong
	Message string
}

func (err *ErrConfiguration) Error() string {
	if err.Name == "" {
		return fmt.Sprintf("invalid configuration: %s", err.Message)
	}
	if err.Message == "" {
		return fmt.Sprintf("invalid configuration for %q", err.Name)
	}
	return fmt.Sprintf("invalid configuration for %q: %s", err.Name, err.Message)
}

// ErrResourceExhausted is returned when the operating system can not supply a resource the
// harness needs, such as the requested number of free ports.
type ErrResourceExhausted struct {
	Resource  string // e.g. "port"
	Requested int
	Available int
	Message   string
}

func (err *ErrResourceExhausted) Error() (s string) {
	s = fmt.Sprintf("could not reserve %d %s(s); only %d available", err.Requested, err.Resource, err.Available)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrComponentStart is returned when a launched component does not reach its ready state.
// Cause is the underlying error, if any.
type ErrComponentStart struct {
	Component string // e.g. "broker-1"
	Cause     error
}

func (err *ErrComponentStart) Error() string {
	if err.Cause == nil {
		return fmt.Sprintf("component %s failed to start", err.Component)
	}
	return fmt.Sprintf("component %s failed to start: %s", err.Component, err.Cause)
}

func (err *ErrComponentStart) Unwrap() error {
	return err.Cause
}

// ErrComponentStop is returned when a component does not shut down cleanly or when one of its
// state directories can not be removed. These errors are collected during teardown, never fatal.
type ErrComponentStop struct {
	Component string
	Cause     error
}

func (err *ErrComponentStop) Error() string {
	if err.Cause == nil {
		return fmt.Sprintf("component %s failed to stop", err.Component)
	}
	return fmt.Sprintf("component %s failed to stop: %s", err.Component, err.Cause)
}

func (err *ErrComponentStop) Unwrap() error {
	return err.Cause
}

// ErrIllegalState is returned when an operation is invoked while the harness is in a state that
// does not allow it, e.g., building a request before setup or after teardown.
type ErrIllegalState struct {
	Operation string
	State     string
}

func (err *ErrIllegalState) Error() string {
	return fmt.Sprintf("%s is not allowed while the harness is %s", err.Operation, err.State)
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "topic" or "broker"
	Value   string // Resource name, e.g., "orders"
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "templateName"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// StatusFromError maps error types to HTTP status codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func StatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return http.StatusNotFound
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}
	{
		var e *ErrIllegalState
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *ErrComponentStart
		if errors.As(err, &e) {
			return http.StatusServiceUnavailable
		}
	}

	return http.StatusInternalServerError
}

// Append adds err to the aggregate result, flattening nested multierrors.
// A nil err leaves result untouched, so callers can append unconditionally inside cleanup loops.
func Append(result *multierror.Error, err error) *multierror.Error {
	if err == nil {
		return result
	}
	return multierror.Append(result, err)
}
