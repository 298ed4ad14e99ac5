package clustererrors

import (
	"net/http"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStatusFromError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"ErrNotFound":                     {&ErrNotFound{}, http.StatusNotFound},
		"ErrInvalidArgument":              {&ErrInvalidArgument{}, http.StatusBadRequest},
		"ErrIllegalState":                 {&ErrIllegalState{}, http.StatusConflict},
		"ErrComponentStart":               {&ErrComponentStart{}, http.StatusServiceUnavailable},
		"pkg.Error => ErrNotFound":        {errors.WithMessage(&ErrNotFound{}, "foo"), http.StatusNotFound},
		"pkg.Error => ErrInvalidArgument": {errors.WithMessage(&ErrInvalidArgument{}, "foo"), http.StatusBadRequest},
		"wrapped stack => ErrNotFound":    {errors.WithStack(&ErrNotFound{Type: "topic"}), http.StatusNotFound},
		"pkg.Error":                       {errors.New("foo"), http.StatusInternalServerError},
		"ErrComponentStop is internal":    {&ErrComponentStop{Component: "broker-0"}, http.StatusInternalServerError},
		"nil":                             {nil, http.StatusOK},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFromError(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		`invalid configuration for "brokers": must supply at least one broker config`,
		(&ErrConfiguration{Name: "brokers", Message: "must supply at least one broker config"}).Error())
	assert.Equal(t,
		"could not reserve 5 port(s); only 3 available",
		(&ErrResourceExhausted{Resource: "port", Requested: 5, Available: 3}).Error())
	assert.Equal(t,
		`resource "orders" of type "topic" does not exist`,
		(&ErrNotFound{Type: "topic", Value: "orders"}).Error())
	assert.Equal(t,
		"request is not allowed while the harness is uninitialized",
		(&ErrIllegalState{Operation: "request", State: "uninitialized"}).Error())
}

func TestComponentErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")

	start := &ErrComponentStart{Component: "gateway", Cause: cause}
	assert.ErrorIs(t, start, cause)
	assert.Equal(t, "component gateway failed to start: boom", start.Error())

	stop := &ErrComponentStop{Component: "broker-1", Cause: cause}
	assert.ErrorIs(t, stop, cause)
	assert.Equal(t, "component broker-1 failed to stop: boom", stop.Error())
}

func TestAppend(t *testing.T) {
	var result *multierror.Error
	result = Append(result, nil)
	assert.Nil(t, result.ErrorOrNil())

	result = Append(result, &ErrComponentStop{Component: "broker-0"})
	result = Append(result, nil)
	result = Append(result, &ErrComponentStop{Component: "broker-2"})
	assert.Len(t, result.Errors, 2)

	var stopErr *ErrComponentStop
	assert.True(t, errors.As(result.ErrorOrNil(), &stopErr))
	assert.Equal(t, "broker-0", stopErr.Component)
}
