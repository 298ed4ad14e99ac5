package logging

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStack(t *testing.T) {
	assert.Nil(t, ExtractStack(nil))
	assert.Nil(t, ExtractStack(stdError("plain")))

	assert.NotNil(t, ExtractStack(errors.New("with stack")))
	assert.NotNil(t, ExtractStack(errors.WithMessage(errors.New("inner"), "outer")))

	var result *multierror.Error
	result = multierror.Append(result, stdError("no stack"), errors.New("broker-1"))
	assert.NotNil(t, ExtractStack(result))
}

func TestWithStacktrace(t *testing.T) {
	logger, hook := test.NewNullLogger()
	WithStacktrace(log.NewEntry(logger), errors.New("boom")).Error("failed")

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.EqualError(t, entry.Data[log.ErrorKey].(error), "boom")
	assert.Contains(t, entry.Data, Stacktrace)
}

type stdError string

func (e stdError) Error() string {
	return string(e)
}
