package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID_IsSortedAndUnique(t *testing.T) {
	prev := NewULID()
	for i := 0; i < 100; i++ {
		next := NewULID()
		assert.Less(t, prev, next)
		assert.Equal(t, strings.ToLower(next), next)
		prev = next
	}
}

func TestNewInstanceID(t *testing.T) {
	a := NewInstanceID()
	b := NewInstanceID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
