package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	got := Prefixed("run")
	assert.True(t, strings.HasPrefix(got, "run_"))
	assert.Len(t, got, len("run_")+26)
}
