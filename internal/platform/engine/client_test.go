package engineclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseLeavesEventFeedOpen(t *testing.T) {
	c := NewClient("ws://unused")
	require.NoError(t, c.Close())

	// The feed quiesces but is never closed; a closed channel would yield
	// immediately here and tear down consumers mid-shutdown.
	select {
	case _, ok := <-c.Events():
		assert.True(t, ok, "event feed must stay open after Close")
	default:
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewClient("ws://unused")
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
