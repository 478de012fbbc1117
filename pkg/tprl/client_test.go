package tprl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
)

func TestAddress(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "")
	assert.Equal(t, client.DefaultHostPort, Address())

	t.Setenv("TEMPORAL_ADDRESS", "temporal:7233")
	assert.Equal(t, "temporal:7233", Address())
	assert.Equal(t, "temporal:7233", Options("").HostPort)
	assert.Equal(t, "other:7233", Options("other:7233").HostPort)
	assert.NotNil(t, Options("").Logger)
}

func TestNewClient_IsLazy(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "127.0.0.1:1")
	c, err := NewClient()
	require.NoError(t, err)
	c.Close()
}
