package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSwitchboardCommand(t *testing.T) {
	cmd := NewSwitchboardCommand()
	require.NotNil(t, cmd)

	assert.Equal(t, "switchboard", cmd.Use)
	assert.True(t, cmd.HasExample())
	assert.True(t, cmd.HasSubCommands())

	for _, name := range []string{"gateway", "chat", "config", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}
