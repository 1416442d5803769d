package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildApp(t *testing.T) {
	app := buildApp()
	assert.Equal(t, "morphia", app.Name)

	names := []string{}
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"ping", "config", "indexes", "stats", "drop"}, names)

	require.Len(t, app.Flags, 2)
	assert.Equal(t, "level", app.Flags[0].GetName())
	assert.Equal(t, "conf, config, c", app.Flags[1].GetName())
}

func TestLoggingSetup(t *testing.T) {
	assert.NoError(t, loggingSetup("morphia-test", "debug"))
}
