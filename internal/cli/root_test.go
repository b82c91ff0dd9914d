package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command built on opts with args and returns stdout.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "relay", cmd.Use)
	assert.Contains(t, cmd.Long, "correlates requests and answers")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "ping", "call", "demo", "deadletter"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	levelFlag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, levelFlag)
	assert.Equal(t, "", levelFlag.DefValue)
}

func TestPingCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	pingCmd, _, err := cmd.Find([]string{"ping"})
	require.NoError(t, err)

	countFlag := pingCmd.Flags().Lookup("count")
	require.NotNil(t, countFlag)
	assert.Equal(t, "n", countFlag.Shorthand)
	assert.Equal(t, "1", countFlag.DefValue)
}

func TestDemoCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	demoCmd, _, err := cmd.Find([]string{"demo"})
	require.NoError(t, err)

	assert.Equal(t, "100", demoCmd.Flags().Lookup("requests").DefValue)
	assert.Equal(t, "16", demoCmd.Flags().Lookup("concurrency").DefValue)
}

func TestDeadLetterAlias(t *testing.T) {
	cmd := NewRootCommand()
	sub, _, err := cmd.Find([]string{"dlq", "list"})
	require.NoError(t, err)
	assert.Equal(t, "list", sub.Name())
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, &RootOptions{}, "--format", "xml", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, &RootOptions{}, "--log-level", "loud", "demo")
	require.Error(t, err)
}

func TestConfigFileApplied(t *testing.T) {
	path := writeFile(t, "relay.yaml", "request_timeout: 2s\nbuffer_size: 8\n")
	opts := &RootOptions{}

	_, err := execute(t, opts, "--config", path, "--log-level", "debug", "demo", "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, 8, opts.Settings.BufferSize)
	assert.Equal(t, "debug", opts.Settings.LogLevel)
	assert.NotNil(t, opts.Logger)
}
