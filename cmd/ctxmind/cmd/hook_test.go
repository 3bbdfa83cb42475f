package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookCmd_RequiresExactlyOneArg(t *testing.T) {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs([]string{"hook"})
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	err := rootCmd.Execute()
	require.Error(t, err)
}

func TestHookCmd_NoDaemonRunningIsASilentNoOp(t *testing.T) {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs([]string{"hook", "SessionStart"})
	rootCmd.SetIn(strings.NewReader(`{"SessionID":"sess-1","Cwd":"/tmp"}`))
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	err := rootCmd.Execute()
	assert.NoError(t, err, "a hook firing before the daemon is up should not fail the calling session")
}

func TestHookCmd_InvalidJSONParamsIsAnError(t *testing.T) {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs([]string{"hook", "SessionStart"})
	rootCmd.SetIn(strings.NewReader(`not json`))
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse hook params")
}

func TestHookCmd_EmptyStdinIsAccepted(t *testing.T) {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs([]string{"hook", "Stop"})
	rootCmd.SetIn(strings.NewReader(""))
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	err := rootCmd.Execute()
	assert.NoError(t, err)
}
