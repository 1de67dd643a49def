package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	AddCommonFlags(cmd)
	cmd.Flags().String("addr", "localhost:8080", "")
	return cmd
}

func TestBindPrefersFlagsThenEnvThenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: file:1\nlog-level: debug\n"), 0o600))

	cmd := newCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path}))
	v, err := Bind(cmd)
	require.NoError(t, err)
	assert.Equal(t, "file:1", v.GetString("addr"))
	assert.Equal(t, "debug", v.GetString(FlagLogLevel))

	t.Setenv("VIEWSYNC_ADDR", "env:2")
	v, err = Bind(cmd)
	require.NoError(t, err)
	assert.Equal(t, "env:2", v.GetString("addr"))

	require.NoError(t, cmd.ParseFlags([]string{"--addr", "flag:3"}))
	v, err = Bind(cmd)
	require.NoError(t, err)
	assert.Equal(t, "flag:3", v.GetString("addr"))
}

func TestBindDefaults(t *testing.T) {
	v, err := Bind(newCmd())
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", v.GetString("addr"))
	assert.Equal(t, "info", v.GetString(FlagLogLevel))
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := Logger("loud")
	assert.Error(t, err)
	logger, err := Logger("warn")
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
