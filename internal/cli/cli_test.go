package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zokiio/halfduplex-voice/internal/config"
)

// runRoot executes the root command with args and returns its output.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configPath = ""
	configForce = false
	runScheduling, runServer, runUsername = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "halfduplex-voice dev")
	assert.Contains(t, out, "codecs:")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runRoot(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = runRoot(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runRoot(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	out, err = runRoot(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "confirm_frames: 3")
	assert.Contains(t, out, "mode: concurrent")
}

func TestConfigShowReportsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jitter:\n  capacity: 99\n"), 0o644))

	_, err := runRoot(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jitter.capacity")
}

func TestConfigPath(t *testing.T) {
	out, err := runRoot(t, "--config", "/tmp/voice.yaml", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/voice.yaml", strings.TrimSpace(out))
}

func TestRunRejectsBadFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := runRoot(t, "--config", path, "run", "--scheduling", "preemptive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduling mode")

	_, err = runRoot(t, "--config", path, "run", "--server", "host:notaport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.Default()
	runScheduling, runServer, runUsername = "cooperative", "voice.example.com:9000", "carol"
	t.Cleanup(func() { runScheduling, runServer, runUsername = "", "", "" })

	require.NoError(t, applyRunFlags(cfg))
	assert.Equal(t, "cooperative", cfg.Scheduling.Mode)
	assert.Equal(t, "voice.example.com", cfg.Transport.Server)
	assert.Equal(t, 9000, cfg.Transport.Port)
	assert.Equal(t, "carol", cfg.Transport.Username)
}
