package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	AddStringFlag(cmd, "mode", "m", "EXCLUSIVE", "node mode", false)
	AddIntFlag(cmd, "port", "o", 22, "ssh port")
	AddBoolFlag(cmd, "force", "f", false, "force")
	AddDurationFlag(cmd, "timeout", "", 30*time.Second, "timeout")
	return cmd
}

func TestBindFlagsToViperDefaults(t *testing.T) {
	cmd := newFlagCommand()
	v := viper.New()
	require.NoError(t, BindFlagsToViper(cmd, v))

	assert.Equal(t, "EXCLUSIVE", v.GetString("mode"))
	assert.Equal(t, 22, v.GetInt("port"))
	assert.False(t, v.GetBool("force"))
	assert.Equal(t, 30*time.Second, v.GetDuration("timeout"))
}

func TestPrecedence(t *testing.T) {
	t.Setenv("JNSTEST_PORT", "2222")
	t.Setenv("JNSTEST_MODE", "NORMAL")

	cfgPath := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("port: 2020\nforce: true\ntimeout: 5s\n"), 0600))

	cmd := newFlagCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--mode", "EXCLUSIVE"}))

	v := viper.New()
	SetViperEnvPrefix(v, "JNSTEST")
	require.NoError(t, BindFlagsToViper(cmd, v))
	require.NoError(t, ReadConfigFile(v, cfgPath))

	assert.Equal(t, "EXCLUSIVE", v.GetString("mode"), "explicit flag beats env")
	assert.Equal(t, 2222, v.GetInt("port"), "env beats file")
	assert.True(t, v.GetBool("force"), "file beats default")
	assert.Equal(t, 5*time.Second, v.GetDuration("timeout"))
}

func TestEnvKeyReplacer(t *testing.T) {
	t.Setenv("JNSTEST_CA_CERT", "/etc/ca.pem")
	cmd := &cobra.Command{Use: "test"}
	AddStringFlag(cmd, "ca-cert", "", "", "ca", false)

	v := viper.New()
	SetViperEnvPrefix(v, "JNSTEST")
	require.NoError(t, BindFlagsToViper(cmd, v))
	assert.Equal(t, "/etc/ca.pem", v.GetString("ca-cert"))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JNSTEST_FROM_FILE=yes\nJNSTEST_PRESET=file\n"), 0600))
	t.Setenv("JNSTEST_PRESET", "env")
	t.Setenv("JNSTEST_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("JNSTEST_FROM_FILE"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "yes", os.Getenv("JNSTEST_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("JNSTEST_PRESET"), "existing variables are kept")

	assert.NoError(t, LoadEnvFile(""))
	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestReadConfigFileErrors(t *testing.T) {
	v := viper.New()
	assert.NoError(t, ReadConfigFile(v, ""))
	assert.Error(t, ReadConfigFile(v, filepath.Join(t.TempDir(), "missing.yaml")))
}
