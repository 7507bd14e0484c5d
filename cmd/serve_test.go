package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/sitekit/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd("1.2.3")

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "modules", "generate-docs", "version"})
	assert.Equal(t, "1.2.3", root.Version)
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "sitekit version 1.2.3\n", out.String())
}

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd("dev")

	tests := []struct {
		flag string
		want string
	}{
		{flag: "transport", want: transportHTTP},
		{flag: "addr", want: ""},
		{flag: "mcp", want: "false"},
		{flag: "yolo", want: "false"},
		{flag: "debug", want: "false"},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			f := cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.DefValue)
		})
	}
}

func TestRunServe_UnsupportedTransport(t *testing.T) {
	cfg := &config.Config{StorageType: config.StorageMemory}
	err := runServe(context.Background(), cfg, "dev", serveOptions{transport: "streamable-http"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport type")
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SITEKIT_STORAGE", config.StorageMemory)
	t.Setenv("SITEKIT_LOG_LEVEL", "info")

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("SITEKIT_STORAGE", "etcd")
	_, err = loadConfig(false)
	assert.Error(t, err)
}
