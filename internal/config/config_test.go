package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "opc-gateway", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, uint32(8), cfg.Gateway.BackoffMax)
	assert.Equal(t, "tcp://localhost:1883", cfg.Egress.BrokerURL)
	assert.NotEmpty(t, cfg.Egress.ClientID)
	assert.Equal(t, "/etc/opc-gateway/nodes.json", cfg.NodeConfig.Path)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "http:\n  port: 9090\ngateway:\n  shopfloor_domain: line-3\negress:\n  broker_url: tcp://broker:1883\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "line-3", cfg.Gateway.ShopfloorDomain)
	assert.Equal(t, "tcp://broker:1883", cfg.Egress.BrokerURL)
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
