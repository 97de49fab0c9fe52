package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[Client]
  DefaultDC = 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int32(3), cfg.Client.DefaultDC)
	require.Equal(t, "session.dat", cfg.Client.SessionFile)
	require.Equal(t, "file", cfg.Client.SessionBackend)
	require.Equal(t, log.InfoLevel, cfg.LogLevel())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[Client]
  Bogus = true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownSessionBackend(t *testing.T) {
	path := writeConfig(t, `
[Client]
  SessionBackend = "nope"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestDatacentersMergesOverride(t *testing.T) {
	path := writeConfig(t, `
[[DataCenter]]
  ID = 2
  IPv4 = "10.0.0.2"
  IPv4Test = "10.0.0.3"
  Port = 8443

[[DataCenter]]
  ID = 99
  IPv4 = "10.0.0.99"
  Port = 443
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	merged := cfg.Datacenters()
	require.Len(t, merged, 6) // 5 production + 1 new

	byID := make(map[int32]int) // ID -> index
	for i, dc := range merged {
		byID[dc.ID] = i
	}

	dc2 := merged[byID[2]]
	require.Equal(t, "10.0.0.2", dc2.IPv4)
	require.Equal(t, 8443, dc2.Port)

	dc99 := merged[byID[99]]
	require.Equal(t, "10.0.0.99", dc99.IPv4)
}
