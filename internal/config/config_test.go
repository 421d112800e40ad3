package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NotNil(t, cfg.Server.HTTP)
	assert.Equal(t, "8089", cfg.Server.HTTP.Port)
	assert.False(t, cfg.Service.Retry.Enabled)
	assert.Equal(t, 3, cfg.Service.Retry.Max)
	assert.Equal(t, 15*time.Second, cfg.Service.Retry.Sleep)
	assert.True(t, cfg.Service.Mask.Enabled)
	assert.Equal(t, "osqueryi", cfg.Service.Query.Binary)
}

func TestApplyDropIns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-collector.conf"), []byte(`
service:
  collectors:
    - token: abc
      indexers: [idx1, idx2]
      index: hostwatch
      hec_ssl: false
  retry:
    enabled: true
    sleep: 2s
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-identity.conf"), []byte(`
service:
  identity:
    id: web01
    local_ip4: 10.0.0.5
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.yaml"), []byte("service: [broken"), 0o600))

	cfg := Defaults()
	applied, err := cfg.ApplyDropIns(dir)
	require.NoError(t, err)
	assert.Len(t, applied, 2)

	require.Len(t, cfg.Service.Collectors, 1)
	col := cfg.Service.Collectors[0]
	assert.Equal(t, []string{"idx1", "idx2"}, col.Indexers)
	require.NotNil(t, col.TLS)
	assert.False(t, *col.TLS)
	assert.True(t, cfg.Service.Retry.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Service.Retry.Sleep)
	assert.Equal(t, 3, cfg.Service.Retry.Max)
	assert.Equal(t, "web01", cfg.Service.Identity.ID)
	// untouched sections keep their defaults
	assert.Equal(t, "osqueryi", cfg.Service.Query.Binary)
	assert.Equal(t, "8089", cfg.Server.HTTP.Port)
}

func TestApplyDropInsMissingDir(t *testing.T) {
	cfg := Defaults()
	applied, err := cfg.ApplyDropIns(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestApplyDropInsBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.conf"), []byte("service: [broken"), 0o600))
	_, err := Defaults().ApplyDropIns(dir)
	assert.Error(t, err)
}
