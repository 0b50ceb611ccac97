package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "fts_outbox_slot", cfg.Replication.SlotName)
	assert.Equal(t, "outbox_events", cfg.Replication.OutboxTable)
	assert.Equal(t, 30*time.Second, cfg.Replication.ReconnectDelay)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
replication:
  slot_name: custom_slot
  reconnect_delay: 5s
elasticsearch:
  index: docs_v2
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom_slot", cfg.Replication.SlotName)
	assert.Equal(t, 5*time.Second, cfg.Replication.ReconnectDelay)
	assert.Equal(t, "docs_v2", cfg.Elasticsearch.Index)
	// Values absent from the file keep their defaults.
	assert.Equal(t, "fts_outbox_pub", cfg.Replication.PublicationName)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("REPLICATION_SLOT", "env_slot")
	t.Setenv("REPLICATION_RECONNECT_DELAY", "45")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env_slot", cfg.Replication.SlotName)
	assert.Equal(t, 45*time.Second, cfg.Replication.ReconnectDelay)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
}
