package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service settings outside of the database connection.
type Config struct {
	Replication   ReplicationConfig
	Elasticsearch ElasticsearchConfig
	Health        HealthConfig
}

// ReplicationConfig describes the logical replication subscription and the
// outbox table it is scoped to.
type ReplicationConfig struct {
	SlotName        string
	PublicationName string
	OutboxSchema    string
	OutboxTable     string
	ReconnectDelay  time.Duration
	StatusInterval  time.Duration
}

// ElasticsearchConfig describes the target index.
type ElasticsearchConfig struct {
	URL      string
	Index    string
	Pipeline string
}

// HealthConfig describes the health endpoint.
type HealthConfig struct {
	Addr string
}

// fileConfig is the YAML schema. Durations are strings in time.ParseDuration
// form ("30s", "1m").
type fileConfig struct {
	Replication struct {
		SlotName        string `yaml:"slot_name"`
		PublicationName string `yaml:"publication_name"`
		OutboxSchema    string `yaml:"outbox_schema"`
		OutboxTable     string `yaml:"outbox_table"`
		ReconnectDelay  string `yaml:"reconnect_delay"`
		StatusInterval  string `yaml:"status_interval"`
	} `yaml:"replication"`
	Elasticsearch struct {
		URL      string `yaml:"url"`
		Index    string `yaml:"index"`
		Pipeline string `yaml:"pipeline"`
	} `yaml:"elasticsearch"`
	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Replication: ReplicationConfig{
			SlotName:        "fts_outbox_slot",
			PublicationName: "fts_outbox_pub",
			OutboxSchema:    "public",
			OutboxTable:     "outbox_events",
			ReconnectDelay:  30 * time.Second,
			StatusInterval:  10 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      "http://localhost:9200",
			Index:    "documents",
			Pipeline: "attachments",
		},
		Health: HealthConfig{
			Addr: ":8090",
		},
	}
}

// Load reads the optional YAML config file and applies environment overrides
// on top of the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return cfg, fmt.Errorf("failed to parse config: %w", err)
			}
			if err := applyFile(&cfg, fc); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) error {
	setString(&cfg.Replication.SlotName, fc.Replication.SlotName)
	setString(&cfg.Replication.PublicationName, fc.Replication.PublicationName)
	setString(&cfg.Replication.OutboxSchema, fc.Replication.OutboxSchema)
	setString(&cfg.Replication.OutboxTable, fc.Replication.OutboxTable)
	if err := setDuration(&cfg.Replication.ReconnectDelay, fc.Replication.ReconnectDelay, "replication.reconnect_delay"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Replication.StatusInterval, fc.Replication.StatusInterval, "replication.status_interval"); err != nil {
		return err
	}
	setString(&cfg.Elasticsearch.URL, fc.Elasticsearch.URL)
	setString(&cfg.Elasticsearch.Index, fc.Elasticsearch.Index)
	setString(&cfg.Elasticsearch.Pipeline, fc.Elasticsearch.Pipeline)
	setString(&cfg.Health.Addr, fc.Health.Addr)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Replication.SlotName = getEnv("REPLICATION_SLOT", cfg.Replication.SlotName)
	cfg.Replication.PublicationName = getEnv("REPLICATION_PUBLICATION", cfg.Replication.PublicationName)
	cfg.Replication.OutboxSchema = getEnv("OUTBOX_SCHEMA", cfg.Replication.OutboxSchema)
	cfg.Replication.OutboxTable = getEnv("OUTBOX_TABLE", cfg.Replication.OutboxTable)
	cfg.Replication.ReconnectDelay = getEnvAsDuration("REPLICATION_RECONNECT_DELAY", cfg.Replication.ReconnectDelay)
	cfg.Replication.StatusInterval = getEnvAsDuration("REPLICATION_STATUS_INTERVAL", cfg.Replication.StatusInterval)
	cfg.Elasticsearch.URL = getEnv("ELASTICSEARCH_URL", cfg.Elasticsearch.URL)
	cfg.Elasticsearch.Index = getEnv("ELASTICSEARCH_INDEX", cfg.Elasticsearch.Index)
	cfg.Elasticsearch.Pipeline = getEnv("ELASTICSEARCH_PIPELINE", cfg.Elasticsearch.Pipeline)
	cfg.Health.Addr = getEnv("HEALTH_ADDR", cfg.Health.Addr)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", name, err)
	}
	*dst = d
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
