package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ROLO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "ROLO_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ROLO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "ROLO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "ROLO_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ROLO_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "ROLO_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "gateway.base_url", typ: kString, env: "ROLO_GATEWAY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.BaseURL },
	},
	{
		key: "vault.base_url", typ: kString, env: "ROLO_VAULT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Vault.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Vault.BaseURL },
	},
	{
		key: "vault.token", typ: kString, env: "ROLO_VAULT_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Vault.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Vault.Token },
	},
	{
		key: "sync.chunk_size", typ: kInt, env: "ROLO_SYNC_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Sync.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.ChunkSize },
	},
	{
		key: "sync.chunk_delay", typ: kString, env: "ROLO_SYNC_CHUNK_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Sync.ChunkDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.ChunkDelay },
	},
	{
		key: "sync.deadline", typ: kString, env: "ROLO_SYNC_DEADLINE",
		apply:   func(cfg *Config, v any) { cfg.Sync.Deadline = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Deadline },
	},
	{
		key: "sync.item_cap", typ: kInt, env: "ROLO_SYNC_ITEM_CAP",
		apply:   func(cfg *Config, v any) { cfg.Sync.ItemCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.ItemCap },
	},
	{
		key: "runner.poll_interval", typ: kString, env: "ROLO_RUNNER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Runner.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Runner.PollInterval },
	},
	{
		key: "runner.batch_size", typ: kInt, env: "ROLO_RUNNER_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Runner.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Runner.BatchSize },
	},
	{
		key: "runner.max_attempts", typ: kInt, env: "ROLO_RUNNER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Runner.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Runner.MaxAttempts },
	},
	{
		key: "runner.processing_timeout", typ: kString, env: "ROLO_RUNNER_PROCESSING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Runner.ProcessingTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Runner.ProcessingTimeout },
	},
	{
		key: "limits.embed_per_minute", typ: kInt, env: "ROLO_LIMITS_EMBED_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Limits.EmbedPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.EmbedPerMinute },
	},
	{
		key: "contacts.default_region", typ: kString, env: "ROLO_CONTACTS_DEFAULT_REGION",
		apply:   func(cfg *Config, v any) { cfg.Contacts.DefaultRegion = v.(string) },
		extract: func(cfg Config) any { return cfg.Contacts.DefaultRegion },
	},
	{
		key: "user.id", typ: kString, env: "ROLO_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.User.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.User.ID },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			// Secrets never live in the config backend.
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
