package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Ollama   OllamaConfig
	Gateway  GatewayConfig
	Vault    VaultConfig
	Sync     SyncConfig
	Runner   RunnerConfig
	Limits   LimitsConfig
	Contacts ContactsConfig
	User     UserConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type GatewayConfig struct {
	BaseURL string
}

type VaultConfig struct {
	BaseURL string
	Token   string
}

// Durations are kept as strings here and parsed at the wiring site, with a
// logged fallback to the default when they do not parse.
type SyncConfig struct {
	ChunkSize  int
	ChunkDelay string
	Deadline   string
	ItemCap    int
}

type RunnerConfig struct {
	PollInterval      string
	BatchSize         int
	MaxAttempts       int
	ProcessingTimeout string
}

type LimitsConfig struct {
	EmbedPerMinute int
}

type ContactsConfig struct {
	DefaultRegion string
}

type UserConfig struct {
	ID string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Gateway: GatewayConfig{
			BaseURL: "http://127.0.0.1:8700",
		},
		Vault: VaultConfig{
			BaseURL: "http://127.0.0.1:8701",
		},
		Sync: SyncConfig{
			ChunkSize:  25,
			ChunkDelay: "150ms",
			Deadline:   "3m",
			ItemCap:    2000,
		},
		Runner: RunnerConfig{
			PollInterval:      "500ms",
			BatchSize:         25,
			MaxAttempts:       5,
			ProcessingTimeout: "10m",
		},
		Limits: LimitsConfig{
			EmbedPerMinute: 60,
		},
		Contacts: ContactsConfig{
			DefaultRegion: "US",
		},
		User: UserConfig{
			ID: "local",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.rolo.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/rolo/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (ROLO_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform keychain for secrets still empty after env.
	if cfg.Server.Token == "" {
		if tok, err := kc.Get("rolo", "server_token"); err == nil && tok != "" {
			cfg.Server.Token = tok
		}
	}
	if cfg.Vault.Token == "" {
		if tok, err := kc.Get("rolo", "vault_token"); err == nil && tok != "" {
			cfg.Vault.Token = tok
		}
	}

	// The API refuses unauthenticated requests, so a token is mandatory.
	// The vault token stays optional: a vault in dev mode accepts none.
	if cfg.Server.Token == "" {
		msg := "missing required config: API bearer token. " +
			"Set it via environment variable ROLO_SERVER_TOKEN" +
			tokenHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
