package config

// ConfigBackend abstracts platform-specific config storage. On macOS values
// live in UserDefaults (via the `defaults` CLI); on Linux they live in a JSON
// file under XDG config.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
