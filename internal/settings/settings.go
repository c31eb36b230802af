package settings

import (
	"encoding/json"
	"log/slog"
	"strconv"
)

// Settings is the structured view over a user's flat settings rows.
type Settings struct {
	Providers      []string          // providers sync covers, e.g. ["gmail", "gcal"]
	Queries        map[string]string // provider → query filter applied on sync
	DefaultRegion  string            // ISO 3166-1 region for phone parsing
	EmbedPerMinute int               // embedding quota override; 0 uses the server default
}

// defaultRegion applies when the user has not set contacts.default_region.
const defaultRegion = "US"

// buildSettings assembles Settings from flat key-value pairs.
// Keys use dot-notation: "sync.providers" and "sync.queries" hold JSON,
// "contacts.default_region" and "limits.embed_per_minute" are plain values.
func buildSettings(keys map[string]string) Settings {
	s := Settings{DefaultRegion: defaultRegion}

	unmarshalKey(keys, "sync.providers", &s.Providers)
	unmarshalKey(keys, "sync.queries", &s.Queries)

	if v, ok := keys["contacts.default_region"]; ok && v != "" {
		s.DefaultRegion = v
	}
	if v, ok := keys["limits.embed_per_minute"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			slog.Warn("malformed settings key, skipping", "key", "limits.embed_per_minute", "value", v)
		} else {
			s.EmbedPerMinute = n
		}
	}

	return s
}

// unmarshalKey unmarshals a JSON value from keys into target, logging a
// warning if the value is present but malformed.
func unmarshalKey(keys map[string]string, key string, target interface{}) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed settings key, skipping", "key", key, "error", err)
	}
}

func copySettings(s Settings) Settings {
	cp := s
	if s.Providers != nil {
		cp.Providers = make([]string, len(s.Providers))
		copy(cp.Providers, s.Providers)
	}
	if s.Queries != nil {
		cp.Queries = make(map[string]string, len(s.Queries))
		for k, v := range s.Queries {
			cp.Queries[k] = v
		}
	}
	return cp
}
