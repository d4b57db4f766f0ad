package source

import (
	"encoding/json"
	"fmt"
	"time"
)

// configJSON is the on-disk shape of Config, stored in sources.config_json.
type configJSON struct {
	Kind        string   `json:"kind"`
	Globs       []string `json:"globs,omitempty"`
	SkipDomains []string `json:"skip_domains,omitempty"`
}

// MarshalConfig encodes a Config for persistence.
func MarshalConfig(cfg Config) (string, error) {
	b, err := json.Marshal(configJSON{Kind: cfg.Kind.String(), Globs: cfg.Globs, SkipDomains: cfg.SkipDomains})
	if err != nil {
		return "", fmt.Errorf("marshal source config: %w", err)
	}
	return string(b), nil
}

// UnmarshalConfig decodes a persisted Config.
func UnmarshalConfig(s string) (Config, error) {
	var cj configJSON
	if err := json.Unmarshal([]byte(s), &cj); err != nil {
		return Config{}, fmt.Errorf("unmarshal source config: %w", err)
	}
	var kind Kind
	switch cj.Kind {
	case "chromium_history":
		kind = KindChromiumHistory
	case "chromium_bookmarks":
		kind = KindChromiumBookmarks
	default:
		kind = KindFs
	}
	return Config{Kind: kind, Globs: cj.Globs, SkipDomains: cj.SkipDomains}, nil
}

// statusJSON is the on-disk shape of Status.
type statusJSON struct {
	State     string     `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Scanned   int        `json:"scanned,omitempty"`
	DurationS float64    `json:"duration_s,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// MarshalStatus encodes a Status for persistence.
func MarshalStatus(s Status) (string, error) {
	b, err := json.Marshal(statusJSON{State: s.State, StartedAt: s.StartedAt, Scanned: s.Scanned, DurationS: s.DurationS, Message: s.Message})
	if err != nil {
		return "", fmt.Errorf("marshal source status: %w", err)
	}
	return string(b), nil
}

// UnmarshalStatus decodes a persisted Status.
func UnmarshalStatus(s string) (Status, error) {
	var sj statusJSON
	if err := json.Unmarshal([]byte(s), &sj); err != nil {
		return Status{}, fmt.Errorf("unmarshal source status: %w", err)
	}
	return Status{State: sj.State, StartedAt: sj.StartedAt, Scanned: sj.Scanned, DurationS: sj.DurationS, Message: sj.Message}, nil
}

// IndexingStatus builds the Status for the start of a scan.
func IndexingStatus(startedAt time.Time) Status {
	return Status{State: "indexing", StartedAt: &startedAt}
}

// ReadyStatus builds the Status for a successful scan completion.
func ReadyStatus(scanned int, duration time.Duration) Status {
	return Status{State: "ready", Scanned: scanned, DurationS: duration.Seconds()}
}

// ErrorStatus builds the Status for a failed scan.
func ErrorStatus(message string) Status {
	return Status{State: "error", Message: message}
}
