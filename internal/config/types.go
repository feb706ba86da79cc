package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration read from text, so it works the same in
// YAML, TOML and environment variables. A bare integer string, as env
// vars usually are, means seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, convErr := strconv.ParseInt(s, 10, 64)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		parsed = time.Duration(secs) * time.Second
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// errRedactedSecret rejects loading a config that was written out with its
// secrets already masked.
var errRedactedSecret = errors.New("secret holds the redaction placeholder")

// Secret is a string that never prints. fmt, JSON and text marshaling all
// produce a placeholder; Value returns the real content.
type Secret string

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.mask() }
func (s Secret) GoString() string { return "config.Secret(" + strconv.Quote(s.mask()) + ")" }

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}

func (s *Secret) UnmarshalText(text []byte) error {
	if string(text) == redacted {
		return errRedactedSecret
	}
	*s = Secret(text)
	return nil
}
