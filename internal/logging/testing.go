package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry in memory. Fields are
// kept as logged, so assertions see values before any encoder redaction.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger records entries at every level, trace included.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns the recorded entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// Entries returns the entries whose message contains msg.
func (t *TestLogger) Entries(msg string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, e := range t.observed.All() {
		if strings.Contains(e.Message, msg) {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops the recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails tb unless an entry at level mentions msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.Entries(msg) {
		if e.Level == level {
			return
		}
	}
	tb.Errorf("no %s entry containing %q in %d recorded entries", LevelName(level), msg, len(t.observed.All()))
}

// AssertField fails tb unless some entry mentioning msg carries key with a
// value equal to want. Values are compared through their formatted form so
// an int field matches an int64 want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	var seen []any
	for _, e := range t.Entries(msg) {
		got, ok := e.ContextMap()[key]
		if !ok {
			continue
		}
		if fmt.Sprint(got) == fmt.Sprint(want) {
			return
		}
		seen = append(seen, got)
	}
	tb.Errorf("entry %q: field %q=%v not found (seen %v)", msg, key, want, seen)
}

// AssertNoSecrets fails tb if a string field named by the default redaction
// config holds anything other than a redaction marker, or if a message or
// string value matches a default redaction pattern.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	rules, err := newRedactionRules(NewDefaultConfig().Redaction)
	if err != nil {
		tb.Fatalf("default redaction config: %v", err)
	}
	leaked := func(s string) bool {
		for _, re := range rules.patterns {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	}

	for _, e := range t.observed.All() {
		if leaked(e.Message) {
			tb.Errorf("secret in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType || f.String == "" {
				continue
			}
			if rules.sensitive(f.Key) && !strings.HasPrefix(f.String, "[REDACTED") {
				tb.Errorf("entry %q: field %q not redacted", e.Message, f.Key)
			}
			if leaked(f.String) {
				tb.Errorf("entry %q: field %q matches a secret pattern", e.Message, f.Key)
			}
		}
	}
}
