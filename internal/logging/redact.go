package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/latentd/internal/config"
)

// maxPatternLen bounds redaction patterns as a basic ReDoS guard.
const maxPatternLen = 200

const redactedValue = "[REDACTED]"

// secretMarshaler logs a config.Secret as its length only.
type secretMarshaler struct {
	key string
	val config.Secret
}

func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, redactedLen(len(s.val.Value())))
	return nil
}

// Secret creates a field for a config.Secret that records only whether it
// is set and how long it is.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// RedactedString creates a field holding only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, redactedLen(len(val)))
}

func redactedLen(n int) string {
	return "[REDACTED:" + strconv.Itoa(n) + "]"
}

// redactionRules decide what happens to a key/value pair.
type redactionRules struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
	maxLen   int
}

func newRedactionRules(cfg RedactionConfig) (*redactionRules, error) {
	r := &redactionRules{
		keys:   make(map[string]struct{}, len(cfg.Fields)),
		maxLen: cfg.MaxValueLen,
	}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactionRules) sensitive(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// scrub returns the value to log for key.
func (r *redactionRules) scrub(key, val string) string {
	if r.sensitive(key) {
		return redactedValue
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return "[REDACTED:pattern]"
		}
	}
	if r.maxLen > 0 && len(val) > r.maxLen {
		return fmt.Sprintf("%s...(+%d bytes)", val[:r.maxLen], len(val)-r.maxLen)
	}
	return val
}

// RedactingEncoder wraps an encoder and scrubs every field it writes, both
// fields attached with Logger.With and fields passed per entry.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *redactionRules // nil when redaction is disabled
}

// NewRedactingEncoder wraps base. Pattern errors are reported only when
// redaction is enabled.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	rules, err := newRedactionRules(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: rules}, nil
}

func (e *RedactingEncoder) hidden(key string) bool {
	return e.rules != nil && e.rules.sensitive(key)
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.rules != nil {
		val = e.rules.scrub(key, val)
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.rules == nil {
		e.Encoder.AddByteString(key, val)
		return
	}
	e.Encoder.AddString(key, e.rules.scrub(key, string(val)))
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.hidden(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected hides the whole value of a sensitive key. Nested values are
// not inspected; use zap.Object with a marshaler for that.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.hidden(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.hidden(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.hidden(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}

// EncodeEntry routes per-entry fields through the redacting methods. The
// embedded encoder would otherwise add them to itself unfiltered.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.rules == nil {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	c := e.Clone().(*RedactingEncoder)
	for _, f := range fields {
		f.AddTo(c)
	}
	return c.Encoder.EncodeEntry(ent, nil)
}
