package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestFormatters(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"count", FormatCount(3, 10), "3/10"},
		{"count empty", FormatCount(0, 0), "0/0"},
		{"value nil", FormatValue(nil), "n/a"},
		{"value integer", FormatValue(ptr(2)), "2"},
		{"value fraction", FormatValue(ptr(0.125)), "0.125"},
		{"value negative", FormatValue(ptr(-1.5)), "-1.5"},
		{"value rounded", FormatValue(ptr(1.23456789)), "1.23457"},
		{"value large", FormatValue(ptr(1.5e9)), "1.5e+09"},
		{"version zero", FormatVersion(0), "v0"},
		{"version", FormatVersion(42), "v42"},
		{"percentage half", FormatPercentage(0.5), "50.0%"},
		{"percentage zero", FormatPercentage(0), "0.0%"},
		{"percentage full", FormatPercentage(1), "100.0%"},
		{"percentage third", FormatPercentage(1.0 / 3), "33.3%"},
		{"duration seconds", FormatDuration(42), "42s"},
		{"duration zero", FormatDuration(0), "0s"},
		{"duration minutes", FormatDuration(300), "5m"},
		{"duration hours", FormatDuration(8100), "2h15m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, ratio(3, 0))
	assert.Equal(t, 0.5, ratio(2, 4))
	assert.Equal(t, 1.0, ratio(5, 4))
}
