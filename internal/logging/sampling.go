package logging

import (
	"go.uber.org/zap/zapcore"
)

// sampledLevels are the levels that may be sampled. Error and above never are.
var sampledLevels = []zapcore.Level{TraceLevel, zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel}

// newSampledCore splits core into one band per level so each level gets its
// own sampler and counters. A level without an entry in cfg.Levels (or with
// Initial == 0) is passed through unsampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := make([]zapcore.Core, 0, len(sampledLevels)+1)
	cores = append(cores, &levelBand{Core: core, lo: zapcore.ErrorLevel, hi: zapcore.FatalLevel})

	for _, level := range sampledLevels {
		var c zapcore.Core = &levelBand{Core: core, lo: level, hi: level}
		if lc, ok := cfg.Levels[level]; ok && lc.Initial > 0 {
			c = zapcore.NewSamplerWithOptions(c, cfg.Tick.Duration(), lc.Initial, lc.Thereafter)
		}
		cores = append(cores, c)
	}
	return zapcore.NewTee(cores...)
}

// levelBand passes entries with lo <= level <= hi.
type levelBand struct {
	zapcore.Core
	lo, hi zapcore.Level
}

func (b *levelBand) Enabled(lvl zapcore.Level) bool {
	return lvl >= b.lo && lvl <= b.hi && b.Core.Enabled(lvl)
}

func (b *levelBand) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !b.Enabled(e.Level) {
		return ce
	}
	return b.Core.Check(e, ce)
}

func (b *levelBand) With(fields []zapcore.Field) zapcore.Core {
	return &levelBand{Core: b.Core.With(fields), lo: b.lo, hi: b.hi}
}
