// Package logging is the daemon's structured logger: zap with a trace level
// below debug, context-carried correlation ids, redaction of the text output
// and per-level sampling.
//
// Entries go to stdout (JSON or console) and, when telemetry is enabled, to
// the OpenTelemetry log bridge:
//
//	cfg, err := logging.FromObservability(daemonCfg.Observability)
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	defer logger.Sync()
//
//	ctx = logging.WithExperimentID(ctx, exp.ID)
//	logger.Info(ctx, "model switched", zap.String("model_id", id))
//
// The entry carries experiment_id, and trace_id and span_id when ctx holds
// a span. Domain packages take the *zap.Logger from Underlying and add
// these fields themselves with ContextFields.
//
// Redaction hides values of sensitive keys, values matching a pattern and
// truncates long strings such as sequence batches. It applies to the text
// output only; config.Secret values should be logged with Secret so that
// no output ever sees them.
//
// The level can be changed at runtime with SetLevel, which the daemon does
// when its config file is edited. Error entries are never sampled.
//
// Tests use TestLogger:
//
//	tl := logging.NewTestLogger()
//	srv, _ := http.NewServer(deps, tl.Underlying(), nil)
//	// ...
//	tl.AssertField(t, "http request", "experiment_id", id)
package logging
