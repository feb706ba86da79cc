// Package telemetry provides OpenTelemetry instrumentation for latentd.
//
// # Overview
//
// Traces and metrics go over OTLP (gRPC or HTTP) to a collector. The
// daemon's Prometheus /metrics endpoint is separate and always on.
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("github.com/fyrsmithlabs/latentd/internal/workspace")
//	ctx, span := tracer.Start(ctx, "workspace.switch_model")
//	defer span.End()
//
//	meter := tel.Meter("github.com/fyrsmithlabs/latentd/internal/experiment")
//	counter, _ := meter.Int64Counter("latentd.experiment.saves_total")
//	counter.Add(ctx, 1)
//
// # Configuration
//
// The daemon builds its telemetry config from the observability section
// (FromObservability):
//
//	observability:
//	  enable_telemetry: true
//	  endpoint: "localhost:4317"
//	  service_name: "latentd"
//	  insecure: true
//
// # Error Handling
//
// Telemetry failures do not crash the application. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op providers.
//
// # Testing
//
// TestTelemetry records in memory. Install it before constructing the
// component under test so the component's otel.Tracer call resolves to it:
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	client, _ := apiclient.New(cfg)
//	// ... exercise client ...
//	tt.AssertSpan(t, "embeddings.encode", attribute.Int("http.status_code", 200))

package telemetry
