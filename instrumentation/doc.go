// Package instrumentation provides OpenTelemetry metrics and tracing for the
// OAuth server. All instruments are created up front; recording through a
// disabled Instrumentation goes to no-op providers and costs nothing.
//
// Wire it in through the root Config:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "oauth-provider",
//		ServiceVersion: "1.2.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	handler, err := oauth.New(&oauth.Config{
//		Issuer:          issuer,
//		Store:           store,
//		Instrumentation: inst,
//	})
//
// To export somewhere real, pass your own providers via Config.MeterProvider
// and Config.TracerProvider (e.g. a Prometheus-backed sdk/metric provider).
package instrumentation
