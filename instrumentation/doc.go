// Package instrumentation provides OpenTelemetry metrics and tracing for
// the library.
//
// An *Instrumentation value owns the meter and tracer providers plus the
// library's pre-registered instruments. Every recording helper is nil-safe:
// components hold a possibly-nil *Instrumentation and record without
// checking, so hosts that skip telemetry pay nothing and wire nothing.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "auth",
//		ServiceVersion: "1.4.2",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(ctx)
//	srv.SetInstrumentation(inst)
//
// The package installs no exporters. Hosts that ship telemetry configure
// the OpenTelemetry SDK themselves; the instruments recorded here flow
// through whatever providers the host installs.
//
// Never record credential values. The attribute keys in tracing.go carry
// metadata (client IDs, grant types, outcomes) — tokens, codes, and secrets
// must not appear in telemetry.
package instrumentation
