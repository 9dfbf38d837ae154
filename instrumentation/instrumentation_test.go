package instrumentation

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"default config", Config{Enabled: false}},
		{"with service name and version", Config{Enabled: true, ServiceName: "test-service", ServiceVersion: "1.0.0"}},
		{"empty service name gets default", Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if inst == nil {
				t.Fatal("New() returned nil instrumentation")
			}

			if inst.Meter("http") == nil {
				t.Error("Meter('http') returned nil")
			}
			if inst.Tracer("server") == nil {
				t.Error("Tracer('server') returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.TracerProvider() == nil {
				t.Error("TracerProvider() returned nil")
			}
			if inst.MeterProvider() == nil {
				t.Error("MeterProvider() returned nil")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := inst.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
			// Shutdown is idempotent.
			if err := inst.Shutdown(ctx); err != nil {
				t.Errorf("Second Shutdown() error = %v", err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("Default ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("Default ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
}

func TestInstrumentation_NilReceiver(t *testing.T) {
	// Callers hold a possibly-nil *Instrumentation and record
	// unconditionally; every method must tolerate it.
	var inst *Instrumentation
	ctx := context.Background()

	inst.RecordTokenExchange(ctx, "password", "ok")
	inst.RecordGuardVerdict(ctx, "admitted")
	inst.RecordDevicePoll(ctx, "pending")
	inst.RecordCodeReuse(ctx)
	inst.RecordStorageOperation(ctx, "get_access_token", "ok", 1.5)

	if inst.Metrics() != nil {
		t.Error("Metrics() on nil receiver should return nil")
	}
	if inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() on nil receiver should be false")
	}
	if inst.Tracer("server") == nil {
		t.Error("Tracer() on nil receiver should return a noop tracer")
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() on nil receiver error = %v", err)
	}
	if err := inst.RegisterStorageSizeCallbacks(nil, nil, nil, nil); err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() on nil receiver error = %v", err)
	}
}

func TestInstrumentation_NoOpRecording(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()

	inst.RecordHTTPRequest(ctx, "POST", "/token", 200, 12.5)
	inst.RecordTokenExchange(ctx, "client_credentials", "ok")
	inst.RecordAuthorizationDecision(ctx, "code", true)
	inst.RecordDevicePoll(ctx, "slow_down")
	inst.RecordGuardVerdict(ctx, "rejected")
	inst.RecordRateLimitExceeded(ctx, "token_endpoint")
	inst.RecordAuditEvent(ctx, "token_issued")

	_, span := inst.Tracer("server").Start(ctx, "test-span")
	span.End()
}

func TestShouldLogClientIPs(t *testing.T) {
	inst, err := New(Config{LogClientIPs: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if !inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = false, want true")
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		nil,
		func() int64 { return 4 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}
}

func TestInstrumentation_ConcurrentAccess(t *testing.T) {
	inst, err := New(Config{Enabled: true, ServiceName: "concurrent-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				grantType := fmt.Sprintf("grant-%d", id)
				inst.RecordTokenExchange(ctx, grantType, "ok")
				inst.RecordGuardVerdict(ctx, "admitted")

				_, span := inst.Tracer("server").Start(ctx, "concurrent-span")
				span.End()
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func BenchmarkRecordTokenExchange(b *testing.B) {
	inst, _ := New(Config{Enabled: true})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		inst.RecordTokenExchange(ctx, "password", "ok")
	}
}

func BenchmarkRecordTokenExchange_NilReceiver(b *testing.B) {
	var inst *Instrumentation
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		inst.RecordTokenExchange(ctx, "password", "ok")
	}
}

func BenchmarkSpanCreation(b *testing.B) {
	inst, _ := New(Config{Enabled: true})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	tracer := inst.Tracer("server")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := tracer.Start(ctx, "test-operation")
		span.End()
	}
}
