package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when the host does not name itself.
	DefaultServiceName = "oauth2-kit"

	// DefaultServiceVersion is the default service version used when none is provided.
	DefaultServiceVersion = "unknown"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName is the name of the service emitting telemetry.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false,
	// no-op providers are installed and recording costs nothing.
	Enabled bool

	// LogClientIPs controls whether client IP addresses are included in
	// telemetry. IPs can be personal data under GDPR and similar regimes;
	// hosts in strict jurisdictions disable this.
	LogClientIPs bool

	// Resource allows custom resource attributes. If nil, a resource is
	// built from ServiceName and ServiceVersion.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry components plus the library's
// pre-registered instruments. All recording methods are nil-safe, so callers
// hold a possibly-nil *Instrumentation and record unconditionally.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions, registered during New only.
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates an instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	// The providers are no-op either way for now; hosts that export
	// telemetry install their own SDK providers via otel globals. The
	// Enabled split is kept so exporter wiring can land here without
	// changing callers.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Shutdown gracefully shuts down all instrumentation providers.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	if i == nil {
		return nil
	}
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope. Scopes are layer names
// like "http", "server", "storage", "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter("github.com/giantswarm/oauth2-kit/" + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	if i == nil {
		return tracenoop.NewTracerProvider().Tracer("github.com/giantswarm/oauth2-kit")
	}
	return i.tracerProvider.Tracer("github.com/giantswarm/oauth2-kit/" + scope)
}

// Metrics returns the instrument holder for direct access. Returns nil on a
// nil receiver; prefer the Record* helpers, which handle that.
func (i *Instrumentation) Metrics() *Metrics {
	if i == nil {
		return nil
	}
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs reports whether client IPs may appear in telemetry.
func (i *Instrumentation) ShouldLogClientIPs() bool {
	if i == nil {
		return false
	}
	return i.config.LogClientIPs
}

// SizeCallback reports the current size of one storage collection.
type SizeCallback func() int64

// RegisterStorageSizeCallbacks registers gauge callbacks for store sizes.
// Reference stores call this when given an Instrumentation. Nil callbacks
// skip their gauge.
func (i *Instrumentation) RegisterStorageSizeCallbacks(clients, grants, tokens, devices SizeCallback) error {
	if i == nil {
		return nil
	}

	meter := i.Meter("storage")
	_, err := meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if clients != nil {
				observer.ObserveInt64(i.metrics.StorageClientsCount, clients())
			}
			if grants != nil {
				observer.ObserveInt64(i.metrics.StorageGrantsCount, grants())
			}
			if tokens != nil {
				observer.ObserveInt64(i.metrics.StorageTokensCount, tokens())
			}
			if devices != nil {
				observer.ObserveInt64(i.metrics.StorageDevicesCount, devices())
			}
			return nil
		},
		i.metrics.StorageClientsCount,
		i.metrics.StorageGrantsCount,
		i.metrics.StorageTokensCount,
		i.metrics.StorageDevicesCount,
	)
	return err
}
