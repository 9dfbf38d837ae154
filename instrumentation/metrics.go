package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the library's metric instruments.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grant flows
	TokenExchangesTotal         metric.Int64Counter
	AuthorizationDecisionsTotal metric.Int64Counter
	DevicePollsTotal            metric.Int64Counter

	// Resource guard
	GuardVerdictsTotal metric.Int64Counter

	// Security
	CodeReuseDetected metric.Int64Counter
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageClientsCount      metric.Int64ObservableGauge
	StorageGrantsCount       metric.Int64ObservableGauge
	StorageTokensCount       metric.Int64ObservableGauge
	StorageDevicesCount      metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.TokenExchangesTotal, err = serverMeter.Int64Counter(
		"oauth.token.exchanges.total",
		metric.WithDescription("Token endpoint exchanges by grant type and outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.exchanges.total counter: %w", err)
	}

	m.AuthorizationDecisionsTotal, err = serverMeter.Int64Counter(
		"oauth.authorization.decisions.total",
		metric.WithDescription("End-user authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.decisions.total counter: %w", err)
	}

	m.DevicePollsTotal, err = serverMeter.Int64Counter(
		"oauth.device.polls.total",
		metric.WithDescription("Device token polls by outcome"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device.polls.total counter: %w", err)
	}

	m.GuardVerdictsTotal, err = serverMeter.Int64Counter(
		"oauth.guard.verdicts.total",
		metric.WithDescription("Protected resource guard verdicts"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard.verdicts.total counter: %w", err)
	}

	m.CodeReuseDetected, err = securityMeter.Int64Counter(
		"oauth.code.reuse_detected",
		metric.WithDescription("Authorization code reuse attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.reuse_detected counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"oauth.audit.events.total",
		metric.WithDescription("Audit events emitted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Registered clients held in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageGrantsCount, err = storageMeter.Int64ObservableGauge(
		"storage.grants.count",
		metric.WithDescription("Authorization grants held in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.grants.count gauge: %w", err)
	}

	m.StorageTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.tokens.count",
		metric.WithDescription("Access tokens held in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	m.StorageDevicesCount, err = storageMeter.Int64ObservableGauge(
		"storage.devices.count",
		metric.WithDescription("Device authorizations held in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.devices.count gauge: %w", err)
	}

	return m, nil
}

// Recording helpers. All are nil-safe on the Instrumentation receiver so
// callers record without checking whether telemetry is wired.

// RecordHTTPRequest records one HTTP request against an endpoint.
func (i *Instrumentation) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	i.metrics.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordTokenExchange records a token endpoint exchange. Outcome is "ok" or
// the protocol error code.
func (i *Instrumentation) RecordTokenExchange(ctx context.Context, grantType, outcome string) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.TokenExchangesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("outcome", outcome),
	))
}

// RecordAuthorizationDecision records an end-user approval or denial.
func (i *Instrumentation) RecordAuthorizationDecision(ctx context.Context, responseType string, approved bool) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.AuthorizationDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("response_type", responseType),
		attribute.Bool("approved", approved),
	))
}

// RecordDevicePoll records one device token poll by outcome.
func (i *Instrumentation) RecordDevicePoll(ctx context.Context, outcome string) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.DevicePollsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordGuardVerdict records a protected resource guard verdict.
func (i *Instrumentation) RecordGuardVerdict(ctx context.Context, outcome string) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.GuardVerdictsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordCodeReuse records a detected authorization code replay.
func (i *Instrumentation) RecordCodeReuse(ctx context.Context) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.CodeReuseDetected.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation.
func (i *Instrumentation) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuditEvent records an audit event emission.
func (i *Instrumentation) RecordAuditEvent(ctx context.Context, eventType string) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation and its duration.
func (i *Instrumentation) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if i == nil || i.metrics == nil {
		return
	}
	i.metrics.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	i.metrics.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
