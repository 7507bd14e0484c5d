package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrModule    = "module"
	attrAction    = "action"
	attrDatapoint = "datapoint"
	attrResult    = "result"
	attrTool      = "tool"
)

// Metrics records sitekit metrics. The zero value is a no-op recorder,
// which is what a disabled Provider hands out.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	googleAPIRequestsTotal   metric.Int64Counter
	googleAPIRequestDuration metric.Float64Histogram

	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter
	oauthRevocationsTotal  metric.Int64Counter

	moduleStateChangesTotal metric.Int64Counter

	toolInvocationsTotal metric.Int64Counter
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	if m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	if m.googleAPIRequestsTotal, err = meter.Int64Counter(
		"google_api_requests_total",
		metric.WithDescription("Total number of module data requests against Google APIs"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create google_api_requests_total counter: %w", err)
	}

	if m.googleAPIRequestDuration, err = meter.Float64Histogram(
		"google_api_request_duration_seconds",
		metric.WithDescription("Module data request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	); err != nil {
		return nil, fmt.Errorf("failed to create google_api_request_duration_seconds histogram: %w", err)
	}

	if m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of OAuth callback exchanges"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	if m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	if m.oauthRevocationsTotal, err = meter.Int64Counter(
		"oauth_revocations_total",
		metric.WithDescription("Total number of credential revocations"),
		metric.WithUnit("{revocation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oauth_revocations_total counter: %w", err)
	}

	if m.moduleStateChangesTotal, err = meter.Int64Counter(
		"module_state_changes_total",
		metric.WithDescription("Total number of module activation, deactivation and settings changes"),
		metric.WithUnit("{change}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create module_state_changes_total counter: %w", err)
	}

	if m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP admin tool invocations"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request. path should be the route
// pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordGoogleAPIRequest records a module data request.
func (m *Metrics) RecordGoogleAPIRequest(ctx context.Context, module, datapoint, status string, duration time.Duration) {
	if m == nil || m.googleAPIRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrModule, module),
		attribute.String(attrDatapoint, datapoint),
		attribute.String(attrStatus, status),
	)
	m.googleAPIRequestsTotal.Add(ctx, 1, attrs)
	m.googleAPIRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordOAuthAuth records the result of an OAuth callback exchange.
// Result should be one of: "success", "failure", "scope_mismatch"
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}
	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh records a token refresh attempt.
// Result should be one of: "success", "failure", "expired", "revoked"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}
	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthRevocation records a revocation; status reflects the remote call.
func (m *Metrics) RecordOAuthRevocation(ctx context.Context, status string) {
	if m == nil || m.oauthRevocationsTotal == nil {
		return
	}
	m.oauthRevocationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordModuleStateChange records a module lifecycle operation.
func (m *Metrics) RecordModuleStateChange(ctx context.Context, module, action, status string) {
	if m == nil || m.moduleStateChangesTotal == nil {
		return
	}
	m.moduleStateChangesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrModule, module),
		attribute.String(attrAction, action),
		attribute.String(attrStatus, status),
	))
}

// RecordToolInvocation records an MCP admin tool call.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool, status string) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}
	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
	))
}
