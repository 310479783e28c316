// Package observability provides OTel metrics with a Prometheus exporter:
// turn durations and counters, tool executions, retrieval branch latency,
// and oracle calls.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics is the recording surface the engine depends on.
type Metrics interface {
	RecordTurn(ctx context.Context, duration time.Duration, degraded bool, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, errorKind string)
	RecordRetrievalBranch(ctx context.Context, branch string, duration time.Duration, err error)
	RecordOracleCall(ctx context.Context, operation string, duration time.Duration, err error)
}

// PrometheusMetrics implements Metrics over the OTel SDK with a Prometheus
// exporter. All methods tolerate a nil receiver so instrumentation never
// needs guard clauses.
type PrometheusMetrics struct {
	turnDuration   metric.Float64Histogram
	turnsTotal     metric.Int64Counter
	turnsDegraded  metric.Int64Counter
	turnErrors     metric.Int64Counter
	toolDuration   metric.Float64Histogram
	toolCalls      metric.Int64Counter
	toolErrors     metric.Int64Counter
	branchDuration metric.Float64Histogram
	branchErrors   metric.Int64Counter
	oracleDuration metric.Float64Histogram
	oracleErrors   metric.Int64Counter
}

// InitMetrics creates the Prometheus-backed metrics. When disabled it
// returns an empty recorder whose methods are no-ops.
func InitMetrics(enabled bool) (*PrometheusMetrics, error) {
	if !enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("sage")

	m := &PrometheusMetrics{}

	if m.turnDuration, err = meter.Float64Histogram(
		"sage_turn_duration_seconds",
		metric.WithDescription("Turn duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}
	if m.turnsTotal, err = meter.Int64Counter(
		"sage_turns_total",
		metric.WithDescription("Total turns processed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}
	if m.turnsDegraded, err = meter.Int64Counter(
		"sage_turns_degraded_total",
		metric.WithDescription("Turns that completed with degraded evidence or reasoning"),
	); err != nil {
		return nil, fmt.Errorf("failed to create degraded turns counter: %w", err)
	}
	if m.turnErrors, err = meter.Int64Counter(
		"sage_turn_errors_total",
		metric.WithDescription("Turns that failed outright"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"sage_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}
	if m.toolCalls, err = meter.Int64Counter(
		"sage_tool_calls_total",
		metric.WithDescription("Total tool invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter(
		"sage_tool_errors_total",
		metric.WithDescription("Tool invocations that returned an error observation"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}
	if m.branchDuration, err = meter.Float64Histogram(
		"sage_retrieval_branch_duration_seconds",
		metric.WithDescription("Retrieval branch duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create branch duration histogram: %w", err)
	}
	if m.branchErrors, err = meter.Int64Counter(
		"sage_retrieval_branch_errors_total",
		metric.WithDescription("Retrieval branches that failed or timed out"),
	); err != nil {
		return nil, fmt.Errorf("failed to create branch errors counter: %w", err)
	}
	if m.oracleDuration, err = meter.Float64Histogram(
		"sage_oracle_call_duration_seconds",
		metric.WithDescription("Reasoning oracle call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oracle duration histogram: %w", err)
	}
	if m.oracleErrors, err = meter.Int64Counter(
		"sage_oracle_errors_total",
		metric.WithDescription("Reasoning oracle calls that failed after retries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create oracle errors counter: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, duration time.Duration, degraded bool, err error) {
	if m == nil || m.turnDuration == nil {
		return
	}
	m.turnDuration.Record(ctx, duration.Seconds())
	m.turnsTotal.Add(ctx, 1)
	if degraded {
		m.turnsDegraded.Add(ctx, 1)
	}
	if err != nil {
		m.turnErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, errorKind string) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if errorKind != "" {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("kind", errorKind),
		))
	}
}

func (m *PrometheusMetrics) RecordRetrievalBranch(ctx context.Context, branch string, duration time.Duration, err error) {
	if m == nil || m.branchDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("branch", branch))
	m.branchDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.branchErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordOracleCall(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil || m.oracleDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.oracleDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.oracleErrors.Add(ctx, 1, attrs)
	}
}

var (
	globalMetrics Metrics = (*PrometheusMetrics)(nil)
	metricsMu     sync.RWMutex
)

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder; the zero value is a
// no-op.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

var _ Metrics = (*PrometheusMetrics)(nil)
