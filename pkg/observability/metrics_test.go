package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInitMetrics_DisabledIsNoOp(t *testing.T) {
	m, err := InitMetrics(false)
	if err != nil {
		t.Fatalf("InitMetrics(false) returned error: %v", err)
	}
	if m == nil {
		t.Fatal("expected a recorder, got nil")
	}

	ctx := context.Background()
	m.RecordTurn(ctx, time.Second, true, errors.New("boom"))
	m.RecordToolExecution(ctx, "sales_lookup", 50*time.Millisecond, "timeout")
	m.RecordRetrievalBranch(ctx, "semantic", 10*time.Millisecond, errors.New("down"))
	m.RecordOracleCall(ctx, "decide", 20*time.Millisecond, nil)
}

func TestPrometheusMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *PrometheusMetrics

	ctx := context.Background()
	m.RecordTurn(ctx, time.Second, false, nil)
	m.RecordToolExecution(ctx, "sales_lookup", time.Millisecond, "")
	m.RecordRetrievalBranch(ctx, "lexical", time.Millisecond, nil)
	m.RecordOracleCall(ctx, "complete", time.Millisecond, errors.New("boom"))
}

func TestInitMetrics_EnabledRecords(t *testing.T) {
	m, err := InitMetrics(true)
	if err != nil {
		t.Fatalf("InitMetrics(true) returned error: %v", err)
	}

	ctx := context.Background()
	m.RecordTurn(ctx, 750*time.Millisecond, false, nil)
	m.RecordTurn(ctx, 2*time.Second, true, errors.New("oracle down"))
	m.RecordToolExecution(ctx, "sales_lookup", 30*time.Millisecond, "")
	m.RecordToolExecution(ctx, "sales_lookup", 90*time.Millisecond, "unavailable")
	m.RecordRetrievalBranch(ctx, "semantic", 12*time.Millisecond, nil)
	m.RecordRetrievalBranch(ctx, "lexical", 3*time.Millisecond, errors.New("index down"))
	m.RecordOracleCall(ctx, "decide", 400*time.Millisecond, nil)
	m.RecordOracleCall(ctx, "complete", 100*time.Millisecond, errors.New("timeout"))
}

func TestGlobalMetrics(t *testing.T) {
	original := GetGlobalMetrics()
	defer SetGlobalMetrics(original)

	if GetGlobalMetrics() == nil {
		t.Fatal("default global metrics should not be nil")
	}

	m, err := InitMetrics(false)
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	SetGlobalMetrics(m)
	if GetGlobalMetrics() != Metrics(m) {
		t.Fatal("global metrics not replaced")
	}
}
