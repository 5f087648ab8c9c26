package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordTool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.RecordTool("coder", "file_write", true, 30*time.Millisecond)
	m.RecordTool("coder", "file_write", false, 10*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.toolExecutions.WithLabelValues("coder", "file_write", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.toolExecutions.WithLabelValues("coder", "file_write", "failure")))
}

func TestMetricsRecordDecisionAndApproval(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.RecordDecision("delegate")
	m.RecordDecision("delegate")
	m.RecordApproval("rejected")

	require.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("delegate")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.approvals.WithLabelValues("rejected")))
}

func TestMustNewMetricsReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.RecordVerification(true, 2)
	second.RecordVerification(false, 3)

	require.Equal(t, 1.0, testutil.ToFloat64(first.verifyOps.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(first.verifyOps.WithLabelValues("failure")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTool("coder", "shell", true, time.Millisecond)
	m.RecordDecision("direct")
	m.RecordVerification(true, 1)
	m.RecordApproval("approved")
	m.RequestStarted()
	m.RequestFinished()
}
