package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewJobMetrics(reg)
	job := "stock-reconcile"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "serials_job_success_total", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "serials_job_failure_total", "job", job); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "serials_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestSerialMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSerialMetrics(reg)
	metrics.ObserveTransition("assign", OutcomeApplied, 3)
	metrics.ObserveTransition("assign", OutcomeApplied, 0)
	metrics.IncAllocationRejected("assign")
	metrics.AddStockDrift("reconcile", 2)
	metrics.IncDelivery("order_item_completed", OutcomeApplied)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "serials_transitions_total", "trigger", "assign"); err != nil || got != 3 {
		t.Fatalf("expected transitions=3, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "serials_allocation_rejections_total", "operation", "assign"); err != nil || got != 1 {
		t.Fatalf("expected rejections=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "serials_stock_drift_corrections_total", "source", "reconcile"); err != nil || got != 2 {
		t.Fatalf("expected drift=2, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "serials_outbox_deliveries_total", "event_type", "order_item_completed"); err != nil || got != 1 {
		t.Fatalf("expected deliveries=1, got %f err=%v", got, err)
	}
}

func TestNilRecordersAreSafe(t *testing.T) {
	var serial *SerialMetrics
	serial.ObserveTransition("assign", OutcomeApplied, 1)
	serial.IncAllocationRejected("assign")
	NewSerialMetrics(nil).AddStockDrift("x", 1)
	var jobs *JobMetrics
	jobs.IncSuccess("x")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
