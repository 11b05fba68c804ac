package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestSubmissionCounters(t *testing.T) {
	before := counterValue(t, SubmissionsTotal.WithLabelValues("ESCALATE"))
	SubmissionsTotal.WithLabelValues("ESCALATE").Inc()
	after := counterValue(t, SubmissionsTotal.WithLabelValues("ESCALATE"))

	if after != before+1 {
		t.Errorf("counter went %f -> %f, want +1", before, after)
	}
}

func TestObserveCaseDuration(t *testing.T) {
	created := time.Now().Add(-2 * time.Second)
	resolved := time.Now()

	var before dto.Metric
	if err := CaseDuration.Write(&before); err != nil {
		t.Fatalf("write histogram: %v", err)
	}

	ObserveCaseDuration(created, resolved)

	var after dto.Metric
	if err := CaseDuration.Write(&after); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if after.GetHistogram().GetSampleCount() != before.GetHistogram().GetSampleCount()+1 {
		t.Error("histogram sample count did not grow")
	}

	// Resolution timestamps that precede creation are ignored.
	ObserveCaseDuration(resolved, created)
	var final dto.Metric
	_ = CaseDuration.Write(&final)
	if final.GetHistogram().GetSampleCount() != after.GetHistogram().GetSampleCount() {
		t.Error("inverted interval must not be observed")
	}
}

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{500, "5xx"},
		{101, "1xx"},
	}
	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}
