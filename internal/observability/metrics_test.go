package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveFrameRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}

	collector.ObserveFrame("native", 0.002)
	collector.ObserveFrame("native", 0.004)
	collector.ObserveFrame("xpc", 0.001)

	if got := testutil.ToFloat64(collector.FramesSent.WithLabelValues("native")); got != 2 {
		t.Fatalf("replay_frames_sent_total{backend=native} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.FramesSent.WithLabelValues("xpc")); got != 1 {
		t.Fatalf("replay_frames_sent_total{backend=xpc} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "replay_frame_duration_seconds", nil); count != 3 {
		t.Fatalf("replay_frame_duration_seconds sample_count = %d, want 3", count)
	}
}

func TestStateAndSpeedGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}

	collector.SetState(1)
	collector.SetSpeed(2.5)

	if got := testutil.ToFloat64(collector.PlaybackState); got != 1 {
		t.Fatalf("replay_playback_state = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.PlaybackSpeed); got != 2.5 {
		t.Fatalf("replay_playback_speed = %v, want 2.5", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *PlaybackCollector
	collector.ObserveFrame("native", 0.001)
	collector.SetState(2)
	collector.SetSpeed(1.0)
}

func TestDoubleRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("first NewPlaybackCollector: %v", err)
	}
	second, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("second NewPlaybackCollector: %v", err)
	}

	first.ObserveFrame("native", 0.001)
	second.ObserveFrame("native", 0.001)
	if got := testutil.ToFloat64(first.FramesSent.WithLabelValues("native")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestMetricsHandlerExposesPlaybackMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}
	collector.ObserveFrame("native", 0.003)
	collector.SetState(1)
	collector.SetSpeed(1.0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"replay_frames_sent_total",
		"replay_frame_duration_seconds",
		"replay_playback_state",
		"replay_playback_speed",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
