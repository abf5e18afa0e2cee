package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PlaybackCollector bundles Prometheus metrics for trajectory playback and
// provides a ready-made /metrics handler.
type PlaybackCollector struct {
	gatherer prometheus.Gatherer

	FramesSent    *prometheus.CounterVec
	FrameDuration prometheus.Histogram
	PlaybackState prometheus.Gauge
	PlaybackSpeed prometheus.Gauge
}

// NewPlaybackCollector registers playback Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewPlaybackCollector(reg prometheus.Registerer) (*PlaybackCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_frames_sent_total",
		Help: "Total number of trajectory frames pushed to the simulator, labeled by backend.",
	}, []string{"backend"})
	frames, err := registerCounterVec(reg, frames, "replay_frames_sent_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "replay_frame_duration_seconds",
		Help:    "Time spent marshaling and sending one frame.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "replay_frame_duration_seconds")
	if err != nil {
		return nil, err
	}

	state, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_playback_state",
		Help: "Current playback state (0 stopped, 1 playing, 2 paused).",
	}), "replay_playback_state")
	if err != nil {
		return nil, err
	}
	speed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_playback_speed",
		Help: "Current playback speed multiplier.",
	}), "replay_playback_speed")
	if err != nil {
		return nil, err
	}

	return &PlaybackCollector{
		gatherer:      gatherer,
		FramesSent:    frames,
		FrameDuration: duration,
		PlaybackState: state,
		PlaybackSpeed: speed,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PlaybackCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveFrame records one successfully sent frame and its send latency.
func (c *PlaybackCollector) ObserveFrame(backend string, seconds float64) {
	if c == nil {
		return
	}
	if c.FramesSent != nil {
		c.FramesSent.WithLabelValues(backend).Inc()
	}
	if c.FrameDuration != nil {
		c.FrameDuration.Observe(seconds)
	}
}

// SetState publishes the playback state machine's current state.
func (c *PlaybackCollector) SetState(state int) {
	if c == nil || c.PlaybackState == nil {
		return
	}
	c.PlaybackState.Set(float64(state))
}

// SetSpeed publishes the current speed multiplier.
func (c *PlaybackCollector) SetSpeed(speed float64) {
	if c == nil || c.PlaybackSpeed == nil {
		return
	}
	c.PlaybackSpeed.Set(speed)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
