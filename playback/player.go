package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/xplane-replay/geo"
	"github.com/signalsfoundry/xplane-replay/internal/logging"
	"github.com/signalsfoundry/xplane-replay/internal/observability"
	"github.com/signalsfoundry/xplane-replay/model"
	"github.com/signalsfoundry/xplane-replay/xplane"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/xplane-replay/playback"

// State is the playback state machine's current phase.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Speed multiplier bounds. Requests outside the range are clamped.
const (
	MinSpeed = 0.1
	MaxSpeed = 10.0
)

// stopWait bounds how long Stop blocks for the playback loop to exit.
const stopWait = 2 * time.Second

// Player replays a trajectory against a simulator backend in real time.
// All exported methods are safe for concurrent use; the playback loop
// runs on its own goroutine between Play and Stop.
type Player struct {
	traj    *model.Trajectory
	cfg     Config
	conv    *geo.NEDConverter
	mapping Mapping
	log     logging.Logger
	metrics *observability.PlaybackCollector

	mu        sync.Mutex
	backend   xplane.Backend
	sender    *frameSender
	state     State
	speed     float64
	index     int
	endIdx    int
	loop      bool
	originSet bool
	stopCh  chan struct{}
	pauseCh chan struct{} // non-nil while paused; closed on resume
	doneCh  chan struct{}

	// OnFrame, when set, is invoked from the playback goroutine after
	// each frame is sent with the frame index and its trajectory time in
	// seconds. OnComplete fires once when the trajectory end is reached
	// without looping. Set both before calling Play.
	OnFrame    func(index int, timeSeconds float64)
	OnComplete func()
}

// NewPlayer builds a player for one trajectory. The backend is dialed
// lazily on the first Play. Pass a nil logger to silence the player and
// a nil collector to skip metrics.
func NewPlayer(traj *model.Trajectory, cfg Config, log logging.Logger, metrics *observability.PlaybackCollector) (*Player, error) {
	if err := traj.Validate(); err != nil {
		return nil, fmt.Errorf("trajectory: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	mapping, err := cfg.Mapping()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Player{
		traj:    traj,
		cfg:     cfg,
		conv:    geo.NewNEDConverter(0, 0, 0),
		mapping: mapping,
		log:     log,
		metrics: metrics,
		speed:   cfg.Playback.Speed,
		loop:    cfg.Playback.Loop,
	}, nil
}

// SetBackend installs a pre-connected backend, bypassing the automatic
// selection in Play. Call before Play.
func (p *Player) SetBackend(b xplane.Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backend = b
}

// State reports the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Speed reports the current speed multiplier.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Index reports the next frame to be sent.
func (p *Player) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// SetSpeed changes the speed multiplier, clamping into [MinSpeed,
// MaxSpeed]. Takes effect from the next frame.
func (p *Player) SetSpeed(speed float64) {
	speed = clampSpeed(speed)
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
	p.metrics.SetSpeed(speed)
}

// Seek jumps playback to the frame nearest the given trajectory time in
// seconds, clamped to the trajectory bounds. Valid in any state; while
// stopped it sets where the next Play begins.
func (p *Player) Seek(seconds float64) {
	idx := p.traj.IndexAtTime(seconds)
	p.mu.Lock()
	p.index = idx
	p.mu.Unlock()
}

// Play starts playback from the sample nearest startTime up to the
// sample nearest endTime (0 for either means the trajectory bound). A
// speed of 0 keeps the configured default. Play only transitions out of
// Stopped; call Resume to continue a paused session.
func (p *Player) Play(ctx context.Context, speed, startTime, endTime float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "Playback/Play",
		trace.WithAttributes(
			attribute.Float64("playback.speed", speed),
			attribute.Float64("playback.start_s", startTime),
			attribute.Float64("playback.end_s", endTime),
		))
	defer span.End()

	if p.state != Stopped {
		err := fmt.Errorf("cannot play while %s", p.state)
		span.RecordError(err)
		return err
	}

	if p.backend == nil {
		b, err := p.connect(ctx)
		if err != nil {
			span.RecordError(err)
			return err
		}
		p.backend = b
	}
	span.SetAttributes(attribute.String("playback.backend", p.backend.Name()))

	p.setOrigin(ctx)

	if speed != 0 {
		p.speed = clampSpeed(speed)
	}
	// With no explicit start, playback picks up from the current cursor,
	// so a Seek while stopped chooses where the next session begins.
	start := p.index
	if startTime > 0 {
		start = p.traj.IndexAtTime(startTime)
	}
	end := p.traj.Len()
	if endTime > 0 {
		end = p.traj.IndexAtTime(endTime) + 1
	}
	if end <= start {
		return fmt.Errorf("empty playback window [%v, %v]", startTime, endTime)
	}

	p.backend.SetPhysicsOverride(true)

	p.sender = newFrameSender(p.backend, p.conv, p.mapping, p.cfg.Send)
	p.index = start
	p.endIdx = end
	p.state = Playing
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.pauseCh = nil
	p.metrics.SetState(int(Playing))
	p.metrics.SetSpeed(p.speed)

	p.log.Info(ctx, "playback started",
		logging.String("backend", p.backend.Name()),
		logging.Float64("speed", p.speed),
		logging.Int("start", start),
		logging.Int("end", end))

	go p.run(p.stopCh, p.doneCh)
	return nil
}

// Pause suspends playback. No-op unless playing.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing {
		return
	}
	p.state = Paused
	p.pauseCh = make(chan struct{})
	p.metrics.SetState(int(Paused))
}

// Resume continues a paused playback. No-op unless paused.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Paused {
		return
	}
	p.state = Playing
	close(p.pauseCh)
	p.pauseCh = nil
	p.metrics.SetState(int(Playing))
}

// Stop ends playback and rewinds to the first frame. It waits up to two
// seconds for the playback goroutine to exit, then releases the control
// surface override. No-op when already stopped.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return
	}
	stopCh, doneCh, pauseCh := p.stopCh, p.doneCh, p.pauseCh
	p.state = Stopped
	p.pauseCh = nil
	p.mu.Unlock()

	close(stopCh)
	if pauseCh != nil {
		close(pauseCh)
	}
	select {
	case <-doneCh:
	case <-time.After(stopWait):
		p.log.Warn(context.Background(), "playback loop did not exit in time")
	}

	p.mu.Lock()
	p.index = 0
	sender := p.sender
	backend := p.backend
	p.sender = nil
	p.mu.Unlock()
	p.metrics.SetState(int(Stopped))

	if sender != nil {
		sender.releaseSurfaceOverride()
	}
	if backend != nil {
		backend.SetPhysicsOverride(false)
	}
}

// Close stops playback and disconnects the backend.
func (p *Player) Close() {
	p.Stop()
	p.mu.Lock()
	b := p.backend
	p.backend = nil
	p.mu.Unlock()
	if b != nil {
		b.Disconnect()
	}
}

// run is the playback loop. It owns the frame cursor while running and
// publishes it back under the mutex so Seek and progress reads stay
// coherent.
func (p *Player) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ctx := context.Background()
	interval := time.Duration(float64(time.Second) / p.traj.SampleRate)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		p.mu.Lock()
		state := p.state
		pauseCh := p.pauseCh
		idx := p.index
		end := p.endIdx
		speed := p.speed
		sender := p.sender
		backend := p.backend
		p.mu.Unlock()

		if state == Paused {
			select {
			case <-stopCh:
				return
			case <-pauseCh:
			}
			continue
		}

		if idx >= end {
			if p.loop {
				p.mu.Lock()
				p.index = 0
				p.mu.Unlock()
				continue
			}
			p.mu.Lock()
			p.state = Stopped
			p.index = 0
			p.sender = nil
			p.mu.Unlock()
			p.metrics.SetState(int(Stopped))
			sender.releaseSurfaceOverride()
			backend.SetPhysicsOverride(false)
			p.log.Info(ctx, "playback complete")
			if p.OnComplete != nil {
				p.OnComplete()
			}
			return
		}

		frameStart := time.Now()
		sender.sendFrame(p.traj, idx)
		p.metrics.ObserveFrame(backend.Name(), time.Since(frameStart).Seconds())
		if p.OnFrame != nil {
			p.OnFrame(idx, p.traj.Time[idx])
		}

		p.mu.Lock()
		// Seek may have moved the cursor while the frame was in flight.
		if p.index == idx {
			p.index = idx + 1
		}
		p.mu.Unlock()

		sleep := time.Duration(float64(interval)/speed) - time.Since(frameStart)
		if sleep > 0 {
			select {
			case <-stopCh:
				return
			case <-time.After(sleep):
			}
		}
	}
}

// connect dials the configured backend. With auto selection the XPC
// plugin is tried first, falling back to the native UDP protocol.
func (p *Player) connect(ctx context.Context) (xplane.Backend, error) {
	conn := p.cfg.Connection
	timeout := conn.Timeout()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "Playback/Connect",
		trace.WithAttributes(
			attribute.String("sim.host", conn.Host),
			attribute.String("sim.backend", conn.Backend),
		))
	defer span.End()

	tryXPC := func() xplane.Backend {
		b := xplane.NewXPCBackend(p.log)
		if b.Connect(conn.Host, conn.Port, timeout) {
			return b
		}
		return nil
	}
	tryNative := func() xplane.Backend {
		b := xplane.NewUDPBackend(p.log)
		if b.Connect(conn.Host, conn.NativePort, timeout) {
			return b
		}
		return nil
	}

	switch conn.Backend {
	case BackendXPC:
		if b := tryXPC(); b != nil {
			return b, nil
		}
		err := fmt.Errorf("connect xpc backend at %s:%d", conn.Host, conn.Port)
		span.RecordError(err)
		return nil, err
	case BackendNative:
		if b := tryNative(); b != nil {
			return b, nil
		}
		err := fmt.Errorf("connect native backend at %s:%d", conn.Host, conn.NativePort)
		span.RecordError(err)
		return nil, err
	default:
		if b := tryXPC(); b != nil {
			p.log.Info(ctx, "using xpc backend")
			return b, nil
		}
		p.log.Info(ctx, "xpc plugin unreachable, falling back to native protocol")
		if b := tryNative(); b != nil {
			return b, nil
		}
		err := fmt.Errorf("connect to simulator at %s", conn.Host)
		span.RecordError(err)
		return nil, err
	}
}

// setOrigin anchors the NED frame once per player, so stopping and
// replaying keeps the trajectory in place. Auto-detection reads the
// aircraft's current position; when that fails playback continues from a
// zero origin with a warning.
func (p *Player) setOrigin(ctx context.Context) {
	if p.originSet {
		return
	}
	p.originSet = true

	ctx, span := otel.Tracer(tracerName).Start(ctx, "Playback/SetOrigin")
	defer span.End()

	o := p.cfg.Origin
	if !o.AutoDetect {
		span.SetAttributes(attribute.String("origin.source", "config"))
		p.conv.SetOrigin(o.Latitude, o.Longitude, o.Altitude)
		return
	}
	state, ok := p.backend.GetPose()
	if !ok {
		span.SetAttributes(attribute.String("origin.source", "fallback"))
		p.log.Warn(ctx, "origin auto-detect failed, using (0, 0, 0)")
		p.conv.SetOrigin(0, 0, 0)
		return
	}
	span.SetAttributes(
		attribute.String("origin.source", "aircraft"),
		attribute.Float64("origin.lat", state.Latitude),
		attribute.Float64("origin.lon", state.Longitude),
	)
	p.conv.SetOrigin(state.Latitude, state.Longitude, state.Altitude)
	p.log.Info(ctx, "origin set from aircraft position",
		logging.Float64("lat", state.Latitude),
		logging.Float64("lon", state.Longitude),
		logging.Float64("alt", state.Altitude))
}

func clampSpeed(speed float64) float64 {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}
