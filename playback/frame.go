package playback

import (
	"github.com/signalsfoundry/xplane-replay/geo"
	"github.com/signalsfoundry/xplane-replay/model"
	"github.com/signalsfoundry/xplane-replay/xplane"
)

// frameSender turns one trajectory sample into backend messages: a pose
// update plus up to two channel batches (control surfaces, propulsion).
type frameSender struct {
	backend xplane.Backend
	conv    *geo.NEDConverter
	mapping Mapping
	flags   SendFlags

	// surfaceOverride is set after the control-surface override dataref
	// has been written once for the session.
	surfaceOverride bool
}

func newFrameSender(backend xplane.Backend, conv *geo.NEDConverter, mapping Mapping, flags SendFlags) *frameSender {
	return &frameSender{
		backend: backend,
		conv:    conv,
		mapping: mapping,
		flags:   flags,
	}
}

// sendFrame pushes sample i of the trajectory to the simulator. A pose
// is sent whenever position or attitude is enabled; suppressed halves
// are filled with the backend's unset sentinel so the simulator keeps
// its own values for them.
func (f *frameSender) sendFrame(traj *model.Trajectory, i int) {
	if f.flags.Position || f.flags.Attitude {
		f.sendPose(traj, i)
	}
	if f.flags.Controls {
		f.sendChannels(traj, i, controlChannels, true)
	}
	if f.flags.Propulsion {
		f.sendChannels(traj, i, propulsionChannels, false)
	}
}

func (f *frameSender) sendPose(traj *model.Trajectory, i int) {
	var lat, lon, alt float64 = xplane.Unset, xplane.Unset, xplane.Unset
	var roll, pitch, heading float64 = xplane.Unset, xplane.Unset, xplane.Unset

	if f.flags.Position && i < len(traj.N) && i < len(traj.E) && i < len(traj.D) {
		p := f.conv.NEDToGeo(traj.N[i], traj.E[i], traj.D[i])
		lat, lon, alt = p.Latitude, p.Longitude, p.Altitude
	}
	if f.flags.Attitude && i < len(traj.Phi) && i < len(traj.Theta) && i < len(traj.Psi) {
		roll, pitch, heading = geo.EulerToSim(traj.Phi[i], traj.Theta[i], traj.Psi[i])
	}
	f.backend.SendPose(lat, lon, alt, roll, pitch, heading, xplane.Unset)
}

// sendChannels writes one batch. The surfaces flag marks the control
// surface batch, which carries the one-time override write.
func (f *frameSender) sendChannels(traj *model.Trajectory, i int, channels []string, surfaces bool) {
	values := make(map[string]float64, len(channels))
	for _, name := range channels {
		m, ok := f.mapping.Entry(name)
		if !ok {
			continue
		}
		raw, ok := channelSample(traj, name, i)
		if !ok {
			continue
		}
		dref, v := m.Apply(raw)
		values[dref] = v
	}
	if len(values) == 0 {
		return
	}
	if surfaces {
		f.ensureSurfaceOverride()
	}
	f.backend.SendChannels(values)
}

// ensureSurfaceOverride writes the control-surface override dataref the
// first time a control surface batch goes out, so the simulator's flight
// model stops fighting the injected deflections.
func (f *frameSender) ensureSurfaceOverride() {
	if f.surfaceOverride {
		return
	}
	f.backend.SendChannels(map[string]float64{xplane.ControlSurfaceOverrideDref: 1})
	f.surfaceOverride = true
}

// releaseSurfaceOverride hands the control surfaces back to the flight
// model. Called on stop.
func (f *frameSender) releaseSurfaceOverride() {
	if !f.surfaceOverride {
		return
	}
	f.surfaceOverride = false
	f.backend.SendChannels(map[string]float64{xplane.ControlSurfaceOverrideDref: 0})
}

// channelSample reads the trajectory series backing a channel name.
func channelSample(traj *model.Trajectory, name string, i int) (float64, bool) {
	var s []float64
	switch name {
	case ChannelAileron:
		s = traj.DeltaA
	case ChannelElevator:
		s = traj.DeltaE
	case ChannelRudder:
		s = traj.DeltaR
	case ChannelRPMLeft:
		s = traj.RPMLeft
	case ChannelRPMRight:
		s = traj.RPMRight
	case ChannelTiltLeft:
		s = traj.TiltLeft
	case ChannelTiltRight:
		s = traj.TiltRight
	}
	if i >= len(s) {
		return 0, false
	}
	return s[i], true
}
