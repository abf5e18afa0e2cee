// Package xplane provides transport backends that drive an X-Plane
// simulator over UDP: a native backend speaking X-Plane's built-in datagram
// protocol, and a backend delegating to the XPlaneConnect plugin client.
package xplane

import "time"

// Unset is the sentinel value both backends understand as "leave this
// field unchanged".
const Unset = -998

// Dataref paths shared by both backends.
const (
	// PlanePathOverrideDref takes or releases control of X-Plane's
	// physics for externally-driven position.
	PlanePathOverrideDref = "sim/operation/override/override_planepath"

	// ControlSurfaceOverrideDref stops X-Plane's flight model from
	// overwriting externally-set control surface deflections.
	ControlSurfaceOverrideDref = "sim/operation/override/override_control_surfaces"

	// GearHandleDref is the landing gear handle (0 = up, 1 = down).
	GearHandleDref = "sim/cockpit/switches/gear_handle_status"
)

// AircraftState is a simulator-reported position and attitude snapshot.
// Angles are degrees, altitude metres MSL.
type AircraftState struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Roll      float64
	Pitch     float64
	Heading   float64
	Gear      float64
}

// Backend is the wire-protocol transport to the simulator. Sends are
// fire-and-forget: transient socket failures are swallowed, not returned.
// Reads report ok=false on timeout or error. Connect reports success as a
// boolean; after Disconnect a backend must be re-connected before use.
type Backend interface {
	// Connect establishes the transport to the simulator.
	Connect(host string, port int, timeout time.Duration) bool

	// Disconnect tears down the transport.
	Disconnect()

	// SendPose sets aircraft position and attitude. The heading is
	// normalized into [0, 360) before transmission. Driving the pose
	// externally requires physics override (see SetPhysicsOverride);
	// callers must release it when done.
	SendPose(lat, lon, alt, roll, pitch, heading, gear float64)

	// SendChannels sets one or more named channels in a single logical
	// call. Batching onto the wire is backend-specific.
	SendChannels(channels map[string]float64)

	// GetPose reads back the simulator-reported aircraft state.
	GetPose() (AircraftState, bool)

	// GetChannel reads back a single named channel value.
	GetChannel(dref string) (float64, bool)

	// SetPhysicsOverride takes (true) or releases (false) control of
	// the simulator's automatic physics.
	SetPhysicsOverride(on bool)

	// Name identifies the backend for logs and metrics labels.
	Name() string
}
