package playback

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Semantic channel names understood by the mapping table. Each maps one
// recorded flight variable onto one simulator dataref.
const (
	ChannelAileron   = "aileron"
	ChannelElevator  = "elevator"
	ChannelRudder    = "rudder"
	ChannelRPMLeft   = "rpm_left"
	ChannelRPMRight  = "rpm_right"
	ChannelTiltLeft  = "tilt_left"
	ChannelTiltRight = "tilt_right"
)

// controlChannels and propulsionChannels partition the semantic channels
// into the two per-frame send batches.
var (
	controlChannels    = []string{ChannelAileron, ChannelElevator, ChannelRudder}
	propulsionChannels = []string{ChannelRPMLeft, ChannelRPMRight, ChannelTiltLeft, ChannelTiltRight}
)

// ChannelMapping translates one semantic channel into a simulator dataref
// write: which dataref, which array slot, and what numeric transform.
// Entries are immutable once the table is built.
type ChannelMapping struct {
	// Dataref is the target identifier. Required.
	Dataref string `yaml:"dataref"`

	// Index addresses a slot of an array dataref; nil means the dataref
	// is scalar.
	Index *int `yaml:"index"`

	// SourceUnit and TargetUnit drive unit conversion; only the
	// radians → degrees pair converts, all other combinations pass the
	// value through.
	SourceUnit string `yaml:"source_unit"`
	TargetUnit string `yaml:"target_unit"`

	// Scale multiplies the value after unit conversion. Zero means 1.
	Scale float64 `yaml:"scale"`

	// ConventionInverted remaps the zero point: value = 90 - value.
	ConventionInverted bool `yaml:"convention_inverted"`

	// Invert flips the sign: value = -value.
	Invert bool `yaml:"invert"`

	// Offset is added last.
	Offset float64 `yaml:"offset"`
}

// Apply runs the transform pipeline over a raw recorded value and returns
// the target identifier and the value to write. The order is fixed: unit
// conversion, scale, convention inversion, sign inversion, offset, then
// identifier construction (appending [index] unless the dataref already
// carries a bracket).
func (m ChannelMapping) Apply(raw float64) (string, float64) {
	v := raw
	if m.SourceUnit == "radians" && m.TargetUnit == "degrees" {
		v = v * 180.0 / math.Pi
	}
	if m.Scale != 0 {
		v *= m.Scale
	}
	if m.ConventionInverted {
		v = 90.0 - v
	}
	if m.Invert {
		v = -v
	}
	v += m.Offset

	dref := m.Dataref
	if m.Index != nil && !strings.Contains(dref, "[") {
		dref = fmt.Sprintf("%s[%d]", dref, *m.Index)
	}
	return dref, v
}

func (m ChannelMapping) validate(channel string) error {
	if m.Dataref == "" {
		return fmt.Errorf("channel %s: dataref is required", channel)
	}
	if m.Index != nil && *m.Index < 0 {
		return fmt.Errorf("channel %s: negative array index %d", channel, *m.Index)
	}
	for _, unit := range []string{m.SourceUnit, m.TargetUnit} {
		switch unit {
		case "", "radians", "degrees":
		default:
			return fmt.Errorf("channel %s: unknown unit %q", channel, unit)
		}
	}
	return nil
}

// Mapping is the immutable table of per-channel transforms.
type Mapping struct {
	entries map[string]ChannelMapping
}

// DefaultMapping returns the built-in table for the reference tilt-rotor
// aircraft. Control surface deflections are recorded in radians and written
// in degrees; RPM is written as percent of a 10000 RPM ceiling; the motor
// tilt datarefs measure from vertical while the recording measures from
// horizontal, hence the convention inversion. The left motor drives engine
// array slot 1 and the right motor slot 0, matching the reference
// aircraft's engine ordering.
func DefaultMapping() Mapping {
	return Mapping{entries: map[string]ChannelMapping{
		ChannelAileron: {
			Dataref:    "sim/flightmodel/controls/wing1l_ail1def",
			SourceUnit: "radians",
			TargetUnit: "degrees",
		},
		ChannelElevator: {
			Dataref:    "sim/flightmodel/controls/hstab1_elv1def",
			SourceUnit: "radians",
			TargetUnit: "degrees",
		},
		ChannelRudder: {
			Dataref:    "sim/flightmodel/controls/vstab1_rud1def",
			SourceUnit: "radians",
			TargetUnit: "degrees",
		},
		ChannelRPMLeft: {
			Dataref: "sim/flightmodel/engine/ENGN_N1_",
			Index:   indexOf(1),
			Scale:   0.01,
		},
		ChannelRPMRight: {
			Dataref: "sim/flightmodel/engine/ENGN_N1_",
			Index:   indexOf(0),
			Scale:   0.01,
		},
		ChannelTiltLeft: {
			Dataref:            "sim/flightmodel/engine/POINT_pitch_deg",
			Index:              indexOf(1),
			SourceUnit:         "radians",
			TargetUnit:         "degrees",
			ConventionInverted: true,
		},
		ChannelTiltRight: {
			Dataref:            "sim/flightmodel/engine/POINT_pitch_deg",
			Index:              indexOf(0),
			SourceUnit:         "radians",
			TargetUnit:         "degrees",
			ConventionInverted: true,
		},
	}}
}

func indexOf(i int) *int { return &i }

// NewMapping builds a table from configuration. Unknown channel names and
// incomplete entries fail fast; channels absent from the configuration are
// simply not driven.
func NewMapping(entries map[string]ChannelMapping) (Mapping, error) {
	known := make(map[string]bool, len(controlChannels)+len(propulsionChannels))
	for _, ch := range controlChannels {
		known[ch] = true
	}
	for _, ch := range propulsionChannels {
		known[ch] = true
	}

	table := make(map[string]ChannelMapping, len(entries))
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !known[name] {
			return Mapping{}, fmt.Errorf("unknown mapping channel %q", name)
		}
		entry := entries[name]
		if err := entry.validate(name); err != nil {
			return Mapping{}, err
		}
		table[name] = entry
	}
	return Mapping{entries: table}, nil
}

// Entry looks up the transform for a semantic channel.
func (m Mapping) Entry(channel string) (ChannelMapping, bool) {
	e, ok := m.entries[channel]
	return e, ok
}

// Len returns the number of configured channels.
func (m Mapping) Len() int { return len(m.entries) }
