package xplane

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/signalsfoundry/xplane-replay/geo"
	"github.com/signalsfoundry/xplane-replay/internal/logging"
	"github.com/signalsfoundry/xplane-replay/xpc"
)

// minArrayLen is the smallest array written to an array dataref. X-Plane's
// engine arrays expect at least eight slots.
const minArrayLen = 8

// arraySubscript matches "base[idx]" channel identifiers.
var arraySubscript = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// xpcConn is the slice of the XPlaneConnect client this backend uses,
// narrowed for testability.
type xpcConn interface {
	SendPOSI(values []float64, aircraft int) error
	SendDREF(dref string, values []float32) error
	SendDREFs(drefs []string, values [][]float32) error
	GetPOSI(aircraft int) ([7]float64, error)
	GetDREF(dref string) ([]float32, error)
	Close() error
}

// XPCBackend drives X-Plane through the XPlaneConnect plugin client. Its
// only job is parameter marshaling; all protocol work lives in the xpc
// package.
type XPCBackend struct {
	log    logging.Logger
	client xpcConn
}

// NewXPCBackend builds an XPlaneConnect-backed transport. A nil logger
// drops all logs.
func NewXPCBackend(log logging.Logger) *XPCBackend {
	if log == nil {
		log = logging.Noop()
	}
	return &XPCBackend{log: log}
}

// Name implements Backend.
func (b *XPCBackend) Name() string { return "xpc" }

// Connect dials the XPC plugin.
func (b *XPCBackend) Connect(host string, port int, timeout time.Duration) bool {
	client, err := xpc.Dial(host, port, timeout)
	if err != nil {
		b.log.Error(context.Background(), "xpc connect failed",
			logging.String("host", host), logging.String("error", err.Error()))
		return false
	}
	b.client = client
	return true
}

// Disconnect closes the plugin connection.
func (b *XPCBackend) Disconnect() {
	if b.client == nil {
		return
	}
	b.client.Close()
	b.client = nil
}

// SendPose sets position and attitude via sendPOSI. XPC orders the
// attitude fields pitch-then-roll.
func (b *XPCBackend) SendPose(lat, lon, alt, roll, pitch, heading, gear float64) {
	if b.client == nil {
		return
	}
	heading = geo.NormalizeHeading(heading)
	posi := []float64{lat, lon, alt, pitch, roll, heading, gear}
	if err := b.client.SendPOSI(posi, 0); err != nil {
		b.log.Debug(context.Background(), "sendPOSI failed",
			logging.String("error", err.Error()))
	}
}

// SendChannels splits identifiers into plain and bracket-indexed forms
// before calling the client. The plugin's dataref lookup does not accept
// bracket notation, so indexed identifiers are grouped by base name, merged
// into one array value per base (length at least eight, or one past the
// highest index; unset slots zero), and written with one array call each.
// Plain identifiers go out together in a single batched call.
func (b *XPCBackend) SendChannels(channels map[string]float64) {
	if b.client == nil {
		return
	}

	scalars := make(map[string]float64)
	arrays := make(map[string]map[int]float64)

	for dref, value := range channels {
		base, idx, ok := splitSubscript(dref)
		if !ok {
			scalars[dref] = value
			continue
		}
		if arrays[base] == nil {
			arrays[base] = make(map[int]float64)
		}
		arrays[base][idx] = value
	}

	if len(scalars) > 0 {
		names := make([]string, 0, len(scalars))
		for name := range scalars {
			names = append(names, name)
		}
		sort.Strings(names)
		values := make([][]float32, len(names))
		for i, name := range names {
			values[i] = []float32{float32(scalars[name])}
		}
		if err := b.client.SendDREFs(names, values); err != nil {
			b.log.Debug(context.Background(), "sendDREFs failed",
				logging.String("error", err.Error()))
		}
	}

	for base, slots := range arrays {
		maxIdx := 0
		for idx := range slots {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		size := maxIdx + 1
		if size < minArrayLen {
			size = minArrayLen
		}
		values := make([]float32, size)
		for idx, v := range slots {
			values[idx] = float32(v)
		}
		if err := b.client.SendDREF(base, values); err != nil {
			b.log.Debug(context.Background(), "array sendDREF failed",
				logging.String("dataref", base), logging.String("error", err.Error()))
		}
	}
}

// GetPose reads position and attitude via getPOSI.
func (b *XPCBackend) GetPose() (AircraftState, bool) {
	if b.client == nil {
		return AircraftState{}, false
	}
	posi, err := b.client.GetPOSI(0)
	if err != nil {
		return AircraftState{}, false
	}
	return AircraftState{
		Latitude:  posi[0],
		Longitude: posi[1],
		Altitude:  posi[2],
		Pitch:     posi[3],
		Roll:      posi[4],
		Heading:   posi[5],
		Gear:      posi[6],
	}, true
}

// GetChannel reads a single channel; array reads return the first slot.
func (b *XPCBackend) GetChannel(dref string) (float64, bool) {
	if b.client == nil {
		return 0, false
	}
	base, idx, indexed := splitSubscript(dref)
	name := dref
	if indexed {
		name = base
	}
	row, err := b.client.GetDREF(name)
	if err != nil || len(row) == 0 {
		return 0, false
	}
	if indexed {
		if idx >= len(row) {
			return 0, false
		}
		return float64(row[idx]), true
	}
	return float64(row[0]), true
}

// SetPhysicsOverride writes the planepath override dataref.
func (b *XPCBackend) SetPhysicsOverride(on bool) {
	if b.client == nil {
		return
	}
	v := float32(0)
	if on {
		v = 1
	}
	if err := b.client.SendDREF(PlanePathOverrideDref, []float32{v}); err != nil {
		b.log.Debug(context.Background(), "physics override write failed",
			logging.String("error", err.Error()))
	}
}

func splitSubscript(dref string) (base string, idx int, ok bool) {
	m := arraySubscript.FindStringSubmatch(dref)
	if m == nil {
		return "", 0, false
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], idx, true
}
