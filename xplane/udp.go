package xplane

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/signalsfoundry/xplane-replay/geo"
	"github.com/signalsfoundry/xplane-replay/internal/logging"
)

// DefaultUDPPort is X-Plane's built-in UDP port.
const DefaultUDPPort = 49000

const (
	// drefPathLen is the fixed null-padded path width of a DREF datagram.
	drefPathLen = 500
	// rrefPathLen is the fixed null-padded path width of an RREF request.
	rrefPathLen = 400
)

// Position readback datarefs used by GetPose.
var poseDrefs = [6]string{
	"sim/flightmodel/position/latitude",
	"sim/flightmodel/position/longitude",
	"sim/flightmodel/position/elevation",
	"sim/flightmodel/position/phi",
	"sim/flightmodel/position/theta",
	"sim/flightmodel/position/psi",
}

// UDPBackend speaks X-Plane's native UDP protocol directly: VEHX for pose,
// DREF for channel writes, RREF request/response for channel reads. No
// plugin is required in the simulator.
type UDPBackend struct {
	log     logging.Logger
	conn    *net.UDPConn
	timeout time.Duration
	rrefID  int32
}

// NewUDPBackend builds a native backend. A nil logger drops all logs.
func NewUDPBackend(log logging.Logger) *UDPBackend {
	if log == nil {
		log = logging.Noop()
	}
	return &UDPBackend{log: log}
}

// Name implements Backend.
func (b *UDPBackend) Name() string { return "native" }

// Connect opens the UDP socket. UDP is connectionless, so success means
// only that the local socket exists and the host resolved.
func (b *UDPBackend) Connect(host string, port int, timeout time.Duration) bool {
	if port <= 0 {
		port = DefaultUDPPort
	}
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		b.log.Error(context.Background(), "resolve x-plane address failed",
			logging.String("host", host), logging.String("error", err.Error()))
		return false
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		b.log.Error(context.Background(), "open udp socket failed",
			logging.String("error", err.Error()))
		return false
	}
	b.conn = conn
	b.timeout = timeout
	return true
}

// Disconnect releases physics override and closes the socket.
func (b *UDPBackend) Disconnect() {
	if b.conn == nil {
		return
	}
	b.SetPhysicsOverride(false)
	b.conn.Close()
	b.conn = nil
}

// SendPose transmits a VEHX datagram (45 bytes): "VEHX" + pad + int32
// aircraft index + lat/lon/alt as float64 + heading/pitch/roll as float32,
// all little-endian. VEHX addresses the player aircraft at index 0 and
// implicitly overrides X-Plane's physics for it.
func (b *UDPBackend) SendPose(lat, lon, alt, roll, pitch, heading, gear float64) {
	if b.conn == nil {
		return
	}
	heading = geo.NormalizeHeading(heading)

	var buf bytes.Buffer
	buf.WriteString("VEHX")
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, int32(0))
	binary.Write(&buf, binary.LittleEndian, lat)
	binary.Write(&buf, binary.LittleEndian, lon)
	binary.Write(&buf, binary.LittleEndian, alt)
	binary.Write(&buf, binary.LittleEndian, float32(heading))
	binary.Write(&buf, binary.LittleEndian, float32(pitch))
	binary.Write(&buf, binary.LittleEndian, float32(roll))
	b.send(buf.Bytes())

	if gear != Unset {
		b.sendDref(GearHandleDref, float32(gear))
	}
}

// SendChannels writes each channel as its own DREF datagram. Bracketed
// array paths go on the wire verbatim; X-Plane resolves the index itself.
func (b *UDPBackend) SendChannels(channels map[string]float64) {
	if b.conn == nil {
		return
	}
	for dref, value := range channels {
		b.sendDref(dref, float32(value))
	}
}

// sendDref transmits a DREF datagram (508 bytes): "DREF" + float32 value +
// 500-byte null-padded dataref path.
func (b *UDPBackend) sendDref(dref string, value float32) {
	var buf bytes.Buffer
	buf.WriteString("DREF")
	binary.Write(&buf, binary.LittleEndian, value)
	buf.Write(padPath(dref, drefPathLen))
	b.send(buf.Bytes())
}

// GetPose reads the six position/attitude datarefs individually. Any
// failed read makes the whole pose unavailable.
func (b *UDPBackend) GetPose() (AircraftState, bool) {
	var vals [6]float64
	for i, dref := range poseDrefs {
		v, ok := b.GetChannel(dref)
		if !ok {
			return AircraftState{}, false
		}
		vals[i] = v
	}
	return AircraftState{
		Latitude:  vals[0],
		Longitude: vals[1],
		Altitude:  vals[2],
		Roll:      vals[3],
		Pitch:     vals[4],
		Heading:   vals[5],
		Gear:      1,
	}, true
}

// GetChannel subscribes to a dataref with an RREF request, reads a single
// response within the timeout, and cancels the subscription by re-sending
// the request at frequency zero.
//
// Response parsing assumes one (id, value) pair per datagram; multi-value
// RREF responses are not supported.
func (b *UDPBackend) GetChannel(dref string) (float64, bool) {
	if b.conn == nil {
		return 0, false
	}
	b.rrefID++
	id := b.rrefID

	b.send(rrefRequest(dref, 1, id))
	defer b.send(rrefRequest(dref, 0, id))

	if b.timeout > 0 {
		b.conn.SetReadDeadline(time.Now().Add(b.timeout))
	}
	buf := make([]byte, 1024)
	n, err := b.conn.Read(buf)
	if err != nil {
		return 0, false
	}
	if n < 13 || string(buf[:5]) != "RREF," {
		return 0, false
	}
	gotID := int32(binary.LittleEndian.Uint32(buf[5:]))
	if gotID != id {
		return 0, false
	}
	value := math.Float32frombits(binary.LittleEndian.Uint32(buf[9:]))
	return float64(value), true
}

// SetPhysicsOverride writes the planepath override dataref.
func (b *UDPBackend) SetPhysicsOverride(on bool) {
	if b.conn == nil {
		return
	}
	v := float32(0)
	if on {
		v = 1
	}
	b.sendDref(PlanePathOverrideDref, v)
}

// rrefRequest builds an RREF datagram (413 bytes): "RREF" + pad + int32
// frequency + int32 request id + 400-byte null-padded path.
func rrefRequest(dref string, freq, id int32) []byte {
	var buf bytes.Buffer
	buf.WriteString("RREF")
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, freq)
	binary.Write(&buf, binary.LittleEndian, id)
	buf.Write(padPath(dref, rrefPathLen))
	return buf.Bytes()
}

func padPath(dref string, width int) []byte {
	out := make([]byte, width)
	if len(dref) > width-1 {
		dref = dref[:width-1]
	}
	copy(out, dref)
	return out
}

func (b *UDPBackend) send(msg []byte) {
	if _, err := b.conn.Write(msg); err != nil {
		b.log.Debug(context.Background(), "datagram send failed",
			logging.String("error", err.Error()))
	}
}
