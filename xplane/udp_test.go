package xplane

import (
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"
)

// fakeSim is a loopback UDP endpoint standing in for X-Plane.
type fakeSim struct {
	conn *net.UDPConn
}

func newFakeSim(t *testing.T) *fakeSim {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &fakeSim{conn: conn}
}

func (s *fakeSim) port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *fakeSim) recv(t *testing.T) []byte {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("fake sim read: %v", err)
	}
	return buf[:n]
}

func connectedUDPBackend(t *testing.T, sim *fakeSim) *UDPBackend {
	t.Helper()
	b := NewUDPBackend(nil)
	if !b.Connect("127.0.0.1", sim.port(), time.Second) {
		t.Fatalf("Connect failed")
	}
	t.Cleanup(b.Disconnect)
	return b
}

func TestSendPoseVEHXLayout(t *testing.T) {
	sim := newFakeSim(t)
	b := connectedUDPBackend(t, sim)

	b.SendPose(47.5, -122.3, 150.0, -3.0, 2.0, 95.0, Unset)

	msg := sim.recv(t)
	if len(msg) != 45 {
		t.Fatalf("VEHX datagram = %d bytes, want 45", len(msg))
	}
	if string(msg[:4]) != "VEHX" || msg[4] != 0 {
		t.Fatalf("bad header %q", msg[:5])
	}
	if idx := int32(binary.LittleEndian.Uint32(msg[5:])); idx != 0 {
		t.Fatalf("aircraft index = %d, want 0", idx)
	}
	if lat := math.Float64frombits(binary.LittleEndian.Uint64(msg[9:])); lat != 47.5 {
		t.Fatalf("lat = %v, want 47.5", lat)
	}
	if lon := math.Float64frombits(binary.LittleEndian.Uint64(msg[17:])); lon != -122.3 {
		t.Fatalf("lon = %v, want -122.3", lon)
	}
	if alt := math.Float64frombits(binary.LittleEndian.Uint64(msg[25:])); alt != 150.0 {
		t.Fatalf("alt = %v, want 150", alt)
	}
	// Orientation order on the wire is heading, pitch, roll.
	if hdg := math.Float32frombits(binary.LittleEndian.Uint32(msg[33:])); hdg != 95.0 {
		t.Fatalf("heading = %v, want 95", hdg)
	}
	if pitch := math.Float32frombits(binary.LittleEndian.Uint32(msg[37:])); pitch != 2.0 {
		t.Fatalf("pitch = %v, want 2", pitch)
	}
	if roll := math.Float32frombits(binary.LittleEndian.Uint32(msg[41:])); roll != -3.0 {
		t.Fatalf("roll = %v, want -3", roll)
	}
}

func TestSendPoseNormalizesHeading(t *testing.T) {
	sim := newFakeSim(t)
	b := connectedUDPBackend(t, sim)

	b.SendPose(0, 0, 0, 0, 0, -90.0, Unset)

	msg := sim.recv(t)
	if hdg := math.Float32frombits(binary.LittleEndian.Uint32(msg[33:])); hdg != 270.0 {
		t.Fatalf("heading = %v, want 270", hdg)
	}
}

func TestSendChannelsDREFLayout(t *testing.T) {
	sim := newFakeSim(t)
	b := connectedUDPBackend(t, sim)

	b.SendChannels(map[string]float64{"sim/flightmodel/controls/vstab1_rud1def": 4.5})

	msg := sim.recv(t)
	if len(msg) != 508 {
		t.Fatalf("DREF datagram = %d bytes, want 508", len(msg))
	}
	if string(msg[:4]) != "DREF" {
		t.Fatalf("bad header %q", msg[:4])
	}
	if v := math.Float32frombits(binary.LittleEndian.Uint32(msg[4:])); v != 4.5 {
		t.Fatalf("value = %v, want 4.5", v)
	}
	path := msg[8:]
	want := "sim/flightmodel/controls/vstab1_rud1def"
	if string(path[:len(want)]) != want {
		t.Fatalf("path = %q", path[:len(want)])
	}
	for _, c := range path[len(want):] {
		if c != 0 {
			t.Fatalf("path not null padded")
		}
	}
}

func TestSendChannelsKeepsBracketPathsOpaque(t *testing.T) {
	sim := newFakeSim(t)
	b := connectedUDPBackend(t, sim)

	b.SendChannels(map[string]float64{"sim/flightmodel/engine/ENGN_N1_[1]": 55.0})

	msg := sim.recv(t)
	want := "sim/flightmodel/engine/ENGN_N1_[1]"
	if string(msg[8:8+len(want)]) != want {
		t.Fatalf("bracketed path rewritten: %q", msg[8:8+len(want)])
	}
}

func TestGetChannelRREFRoundTrip(t *testing.T) {
	sim := newFakeSim(t)
	b := connectedUDPBackend(t, sim)

	type result struct {
		value float64
		ok    bool
	}
	done := make(chan result, 1)
	go func() {
		v, ok := b.GetChannel("sim/flightmodel/position/latitude")
		done <- result{v, ok}
	}()

	// Expect the subscription request.
	req, addr := recvFrom(t, sim)
	if len(req) != 413 {
		t.Fatalf("RREF request = %d bytes, want 413", len(req))
	}
	if string(req[:4]) != "RREF" || req[4] != 0 {
		t.Fatalf("bad header %q", req[:5])
	}
	if freq := int32(binary.LittleEndian.Uint32(req[5:])); freq != 1 {
		t.Fatalf("frequency = %d, want 1", freq)
	}
	id := binary.LittleEndian.Uint32(req[9:])
	wantPath := "sim/flightmodel/position/latitude"
	if string(req[13:13+len(wantPath)]) != wantPath {
		t.Fatalf("path = %q", req[13:13+len(wantPath)])
	}

	// Reply with a single (id, value) pair.
	reply := []byte("RREF,")
	reply = binary.LittleEndian.AppendUint32(reply, id)
	reply = binary.LittleEndian.AppendUint32(reply, math.Float32bits(47.25))
	if _, err := sim.conn.WriteToUDP(reply, addr); err != nil {
		t.Fatalf("reply: %v", err)
	}

	got := <-done
	if !got.ok || got.value != 47.25 {
		t.Fatalf("GetChannel = (%v, %v), want (47.25, true)", got.value, got.ok)
	}

	// The subscription is cancelled with a zero-frequency request.
	cancel := sim.recv(t)
	if freq := int32(binary.LittleEndian.Uint32(cancel[5:])); freq != 0 {
		t.Fatalf("cancel frequency = %d, want 0", freq)
	}
}

func TestGetChannelTimesOut(t *testing.T) {
	sim := newFakeSim(t)
	b := NewUDPBackend(nil)
	if !b.Connect("127.0.0.1", sim.port(), 50*time.Millisecond) {
		t.Fatalf("Connect failed")
	}
	defer b.Disconnect()

	if _, ok := b.GetChannel("sim/never/answered"); ok {
		t.Fatalf("GetChannel reported a value without a response")
	}
}

func TestSetPhysicsOverrideWritesDref(t *testing.T) {
	sim := newFakeSim(t)
	b := connectedUDPBackend(t, sim)

	b.SetPhysicsOverride(true)

	msg := sim.recv(t)
	if v := math.Float32frombits(binary.LittleEndian.Uint32(msg[4:])); v != 1 {
		t.Fatalf("override value = %v, want 1", v)
	}
	if string(msg[8:8+len(PlanePathOverrideDref)]) != PlanePathOverrideDref {
		t.Fatalf("override path = %q", msg[8:8+len(PlanePathOverrideDref)])
	}
}

func TestSendsAreNoOpsWhenDisconnected(t *testing.T) {
	b := NewUDPBackend(nil)

	// Must not panic or block without a connection.
	b.SendPose(0, 0, 0, 0, 0, 0, Unset)
	b.SendChannels(map[string]float64{"sim/x": 1})
	b.SetPhysicsOverride(true)
	if _, ok := b.GetChannel("sim/x"); ok {
		t.Fatalf("GetChannel ok without connection")
	}
	if _, ok := b.GetPose(); ok {
		t.Fatalf("GetPose ok without connection")
	}
}

func recvFrom(t *testing.T, s *fakeSim) ([]byte, *net.UDPAddr) {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("fake sim read: %v", err)
	}
	return buf[:n], addr
}
