package xpc

import (
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"
)

// fakePlugin is a loopback UDP endpoint standing in for the XPC plugin.
type fakePlugin struct {
	conn *net.UDPConn
}

func newFakePlugin(t *testing.T) *fakePlugin {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &fakePlugin{conn: conn}
}

func (p *fakePlugin) port() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

func (p *fakePlugin) recv(t *testing.T) []byte {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := p.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("fake plugin read: %v", err)
	}
	return buf[:n]
}

// respond waits for one datagram and replies with the given payload.
func (p *fakePlugin) respond(t *testing.T, reply []byte) {
	t.Helper()
	go func() {
		p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 4096)
		_, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		p.conn.WriteToUDP(reply, addr)
	}()
}

func dialFake(t *testing.T, p *fakePlugin) *Client {
	t.Helper()
	c, err := Dial("127.0.0.1", p.port(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendPOSIWireFormat(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	if err := c.SendPOSI([]float64{47.5, -122.3, 100.0, 2.5, -1.0, 270.0, 1.0}, 0); err != nil {
		t.Fatalf("SendPOSI: %v", err)
	}

	msg := plugin.recv(t)
	if len(msg) != 46 {
		t.Fatalf("POSI datagram = %d bytes, want 46", len(msg))
	}
	if string(msg[:4]) != "POSI" || msg[4] != 0 {
		t.Fatalf("bad header %q", msg[:5])
	}
	if msg[5] != 0 {
		t.Fatalf("aircraft = %d, want 0", msg[5])
	}
	if lat := math.Float64frombits(binary.LittleEndian.Uint64(msg[6:])); lat != 47.5 {
		t.Fatalf("lat = %v, want 47.5", lat)
	}
	if alt := math.Float64frombits(binary.LittleEndian.Uint64(msg[22:])); alt != 100.0 {
		t.Fatalf("alt = %v, want 100", alt)
	}
	if hdg := math.Float32frombits(binary.LittleEndian.Uint32(msg[38:])); hdg != 270.0 {
		t.Fatalf("heading = %v, want 270", hdg)
	}
}

func TestSendPOSIPadsUnsetFields(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	if err := c.SendPOSI([]float64{1, 2, 3}, 0); err != nil {
		t.Fatalf("SendPOSI: %v", err)
	}

	msg := plugin.recv(t)
	if gear := math.Float32frombits(binary.LittleEndian.Uint32(msg[42:])); gear != Unset {
		t.Fatalf("gear = %v, want %d sentinel", gear, Unset)
	}
}

func TestSendPOSIRejectsBadValueCount(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	if err := c.SendPOSI(nil, 0); err == nil {
		t.Fatalf("SendPOSI accepted empty values")
	}
	if err := c.SendPOSI(make([]float64, 8), 0); err == nil {
		t.Fatalf("SendPOSI accepted 8 values")
	}
}

func TestSendDREFsWireFormat(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	err := c.SendDREFs(
		[]string{"sim/a", "sim/bc"},
		[][]float32{{1.5}, {2, 3}},
	)
	if err != nil {
		t.Fatalf("SendDREFs: %v", err)
	}

	msg := plugin.recv(t)
	if string(msg[:4]) != "DREF" || msg[4] != 0 {
		t.Fatalf("bad header %q", msg[:5])
	}
	off := 5
	if int(msg[off]) != len("sim/a") {
		t.Fatalf("first name length = %d", msg[off])
	}
	off++
	if string(msg[off:off+5]) != "sim/a" {
		t.Fatalf("first name = %q", msg[off:off+5])
	}
	off += 5
	if msg[off] != 1 {
		t.Fatalf("first value count = %d, want 1", msg[off])
	}
	off++
	if v := math.Float32frombits(binary.LittleEndian.Uint32(msg[off:])); v != 1.5 {
		t.Fatalf("first value = %v, want 1.5", v)
	}
	off += 4
	if int(msg[off]) != len("sim/bc") || msg[off+7] != 2 {
		t.Fatalf("second entry malformed")
	}
}

func TestGetDREFsParsesResponse(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	// RESP + pad + 2 rows: [42.0], [1.0, 2.0, 3.0]
	reply := []byte{'R', 'E', 'S', 'P', 0, 2, 1}
	reply = binary.LittleEndian.AppendUint32(reply, math.Float32bits(42))
	reply = append(reply, 3)
	for _, v := range []float32{1, 2, 3} {
		reply = binary.LittleEndian.AppendUint32(reply, math.Float32bits(v))
	}
	plugin.respond(t, reply)

	rows, err := c.GetDREFs([]string{"sim/one", "sim/arr"})
	if err != nil {
		t.Fatalf("GetDREFs: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != 42 || len(rows[1]) != 3 || rows[1][2] != 3 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestGetDREFTimesOut(t *testing.T) {
	plugin := newFakePlugin(t)
	c, err := Dial("127.0.0.1", plugin.port(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.GetDREF("sim/never"); err == nil {
		t.Fatalf("GetDREF returned without a response")
	}
}

func TestGetPOSIParsesResponse(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	reply := []byte{'P', 'O', 'S', 'I', 0, 0}
	for _, v := range []float64{47.5, -122.3, 88.0} {
		reply = binary.LittleEndian.AppendUint64(reply, math.Float64bits(v))
	}
	for _, v := range []float32{1.5, -2.5, 180.0, 1.0} {
		reply = binary.LittleEndian.AppendUint32(reply, math.Float32bits(v))
	}
	plugin.respond(t, reply)

	posi, err := c.GetPOSI(0)
	if err != nil {
		t.Fatalf("GetPOSI: %v", err)
	}
	if posi[0] != 47.5 || posi[2] != 88.0 {
		t.Fatalf("position = %v", posi)
	}
	if posi[5] != 180.0 || posi[6] != 1.0 {
		t.Fatalf("attitude/gear = %v", posi)
	}
}

func TestPauseSim(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	if err := c.PauseSim(true); err != nil {
		t.Fatalf("PauseSim: %v", err)
	}
	msg := plugin.recv(t)
	if string(msg[:4]) != "SIMU" || msg[5] != 1 {
		t.Fatalf("SIMU datagram = %v", msg)
	}
}

func TestSendTEXTWireFormat(t *testing.T) {
	plugin := newFakePlugin(t)
	c := dialFake(t, plugin)

	if err := c.SendTEXT("hello", -1, -1); err != nil {
		t.Fatalf("SendTEXT: %v", err)
	}
	msg := plugin.recv(t)
	if string(msg[:4]) != "TEXT" {
		t.Fatalf("bad header %q", msg[:4])
	}
	if x := int32(binary.LittleEndian.Uint32(msg[5:])); x != -1 {
		t.Fatalf("x = %d, want -1", x)
	}
	if msg[13] != 5 || string(msg[14:19]) != "hello" {
		t.Fatalf("text payload = %v", msg[13:])
	}
}
