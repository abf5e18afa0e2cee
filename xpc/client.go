// Package xpc is a client for the NASA XPlaneConnect (XPC) X-Plane plugin.
// It speaks the plugin's UDP protocol: little-endian datagrams with a
// four-byte ASCII opcode, one pad byte, and an opcode-specific payload. The
// plugin listens on port 49009 by default.
package xpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"
)

// Unset is the sentinel XPC uses for "leave this field unchanged".
const Unset = -998

// DefaultPort is the port the XPC plugin listens on.
const DefaultPort = 49009

// Client is a connection to the XPC plugin. It is not safe for concurrent
// use; callers serialise access.
type Client struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// Dial opens a UDP socket to the XPC plugin at host:port. The timeout
// bounds every read of a response datagram.
func Dial(host string, port int, timeout time.Duration) (*Client, error) {
	if port <= 0 {
		port = DefaultPort
	}
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve xpc address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial xpc: %w", err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close releases the socket.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendPOSI sets position and attitude for the given aircraft (0 = player).
// values is [lat, lon, alt, pitch, roll, heading, gear]; shorter slices
// leave the trailing fields unchanged. Latitude, longitude, and altitude go
// on the wire as float64, the rest as float32.
func (c *Client) SendPOSI(values []float64, aircraft int) error {
	if len(values) < 1 || len(values) > 7 {
		return fmt.Errorf("sendPOSI wants 1-7 values, got %d", len(values))
	}

	var buf bytes.Buffer
	writeHeader(&buf, "POSI")
	buf.WriteByte(byte(aircraft))
	for i := 0; i < 7; i++ {
		v := float64(Unset)
		if i < len(values) {
			v = values[i]
		}
		if i < 3 {
			binary.Write(&buf, binary.LittleEndian, v)
		} else {
			binary.Write(&buf, binary.LittleEndian, float32(v))
		}
	}
	return c.send(buf.Bytes())
}

// GetPOSI reads back position and attitude for the given aircraft as
// [lat, lon, alt, pitch, roll, heading, gear].
func (c *Client) GetPOSI(aircraft int) ([7]float64, error) {
	var out [7]float64

	var buf bytes.Buffer
	writeHeader(&buf, "GETP")
	buf.WriteByte(byte(aircraft))
	if err := c.send(buf.Bytes()); err != nil {
		return out, err
	}

	resp, err := c.read()
	if err != nil {
		return out, err
	}
	// "POSI" + pad + aircraft + 3 float64 + 4 float32
	if len(resp) < 6+24+16 || string(resp[:4]) != "POSI" {
		return out, fmt.Errorf("malformed POSI response (%d bytes)", len(resp))
	}
	off := 6
	for i := 0; i < 3; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(resp[off:]))
		off += 8
	}
	for i := 3; i < 7; i++ {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(resp[off:])))
		off += 4
	}
	return out, nil
}

// SendDREF sets a single dataref. A one-element slice sets a scalar
// dataref; longer slices set an array dataref in one write.
func (c *Client) SendDREF(dref string, values []float32) error {
	return c.SendDREFs([]string{dref}, [][]float32{values})
}

// SendDREFs sets multiple datarefs in a single datagram. drefs and values
// must have equal length. Array datarefs must be addressed by base name;
// the plugin does not accept bracketed index notation.
func (c *Client) SendDREFs(drefs []string, values [][]float32) error {
	if len(drefs) != len(values) {
		return fmt.Errorf("sendDREFs: %d drefs but %d value rows", len(drefs), len(values))
	}

	var buf bytes.Buffer
	writeHeader(&buf, "DREF")
	for i, dref := range drefs {
		if len(dref) == 0 || len(dref) > 255 {
			return fmt.Errorf("sendDREFs: dataref name length %d out of range", len(dref))
		}
		if len(values[i]) == 0 || len(values[i]) > 255 {
			return fmt.Errorf("sendDREFs: %q value count %d out of range", dref, len(values[i]))
		}
		buf.WriteByte(byte(len(dref)))
		buf.WriteString(dref)
		buf.WriteByte(byte(len(values[i])))
		binary.Write(&buf, binary.LittleEndian, values[i])
	}
	return c.send(buf.Bytes())
}

// GetDREF reads one dataref; array datarefs come back with one element per
// slot.
func (c *Client) GetDREF(dref string) ([]float32, error) {
	rows, err := c.GetDREFs([]string{dref})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// GetDREFs reads multiple datarefs in a single round trip.
func (c *Client) GetDREFs(drefs []string) ([][]float32, error) {
	if len(drefs) == 0 || len(drefs) > 255 {
		return nil, fmt.Errorf("getDREFs wants 1-255 datarefs, got %d", len(drefs))
	}

	var buf bytes.Buffer
	writeHeader(&buf, "GETD")
	buf.WriteByte(byte(len(drefs)))
	for _, dref := range drefs {
		if len(dref) == 0 || len(dref) > 255 {
			return nil, fmt.Errorf("getDREFs: dataref name length %d out of range", len(dref))
		}
		buf.WriteByte(byte(len(dref)))
		buf.WriteString(dref)
	}
	if err := c.send(buf.Bytes()); err != nil {
		return nil, err
	}

	resp, err := c.read()
	if err != nil {
		return nil, err
	}
	if len(resp) < 6 || string(resp[:4]) != "RESP" {
		return nil, fmt.Errorf("malformed RESP datagram (%d bytes)", len(resp))
	}
	count := int(resp[5])
	if count != len(drefs) {
		return nil, fmt.Errorf("RESP has %d rows, want %d", count, len(drefs))
	}

	rows := make([][]float32, 0, count)
	off := 6
	for i := 0; i < count; i++ {
		if off >= len(resp) {
			return nil, fmt.Errorf("RESP truncated at row %d", i)
		}
		rowLen := int(resp[off])
		off++
		if off+rowLen*4 > len(resp) {
			return nil, fmt.Errorf("RESP truncated at row %d", i)
		}
		row := make([]float32, rowLen)
		for j := 0; j < rowLen; j++ {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(resp[off:]))
			off += 4
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PauseSim pauses or resumes X-Plane's physics.
func (c *Client) PauseSim(pause bool) error {
	var buf bytes.Buffer
	writeHeader(&buf, "SIMU")
	if pause {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return c.send(buf.Bytes())
}

// SendTEXT renders a message on the X-Plane screen at pixel (x, y); -1
// lets the plugin pick a default position. An empty message clears it.
func (c *Client) SendTEXT(msg string, x, y int) error {
	if len(msg) > 255 {
		msg = msg[:255]
	}
	var buf bytes.Buffer
	writeHeader(&buf, "TEXT")
	binary.Write(&buf, binary.LittleEndian, int32(x))
	binary.Write(&buf, binary.LittleEndian, int32(y))
	buf.WriteByte(byte(len(msg)))
	buf.WriteString(msg)
	return c.send(buf.Bytes())
}

func writeHeader(buf *bytes.Buffer, op string) {
	buf.WriteString(op)
	buf.WriteByte(0)
}

func (c *Client) send(msg []byte) error {
	if c.conn == nil {
		return fmt.Errorf("xpc client is closed")
	}
	_, err := c.conn.Write(msg)
	return err
}

func (c *Client) read() ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("xpc client is closed")
	}
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
