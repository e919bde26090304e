package rp

import (
	"bytes"
	"math"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// streamServer accepts one connection and runs fn on it. Returns the
// port to dial.
func streamServer(t *testing.T, fn func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		fn(c)
	}()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// wireFrame builds one encoded frame whose spectral doubles use a byte
// pattern whose rotations all set the IEEE sign bit, so any misaligned
// decode of these bytes is reliably flagged corrupted.
func wireFrame(counter float64) []byte {
	raw := make([]float64, FrameSizeDoubles)
	raw[IdxCounter] = counter
	spectral := math.Float64frombits(0x3FC0C0C0C0C0C0C0)
	for i := IdxFFTChan1; i < IdxFFTChan1+2*FFTSize; i++ {
		raw[i] = spectral
	}
	raw[IdxPIR0] = 10e6
	raw[IdxPIR1] = 11e6
	raw[IdxI0] = 0.5
	raw[IdxI1] = 0.5
	raw[IdxBeatFreq0] = 10e6
	raw[IdxBeatFreq1] = 11e6
	return EncodeFrame(raw)
}

func dialConn(t *testing.T, port int) *Conn {
	t.Helper()
	c := NewConn()
	if err := c.Connect("127.0.0.1", port, 2*time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestReadFrameNoSocket(t *testing.T) {
	c := NewConn()
	if raw, st := c.ReadFrame(time.Second, false); st != StatusNoSocket || raw != nil {
		t.Fatalf("status = %v, want no_socket", st)
	}
}

func TestConnectHandshakeVariant(t *testing.T) {
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:laser_lock\n"))
		// Hold the connection open past the client's init writes.
		buf := make([]byte, 16)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.Read(buf)
		time.Sleep(200 * time.Millisecond)
	})
	c := dialConn(t, port)
	if v := c.Variant(); v != VariantLaserLock {
		t.Errorf("variant = %v, want laser_lock", v)
	}
	if line, ok := c.CapabilityLine(); !ok || line != "RP_CAP:laser_lock" {
		t.Errorf("capability line = %q, %v", line, ok)
	}
}

func TestConnectNoHandshakeDefaultsPhasemeter(t *testing.T) {
	port := streamServer(t, func(conn net.Conn) {
		// Say nothing; the client gives up after its handshake deadline.
		time.Sleep(2 * time.Second)
	})
	c := dialConn(t, port)
	if v := c.Variant(); v != VariantPhasemeter {
		t.Errorf("variant = %v, want phasemeter default", v)
	}
	if _, ok := c.CapabilityLine(); ok {
		t.Error("capability line reported present")
	}
}

func TestConnectSendsInitCommands(t *testing.T) {
	got := make(chan []byte, 1)
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		buf := make([]byte, 8)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n := 0
		for n < 8 {
			m, err := conn.Read(buf[n:])
			if err != nil {
				break
			}
			n += m
		}
		got <- buf[:n]
	})
	dialConn(t, port)

	select {
	case init := <-got:
		want := append(PackReset(true), 0x01, 0x00, 0x00, 0x00)
		if !bytes.Equal(init, want) {
			t.Errorf("init bytes = % x, want % x", init, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received init commands")
	}
}

func TestReadFrameOk(t *testing.T) {
	frame := wireFrame(7)
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		for i := 0; i < 4; i++ {
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	c := dialConn(t, port)

	raw, st := c.ReadFrame(2*time.Second, false)
	if st != StatusOk {
		t.Fatalf("status = %v, want ok", st)
	}
	if raw[IdxCounter] != 7 {
		t.Errorf("counter = %v, want 7", raw[IdxCounter])
	}
	if raw[IdxPIR1] != 11e6 {
		t.Errorf("PIR1 = %v, want 11e6", raw[IdxPIR1])
	}
}

func TestReadFrameTimeout(t *testing.T) {
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		time.Sleep(2 * time.Second)
	})
	c := dialConn(t, port)

	start := time.Now()
	raw, st := c.ReadFrame(150*time.Millisecond, false)
	if st != StatusTimeout || raw != nil {
		t.Fatalf("status = %v, want timeout", st)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout read blocked well past its deadline")
	}
}

func TestReadFrameClosed(t *testing.T) {
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		// Absorb both init words, then close.
		buf := make([]byte, 8)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for n := 0; n < 8; {
			m, err := conn.Read(buf[n:])
			if err != nil {
				break
			}
			n += m
		}
	})
	c := dialConn(t, port)

	var st Status
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, st = c.ReadFrame(200*time.Millisecond, false); st == StatusClosed {
			break
		}
	}
	if st != StatusClosed {
		t.Fatalf("status = %v, want closed", st)
	}
	if !st.Fatal() {
		t.Error("closed not classified fatal")
	}
}

func TestReadFramePollNoData(t *testing.T) {
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		time.Sleep(2 * time.Second)
	})
	c := dialConn(t, port)

	if raw, st := c.ReadFrame(0, false); st != StatusNoData || raw != nil {
		t.Fatalf("status = %v, want no_data", st)
	}
}

func TestReadFramePollDrains(t *testing.T) {
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		for i := 0; i < 3; i++ {
			conn.Write(wireFrame(float64(i)))
		}
		time.Sleep(2 * time.Second)
	})
	c := dialConn(t, port)

	// Give the kernel a moment to deliver everything, then poll.
	var raw []float64
	var st Status
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, st = c.ReadFrame(0, false)
		if st == StatusOk {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if st != StatusOk {
		t.Fatalf("status = %v, want ok", st)
	}
	if raw[IdxCounter] != 0 {
		t.Errorf("counter = %v, want first frame", raw[IdxCounter])
	}
}

func TestResyncBound(t *testing.T) {
	// A stream of 0xBF decodes to a negative double at every alignment,
	// so realignment can never succeed and must stop after one frame
	// width of discards.
	garbage := bytes.Repeat([]byte{0xBF}, 3*FrameSizeBytes)
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		conn.Write(garbage)
		time.Sleep(3 * time.Second)
	})
	c := dialConn(t, port)

	raw, st := c.ReadFrame(5*time.Second, false)
	if st != StatusParseError || raw != nil {
		t.Fatalf("status = %v, want parse_error", st)
	}
}

func TestResyncRecovery(t *testing.T) {
	// A short garbage prefix misaligns the stream; the byte-shift
	// realignment walks past it and lands on the first intact frame.
	const skew = 5
	stream := append(bytes.Repeat([]byte{0xBF}, skew), wireFrame(1)...)
	stream = append(stream, wireFrame(2)...)
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		conn.Write(stream)
		time.Sleep(3 * time.Second)
	})
	c := dialConn(t, port)

	raw, st := c.ReadFrame(5*time.Second, false)
	if st != StatusOk {
		t.Fatalf("status = %v, want ok after realignment", st)
	}
	if raw[IdxCounter] != 1 {
		t.Errorf("counter = %v, want first intact frame", raw[IdxCounter])
	}
}

func TestDesyncWarnsOnce(t *testing.T) {
	const skew = 3
	stream := append(bytes.Repeat([]byte{0xBF}, skew), wireFrame(1)...)
	stream = append(stream, wireFrame(2)...)
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		conn.Write(stream)
		time.Sleep(3 * time.Second)
	})
	c := dialConn(t, port)

	var warns int32
	c.SetLogFunc(func(string) { atomic.AddInt32(&warns, 1) })

	if _, st := c.ReadFrame(5*time.Second, false); st != StatusOk {
		t.Fatalf("status = %v, want ok", st)
	}
	if n := atomic.LoadInt32(&warns); n != 1 {
		t.Fatalf("desync warnings = %d, want exactly 1", n)
	}
}

func TestDesyncWarningSuppressed(t *testing.T) {
	stream := append(bytes.Repeat([]byte{0xBF}, 3), wireFrame(1)...)
	stream = append(stream, wireFrame(2)...)
	port := streamServer(t, func(conn net.Conn) {
		conn.Write([]byte("RP_CAP:phasemeter\n"))
		conn.Write(stream)
		time.Sleep(3 * time.Second)
	})
	c := dialConn(t, port)

	var warns int32
	c.SetLogFunc(func(string) { atomic.AddInt32(&warns, 1) })

	if _, st := c.ReadFrame(5*time.Second, true); st != StatusOk {
		t.Fatalf("status = %v, want ok", st)
	}
	if n := atomic.LoadInt32(&warns); n != 0 {
		t.Fatalf("desync warnings = %d, want 0 when suppressed", n)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	c := NewConn()
	c.Disconnect()
	c.Disconnect()
	if c.IsConnected() {
		t.Error("disconnected conn reports connected")
	}
}
