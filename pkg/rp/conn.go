package rp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status is the outcome of a ReadFrame call.
type Status int

const (
	// StatusNoSocket means not connected. A state, not an error.
	StatusNoSocket Status = iota
	// StatusNoData means nothing available yet; expected in poll mode.
	StatusNoData
	// StatusTimeout means the deadline elapsed with no full frame.
	StatusTimeout
	// StatusClosed means the peer closed the connection.
	StatusClosed
	// StatusParseError means resync attempts were exhausted; non-fatal,
	// the next tick retries on accumulated bytes.
	StatusParseError
	// StatusOsError means a transport-level failure.
	StatusOsError
	// StatusOk means one frame was decoded and consumed.
	StatusOk
)

var statusNames = map[Status]string{
	StatusNoSocket:   "no_socket",
	StatusNoData:     "no_data",
	StatusTimeout:    "timeout",
	StatusClosed:     "closed",
	StatusParseError: "parse_error",
	StatusOsError:    "os_error",
	StatusOk:         "ok",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Fatal reports whether the status means the connection should be torn
// down. Everything else is recoverable by retrying next tick.
func (s Status) Fatal() bool {
	return s == StatusClosed || s == StatusOsError
}

const (
	// pollInterval bounds each socket read in non-blocking (poll) mode.
	pollInterval = time.Millisecond
	// initSettle is the pause between the two legacy init commands; the
	// server needs it to not mix the command words.
	initSettle = 50 * time.Millisecond
	// rxbufCapFrames / rxbufKeepFrames bound buffer growth in poll mode
	// when the stream desynchronizes and backs up.
	rxbufCapFrames  = 4
	rxbufKeepFrames = 2
)

// Conn owns the TCP socket, the receive buffer, and the byte-alignment
// resynchronization state for one device connection. It is safe for use
// from multiple goroutines, but the intended model is a single
// acquisition loop calling ReadFrame once per tick.
type Conn struct {
	mu         sync.Mutex
	conn       net.Conn
	rxbuf      []byte
	warned     bool
	variant    Variant
	capLine    string
	hasCapLine bool
	lastStatus Status
	logf       func(string)
}

// NewConn returns a disconnected Conn.
func NewConn() *Conn {
	return &Conn{variant: VariantPhasemeter, lastStatus: StatusNoSocket}
}

// SetLogFunc installs a hook for one-shot diagnostics (desync warnings).
// Pass nil to silence them.
func (c *Conn) SetLogFunc(fn func(string)) {
	c.mu.Lock()
	c.logf = fn
	c.mu.Unlock()
}

// IsConnected reports whether a connection is currently open.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Variant returns the server capability learned during connect (or
// overridden via SetVariant). Defaults to phasemeter.
func (c *Conn) Variant() Variant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.variant
}

// SetVariant overrides the detected server variant, e.g. after heuristic
// mode inference. Unknown values are ignored.
func (c *Conn) SetVariant(v Variant) {
	if v != VariantPhasemeter && v != VariantLaserLock {
		return
	}
	c.mu.Lock()
	c.variant = v
	c.mu.Unlock()
}

// CapabilityLine returns the raw handshake line (without the newline) and
// whether one was received at all.
func (c *Conn) CapabilityLine() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capLine, c.hasCapLine
}

// LastStatus returns the status of the most recent ReadFrame.
func (c *Conn) LastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// Connect dials the device, reads the capability handshake, and sends the
// two legacy init commands that start the frame stream. Any previous
// connection is closed first.
func (c *Conn) Connect(host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	variant := VariantPhasemeter
	capLine, hasCapLine := readCapabilityLine(nc)
	if hasCapLine {
		if suffix, ok := strings.CutPrefix(capLine, CapPrefix); ok {
			if v, known := ParseVariant(suffix); known {
				variant = v
			}
		}
	}

	// Legacy init: reset release, then a write of 1 to register 0. The
	// settle delay keeps the server from merging the two words.
	nc.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := nc.Write(PackReset(true)); err != nil {
		nc.Close()
		return fmt.Errorf("init command 1: %w", err)
	}
	time.Sleep(initSettle)
	initWord := []byte{0x01, 0x00, 0x00, 0x00}
	if _, err := nc.Write(initWord); err != nil {
		nc.Close()
		return fmt.Errorf("init command 2: %w", err)
	}
	time.Sleep(initSettle)
	nc.SetWriteDeadline(time.Time{})

	c.mu.Lock()
	old := c.conn
	c.conn = nc
	c.rxbuf = c.rxbuf[:0]
	c.warned = false
	c.variant = variant
	c.capLine = capLine
	c.hasCapLine = hasCapLine
	c.lastStatus = StatusNoData
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// readCapabilityLine reads one newline-terminated line of at most
// capLineMax bytes within one second. Absence is not an error: older
// servers start streaming frames immediately.
func readCapabilityLine(nc net.Conn) (string, bool) {
	nc.SetReadDeadline(time.Now().Add(time.Second))
	defer nc.SetReadDeadline(time.Time{})

	line := make([]byte, 0, capLineMax)
	one := make([]byte, 1)
	for len(line) < capLineMax {
		n, err := nc.Read(one)
		if err != nil || n == 0 {
			return "", false
		}
		if one[0] == '\n' {
			return string(line), true
		}
		line = append(line, one[0])
	}
	return "", false
}

// Disconnect closes the socket and clears all buffering. Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	nc := c.conn
	c.conn = nil
	c.rxbuf = nil
	c.warned = false
	c.variant = VariantPhasemeter
	c.capLine = ""
	c.hasCapLine = false
	c.lastStatus = StatusNoSocket
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
}

// Write sends an encoded command payload (register write or reset) to the
// device. Fire-and-forget: the server never acknowledges.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil {
		return 0, errors.New("not connected")
	}
	nc.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return nc.Write(p)
}

// ReadFrame reads one full frame from the stream.
//
// With timeout > 0 it accumulates bytes until at least one frame is
// buffered or the deadline elapses. With timeout == 0 it drains whatever
// is currently available without waiting, capping buffer growth at
// rxbufCapFrames frames (keeping the newest rxbufKeepFrames).
//
// Frame alignment: the stream carries no delimiter, so a decoded frame
// that fails the corruption check means the byte alignment drifted. The
// recovery is brute force: discard one byte, decode again, bounded at
// FrameSizeBytes shifts before giving up with StatusParseError. The first
// discard per desync episode emits one diagnostic through the log hook,
// never repeated until reconnect. suppressWarn silences it, for callers
// that deliberately flush frames right after reconnect.
func (c *Conn) ReadFrame(timeout time.Duration, suppressWarn bool) ([]float64, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.lastStatus = StatusNoSocket
		return nil, StatusNoSocket
	}

	raw, st := c.readFrameLocked(timeout, suppressWarn)
	c.lastStatus = st
	return raw, st
}

func (c *Conn) readFrameLocked(timeout time.Duration, suppressWarn bool) ([]float64, Status) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	} else {
		if st := c.drainLocked(); st != StatusOk {
			return nil, st
		}
	}

	for discarded := 0; discarded <= FrameSizeBytes; discarded++ {
		if timeout > 0 {
			if st := c.fillLocked(deadline); st != StatusOk {
				return nil, st
			}
		}
		if len(c.rxbuf) < FrameSizeBytes {
			return nil, StatusNoData
		}

		raw := DecodeFrame(c.rxbuf[:FrameSizeBytes])
		corrupted, negBins, fftMax := CheckFrameCorruption(raw)
		if corrupted {
			if discarded == 0 && !suppressWarn {
				c.warnOnceLocked(fmt.Sprintf(
					"frame desynchronized (neg_bins=%d, fft_max=%.2e); realigning",
					negBins, fftMax))
			}
			c.consumeLocked(1)
			continue
		}

		c.consumeLocked(FrameSizeBytes)
		return raw, StatusOk
	}
	return nil, StatusParseError
}

// fillLocked accumulates bytes until a full frame is buffered or deadline.
func (c *Conn) fillLocked(deadline time.Time) Status {
	buf := make([]byte, FrameSizeBytes)
	for len(c.rxbuf) < FrameSizeBytes {
		c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf[:FrameSizeBytes-len(c.rxbuf)])
		if n > 0 {
			c.rxbuf = append(c.rxbuf, buf[:n]...)
		}
		if err != nil {
			return classifyReadError(err)
		}
	}
	return StatusOk
}

// drainLocked reads whatever the kernel already buffered, without waiting
// for more, and bounds rxbuf growth.
func (c *Conn) drainLocked() Status {
	buf := make([]byte, 64*1024)
	for {
		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.rxbuf = append(c.rxbuf, buf[:n]...)
			if len(c.rxbuf) > FrameSizeBytes*rxbufCapFrames {
				keep := len(c.rxbuf) - FrameSizeBytes*rxbufKeepFrames
				c.consumeLocked(keep)
			}
		}
		if err != nil {
			st := classifyReadError(err)
			if st == StatusTimeout {
				// Nothing more available right now.
				return StatusOk
			}
			return st
		}
	}
}

func (c *Conn) consumeLocked(n int) {
	if n >= len(c.rxbuf) {
		c.rxbuf = c.rxbuf[:0]
		return
	}
	c.rxbuf = append(c.rxbuf[:0], c.rxbuf[n:]...)
}

func (c *Conn) warnOnceLocked(msg string) {
	if c.warned {
		return
	}
	c.warned = true
	if c.logf != nil {
		c.logf(msg)
	}
}

func classifyReadError(err error) Status {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return StatusTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return StatusClosed
	}
	return StatusOsError
}
