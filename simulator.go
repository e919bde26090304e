package main

import (
	"log"
	"math"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rpll/pkg/rp"
)

// Simulator is a stand-in device server: it accepts TCP connections,
// optionally announces a capability line, streams wire-format frames at
// the real frame rate, and captures every inbound command for inspection.
type Simulator struct {
	ln      net.Listener
	variant rp.Variant
	capLine bool

	mu       sync.Mutex
	commands [][]byte
	closed   bool
}

// StartSimulator listens on addr ("127.0.0.1:0" for an ephemeral port).
// With capLine false the simulator behaves like an old server that starts
// streaming without a handshake.
func StartSimulator(addr string, variant rp.Variant, capLine bool) (*Simulator, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Simulator{ln: ln, variant: variant, capLine: capLine}
	go s.serve()
	return s, nil
}

func (s *Simulator) Addr() string { return s.ln.Addr().String() }

// Port returns the listening TCP port.
func (s *Simulator) Port() int {
	_, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// Commands returns copies of all command payloads received so far, in
// arrival order.
func (s *Simulator) Commands() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.commands))
	for i, c := range s.commands {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// Close stops accepting and shuts the listener down.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ln.Close()
}

func (s *Simulator) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Printf("[SIM] accept: %v", err)
			}
			return
		}
		go s.handle(conn)
	}
}

func (s *Simulator) handle(conn net.Conn) {
	defer conn.Close()
	log.Printf("[SIM] client %s connected", conn.RemoteAddr())

	if s.capLine {
		conn.Write([]byte(rp.CapPrefix + string(s.variant) + "\n"))
	}

	// Capture inbound commands on the side; the real server consumes them
	// the same way, a byte stream of 4-byte words.
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.commands = append(s.commands, append([]byte(nil), buf[:n]...))
			s.mu.Unlock()
		}
	}()

	interval := time.Duration(float64(time.Second) / rp.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cnt float64
	for range ticker.C {
		cnt++
		if _, err := conn.Write(s.buildFrame(cnt)); err != nil {
			log.Printf("[SIM] client %s gone", conn.RemoteAddr())
			return
		}
	}
}

// buildFrame synthesizes one plausible frame: a noise-floor spectrum with
// one strong peak per channel at the beatnote bin, readouts near the
// peaks, and tail values matching the simulated variant.
func (s *Simulator) buildFrame(cnt float64) []byte {
	const (
		beat1 = 10e6
		beat2 = 11e6
	)
	binHz := rp.SampleRate / (2 * (rp.FFTSize - 1))

	raw := make([]float64, rp.FrameSizeDoubles)
	raw[rp.IdxCounter] = cnt
	for ch, start := range [2]int{rp.IdxFFTChan1, rp.IdxFFTChan2} {
		for i := 0; i < rp.FFTSize; i++ {
			raw[start+i] = 1e-6 * rand.Float64()
		}
		beat := beat1
		if ch == 1 {
			beat = beat2
		}
		raw[start+int(math.Round(beat/binHz))] = 1.0
	}

	raw[rp.IdxPIR0] = beat1
	raw[rp.IdxPIR1] = beat2
	raw[rp.IdxI0] = 0.5
	raw[rp.IdxI1] = 0.5
	raw[rp.IdxBeatFreq0] = beat1
	raw[rp.IdxBeatFreq1] = beat2

	if s.variant == rp.VariantPhasemeter {
		raw[rp.IdxFreqErr0] = raw[rp.IdxPIR0]
		raw[rp.IdxFreqErr1] = raw[rp.IdxPIR1]
	} else {
		raw[rp.IdxFreqErr0] = 1e-7
		raw[rp.IdxFreqErr1] = 1e-7
		raw[rp.IdxPiezo0] = 0.1
		raw[rp.IdxPiezo1] = 0.1
		raw[rp.IdxTemp0] = 0.05
		raw[rp.IdxTemp1] = 0.05
	}
	return rp.EncodeFrame(raw)
}
