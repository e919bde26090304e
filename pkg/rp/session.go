package rp

import (
	"fmt"
	"sync"
	"time"
)

const (
	// Values used by the post-connect flush: the first frames after the
	// init commands routinely straddle the old stream position.
	flushSettle    = 200 * time.Millisecond
	flushFrames    = 3
	flushTimeout   = 300 * time.Millisecond
	firstFrameTrys = 5
	firstFrameWait = 500 * time.Millisecond

	fpsWindow = 2 * time.Second
)

// Session ties a Conn to a Dataset and runs one acquisition step per
// Tick: read, parse, reconcile beatnotes, push history. It also keeps
// frame/parse-error counters and a sliding-window frame rate.
type Session struct {
	mu   sync.Mutex
	conn *Conn
	data *Dataset

	frameCount  int64
	parseErrors int64
	arrivals    []time.Time

	fallbackWarned [2]bool
	logf           func(string)
}

// NewSession returns a Session with a fresh connection and dataset.
func NewSession() *Session {
	return &Session{conn: NewConn(), data: NewDataset()}
}

// SetLogFunc installs a diagnostics hook shared with the connection.
func (s *Session) SetLogFunc(fn func(string)) {
	s.mu.Lock()
	s.logf = fn
	s.mu.Unlock()
	s.conn.SetLogFunc(fn)
}

func (s *Session) logfLocked(format string, args ...interface{}) {
	if s.logf != nil {
		s.logf(fmt.Sprintf(format, args...))
	}
}

// Conn exposes the underlying connection for command writes.
func (s *Session) Conn() *Conn { return s.conn }

// Data exposes the dataset for snapshot and history reads.
func (s *Session) Data() *Dataset { return s.data }

// Connected reports connection liveness.
func (s *Session) Connected() bool { return s.conn.IsConnected() }

// Variant returns the active device variant.
func (s *Session) Variant() Variant { return s.conn.Variant() }

// Connect dials the device and settles the stream: the first few frames
// after the init commands are discarded with warnings suppressed, then up
// to firstFrameTrys blocking reads look for the first clean frame. If the
// handshake was silent, the mode is inferred from that frame's content.
func (s *Session) Connect(host string, port int, timeout time.Duration) error {
	if err := s.conn.Connect(host, port, timeout); err != nil {
		return err
	}

	s.mu.Lock()
	s.frameCount = 0
	s.parseErrors = 0
	s.arrivals = nil
	s.fallbackWarned = [2]bool{}
	s.mu.Unlock()
	s.data.Clear()

	time.Sleep(flushSettle)
	for i := 0; i < flushFrames; i++ {
		s.conn.ReadFrame(flushTimeout, true)
	}

	var raw []float64
	for i := 0; i < firstFrameTrys; i++ {
		var st Status
		raw, st = s.conn.ReadFrame(firstFrameWait, true)
		if st == StatusOk {
			break
		}
		if st.Fatal() {
			s.conn.Disconnect()
			return fmt.Errorf("stream failed during connect: %s", st)
		}
	}
	if raw == nil {
		// Connected but not streaming yet; Tick will pick it up.
		return nil
	}

	if s.data.SubstituteRaw(raw) {
		snap := s.data.Snapshot()
		inferred := InferPhasemeter(snap)
		if _, ok := s.conn.CapabilityLine(); !ok {
			if inferred {
				s.conn.SetVariant(VariantPhasemeter)
			} else {
				s.conn.SetVariant(VariantLaserLock)
			}
		} else if inferred != (s.conn.Variant() == VariantPhasemeter) {
			s.mu.Lock()
			s.logfLocked("handshake variant %q disagrees with frame content; keeping handshake",
				s.conn.Variant())
			s.mu.Unlock()
		}
		s.reconcile(snap)
		s.data.UpdateT()
		s.noteFrame()
	}
	return nil
}

// Disconnect tears down the connection. Dataset contents are preserved
// for inspection until the next Connect.
func (s *Session) Disconnect() {
	s.conn.Disconnect()
}

// Tick runs one acquisition step in poll mode and returns the read
// status. Fatal statuses leave the connection open; the caller decides
// whether to tear down and redial.
func (s *Session) Tick() Status {
	raw, st := s.conn.ReadFrame(0, false)
	switch st {
	case StatusOk:
	case StatusParseError:
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		return st
	default:
		return st
	}

	if !s.data.SubstituteRaw(raw) {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		return StatusParseError
	}
	s.reconcile(s.data.Snapshot())
	s.data.UpdateT()
	s.noteFrame()
	return StatusOk
}

// reconcile applies the beatnote tie-break to both channels before the
// snapshot is pushed into history, warning once per channel per
// connection when the spectral fallback overrides the device value.
func (s *Session) reconcile(snap Snapshot) {
	axis := s.data.FreqAxis()
	for ch := 0; ch < 2; ch++ {
		eff, fell := EffectiveBeatFreq(snap.Spectrum[ch], snap.BeatFreq[ch], axis)
		if !fell {
			continue
		}
		s.data.SetBeatFreq(ch, eff)
		s.mu.Lock()
		if !s.fallbackWarned[ch] {
			s.fallbackWarned[ch] = true
			s.logfLocked("ch%d beatnote: device reported %.3e Hz, using spectral peak %.3e Hz",
				ch+1, snap.BeatFreq[ch], eff)
		}
		s.mu.Unlock()
	}
}

func (s *Session) noteFrame() {
	now := time.Now()
	s.mu.Lock()
	s.frameCount++
	s.arrivals = append(s.arrivals, now)
	cutoff := now.Add(-fpsWindow)
	i := 0
	for i < len(s.arrivals) && s.arrivals[i].Before(cutoff) {
		i++
	}
	s.arrivals = s.arrivals[i:]
	s.mu.Unlock()
}

// Stats reports cumulative frames, parse errors, and the frame rate over
// the trailing window.
func (s *Session) Stats() (frames, parseErrors int64, fps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.arrivals) > 1 {
		span := s.arrivals[len(s.arrivals)-1].Sub(s.arrivals[0]).Seconds()
		if span > 0 {
			fps = float64(len(s.arrivals)-1) / span
		}
	}
	return s.frameCount, s.parseErrors, fps
}

// Reacquire pulses the device reset line (hold, settle, release) to force
// the servo to relock, then clears the per-connection warning latches so
// the next desync or fallback is reported again.
func (s *Session) Reacquire() error {
	if _, err := s.conn.Write(PackReset(false)); err != nil {
		return fmt.Errorf("reset hold: %w", err)
	}
	time.Sleep(initSettle)
	if _, err := s.conn.Write(PackReset(true)); err != nil {
		return fmt.Errorf("reset release: %w", err)
	}
	s.mu.Lock()
	s.fallbackWarned = [2]bool{}
	s.mu.Unlock()
	return nil
}
