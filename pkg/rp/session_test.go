package rp

import (
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// frameServer streams frames continuously after the handshake until the
// peer goes away.
func frameServer(t *testing.T, capLine string, frame []byte) int {
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
		if capLine != "" {
			c.Write([]byte(capLine))
		}
		for {
			if _, err := c.Write(frame); err != nil {
				return
			}
		}
	}()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// lockFrame is a laser-lock style frame: freq error independent of the
// readout and live actuator channels.
func lockFrame(counter float64) []byte {
	buf := wireFrame(counter)
	raw := DecodeFrame(buf)
	raw[IdxFreqErr0] = 1e-7
	raw[IdxFreqErr1] = 1e-7
	raw[IdxPiezo0] = 0.1
	raw[IdxPiezo1] = 0.1
	raw[IdxTemp0] = 0.05
	raw[IdxTemp1] = 0.05
	return EncodeFrame(raw)
}

// phasemeterFrame mirrors the readout into the error words and zeroes the
// actuators, the shape the reduced build emits.
func phasemeterFrame(counter float64) []byte {
	buf := wireFrame(counter)
	raw := DecodeFrame(buf)
	raw[IdxFreqErr0] = raw[IdxPIR0]
	raw[IdxFreqErr1] = raw[IdxPIR1]
	return EncodeFrame(raw)
}

func TestSessionConnectAndTick(t *testing.T) {
	port := frameServer(t, "RP_CAP:laser_lock\n", lockFrame(1))
	s := NewSession()
	if err := s.Connect("127.0.0.1", port, 2*time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	if v := s.Variant(); v != VariantLaserLock {
		t.Errorf("variant = %v, want laser_lock", v)
	}

	// The connect sequence already lands the first frame.
	if snap := s.Data().Snapshot(); snap.PIR[0] != 10e6 {
		t.Fatalf("snapshot PIR = %v after connect", snap.PIR[0])
	}

	ok := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st := s.Tick(); st == StatusOk {
			ok = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !ok {
		t.Fatal("no frame accepted by Tick")
	}

	frames, parseErrs, _ := s.Stats()
	if frames < 2 {
		t.Errorf("frame count = %d, want >= 2", frames)
	}
	if parseErrs != 0 {
		t.Errorf("parse errors = %d, want 0", parseErrs)
	}

	h := s.Data().History()
	if h.PIR[0][HistoryLen-1] != 10e6 {
		t.Error("history not advanced by Tick")
	}
}

func TestSessionInfersVariantWithoutHandshake(t *testing.T) {
	port := frameServer(t, "", phasemeterFrame(1))
	s := NewSession()
	if err := s.Connect("127.0.0.1", port, 2*time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	if v := s.Variant(); v != VariantPhasemeter {
		t.Errorf("variant = %v, want inferred phasemeter", v)
	}
}

func TestSessionBeatnoteFallbackWarnsOncePerChannel(t *testing.T) {
	// Device reports a near-zero beatnote while the spectrum shows a
	// strong peak: the reconciler substitutes the peak and warns once.
	raw := DecodeFrame(lockFrame(1))
	raw[IdxBeatFreq0] = 0
	raw[IdxBeatFreq1] = 0
	raw[IdxFFTChan1+100] = 1.0
	raw[IdxFFTChan2+200] = 1.0
	frame := EncodeFrame(raw)

	port := frameServer(t, "RP_CAP:laser_lock\n", frame)
	s := NewSession()
	var warns int32
	s.SetLogFunc(func(string) { atomic.AddInt32(&warns, 1) })
	if err := s.Connect("127.0.0.1", port, 2*time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	deadline := time.Now().Add(3 * time.Second)
	accepted := 0
	for accepted < 3 && time.Now().Before(deadline) {
		if s.Tick() == StatusOk {
			accepted++
		} else {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if accepted < 3 {
		t.Fatal("not enough frames accepted")
	}

	snap := s.Data().Snapshot()
	axis := s.Data().FreqAxis()
	if snap.BeatFreq[0] != axis[100] {
		t.Errorf("BeatFreq[0] = %v, want spectral peak %v", snap.BeatFreq[0], axis[100])
	}
	if snap.BeatFreq[1] != axis[200] {
		t.Errorf("BeatFreq[1] = %v, want spectral peak %v", snap.BeatFreq[1], axis[200])
	}

	if n := atomic.LoadInt32(&warns); n != 2 {
		t.Errorf("fallback warnings = %d, want one per channel", n)
	}
}

func TestSessionReacquireResetsLatches(t *testing.T) {
	raw := DecodeFrame(lockFrame(1))
	raw[IdxBeatFreq0] = 0
	raw[IdxBeatFreq1] = 0
	raw[IdxFFTChan1+100] = 1.0
	raw[IdxFFTChan2+200] = 1.0
	frame := EncodeFrame(raw)

	port := frameServer(t, "RP_CAP:laser_lock\n", frame)
	s := NewSession()
	var warns int32
	s.SetLogFunc(func(string) { atomic.AddInt32(&warns, 1) })
	if err := s.Connect("127.0.0.1", port, 2*time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	before := atomic.LoadInt32(&warns)
	if before != 2 {
		t.Fatalf("warnings after connect = %d, want 2", before)
	}
	if err := s.Reacquire(); err != nil {
		t.Fatalf("reacquire: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Tick() == StatusOk {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&warns); n != 4 {
		t.Errorf("warnings after reacquire = %d, want latches rearmed (4)", n)
	}
}

func TestSessionTickWithoutConnection(t *testing.T) {
	s := NewSession()
	if st := s.Tick(); st != StatusNoSocket {
		t.Fatalf("status = %v, want no_socket", st)
	}
}
