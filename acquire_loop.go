package main

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/rpll/pkg/rp"
)

// session is the single device connection, owned by the acquisition loop.
// Handlers reach it only through Connect/Disconnect/command writes, which
// the session serializes internally.
var session = rp.NewSession()

// connectDevice dials the device, pushes the register settings, and arms
// the disengage latches. Shared by the server handlers and monitor mode.
func connectDevice(host string, port int) error {
	if err := session.Connect(host, port, 5*time.Second); err != nil {
		return err
	}

	serverState.mu.RLock()
	settings := make(map[string]float64, len(serverState.Settings))
	for k, v := range serverState.Settings {
		settings[k] = v
	}
	serverState.mu.RUnlock()
	if err := pushSettings(session.Conn(), settings); err != nil {
		log.Printf("settings push failed: %v", err)
	}

	serverState.mu.Lock()
	serverState.Host = host
	serverState.Port = port
	serverState.mu.Unlock()
	serverState.noteConnect()

	log.Printf("connected to %s:%d (%s)", host, port, session.Variant())
	return nil
}

// runAcquireLoop drives one Tick per frame period, forwards accepted
// snapshots to the sinks and websocket clients, and tears the connection
// down on fatal stream errors.
func runAcquireLoop() {
	interval := time.Duration(float64(time.Second) / rp.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if !session.Connected() {
			continue
		}
		st := session.Tick()

		serverState.mu.Lock()
		serverState.LastStatus = st.String()
		serverState.mu.Unlock()

		switch {
		case st == rp.StatusOk:
			handleAcceptedFrame()
		case st.Fatal():
			log.Printf("stream %s, disconnecting", st)
			session.Disconnect()
			broadcastJSON(map[string]interface{}{
				"type":   "connection",
				"status": st.String(),
			})
		}
	}
}

func handleAcceptedFrame() {
	snap := session.Data().Snapshot()
	axis := session.Data().FreqAxis()
	health := rp.ComputeHealth(snap, axis, session.Variant())

	serverState.mu.Lock()
	serverState.Health = health
	rec := serverState.recorder
	dl := serverState.datalog
	serverState.mu.Unlock()

	if rec != nil {
		if err := rec.Append(snap, health); err != nil {
			log.Printf("recorder: %v, stopping", err)
			stopRecorder()
		}
	}
	if dl != nil {
		done, err := dl.Append(snap)
		if err != nil {
			log.Printf("data log: %v, stopping", err)
		}
		if done || err != nil {
			stopDataLogger()
		}
	}

	checkAutoDisengage(snap)
	broadcastJSON(buildFrameMessage(snap, health))
}

// checkAutoDisengage opens the servo loops when a channel's beatnote has
// drifted past the lock threshold from its reference frequency.
func checkAutoDisengage(snap rp.Snapshot) {
	for ch := 0; ch < 2; ch++ {
		serverState.mu.Lock()
		armed := serverState.AutoDisengage[ch] && serverState.pllEngaged[ch]
		ref := serverState.Settings[settingKey("freq_ref", ch)]
		serverState.mu.Unlock()
		if !armed {
			continue
		}

		if math.Abs(snap.BeatFreq[ch]-ref) <= rp.LockThresholdFreq {
			continue
		}

		log.Printf("ch%d beatnote %.0f Hz left the lock window around %.0f Hz, opening loops",
			ch+1, snap.BeatFreq[ch], ref)
		for _, name := range []string{"piezo_switch", "temp_switch"} {
			key := settingKey(name, ch)
			if _, err := writeSetting(session.Conn(), key, 0); err != nil {
				log.Printf("disengage %s: %v", key, err)
				continue
			}
			serverState.mu.Lock()
			serverState.Settings[key] = 0
			serverState.mu.Unlock()
		}
		serverState.mu.Lock()
		serverState.pllEngaged[ch] = false
		serverState.mu.Unlock()

		broadcastJSON(map[string]interface{}{
			"type":    "disengage",
			"channel": ch + 1,
		})
	}
}

func buildFrameMessage(snap rp.Snapshot, health rp.HealthSnapshot) map[string]interface{} {
	frames, parseErrors, fps := session.Stats()
	return map[string]interface{}{
		"type":         "frame",
		"cnt":          snap.Cnt,
		"pir":          snap.PIR,
		"q":            snap.Q,
		"i":            snap.I,
		"piezo":        snap.Piezo,
		"temp":         snap.Temp,
		"freq_err":     snap.FreqErr,
		"beat_freq":    snap.BeatFreq,
		"spectrum":     snap.Spectrum,
		"health":       health,
		"variant":      session.Variant(),
		"frames":       frames,
		"parse_errors": parseErrors,
		"fps":          fps,
	}
}

func statusSummary() map[string]interface{} {
	frames, parseErrors, fps := session.Stats()
	serverState.mu.RLock()
	defer serverState.mu.RUnlock()
	return map[string]interface{}{
		"connected":    session.Connected(),
		"host":         serverState.Host,
		"port":         serverState.Port,
		"status":       serverState.LastStatus,
		"variant":      session.Variant(),
		"health":       serverState.Health,
		"frames":       frames,
		"parse_errors": parseErrors,
		"fps":          fmt.Sprintf("%.2f", fps),
		"recording":    serverState.recorder != nil,
		"logging":      serverState.datalog != nil,
	}
}
