package main

import (
	"sync"

	"github.com/rpll/pkg/rp"
)

// Server state shared between the acquisition loop, the HTTP handlers,
// and the websocket broadcaster.
type ServerState struct {
	mu sync.RWMutex

	// Device endpoint
	Host string
	Port int

	// Register settings (flat key -> display value), loaded from the
	// settings file and pushed on every connect.
	SettingsPath string
	Settings     map[string]float64

	// Auto lock disengage per channel: when enabled and the beatnote
	// drifts more than LockThresholdFreq from the reference, the servo
	// switches are written to zero.
	AutoDisengage [2]bool
	pllEngaged    [2]bool

	// Latest acquisition results
	LastStatus string
	Health     rp.HealthSnapshot

	// Active sinks, owned by the acquisition loop between ticks
	recorder *Recorder
	datalog  *DataLogger
}

var serverState = &ServerState{
	Port:       rp.DefaultPort,
	Settings:   make(map[string]float64),
	LastStatus: rp.StatusNoSocket.String(),
}

// noteConnect resets the per-connection engagement latches from the
// current switch settings.
func (s *ServerState) noteConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := 0; ch < 2; ch++ {
		s.pllEngaged[ch] = s.Settings[settingKey("piezo_switch", ch)] != 0 ||
			s.Settings[settingKey("temp_switch", ch)] != 0
	}
}
