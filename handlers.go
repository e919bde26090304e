package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/rpll/pkg/rp"
)

const dataFolder = "data"

// applySetting validates a named register setting, sends it to the device
// and updates the in-memory settings map.
func applySetting(key string, value float64) (uint32, error) {
	word, err := writeSetting(session.Conn(), key, value)
	if err != nil {
		return 0, err
	}
	serverState.mu.Lock()
	serverState.Settings[key] = value
	serverState.mu.Unlock()
	return word, nil
}

// API Handlers

func handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Host == "" {
		http.Error(w, "host required", 400)
		return
	}
	if req.Port == 0 {
		req.Port = rp.DefaultPort
	}

	if err := connectDevice(req.Host, req.Port); err != nil {
		http.Error(w, err.Error(), 502)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"variant": session.Variant(),
	})
}

func handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}
	stopRecorder()
	stopDataLogger()
	session.Disconnect()

	serverState.mu.Lock()
	serverState.LastStatus = rp.StatusNoSocket.String()
	serverState.mu.Unlock()

	log.Println("disconnected")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(statusSummary())
}

func handleHistory(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(session.Data().History())
}

func handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	word, err := applySetting(req.Name, req.Value)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"name":    req.Name,
		"value":   req.Value,
		"encoded": word,
	})
}

func handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		Release bool `json:"release"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if err := rp.SendReset(session.Conn(), req.Release); err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"release": req.Release,
	})
}

func handleReacquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}
	if err := session.Reacquire(); err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func handleAutoDisengage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		serverState.mu.RLock()
		defer serverState.mu.RUnlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ch1": serverState.AutoDisengage[0],
			"ch2": serverState.AutoDisengage[1],
		})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		Channel int  `json:"channel"` // 1 or 2
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Channel < 1 || req.Channel > 2 {
		http.Error(w, "channel must be 1 or 2", 400)
		return
	}

	serverState.mu.Lock()
	serverState.AutoDisengage[req.Channel-1] = req.Enabled
	serverState.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"channel": req.Channel,
		"enabled": req.Enabled,
	})
}

func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		serverState.mu.RLock()
		defer serverState.mu.RUnlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"path":     serverState.SettingsPath,
			"settings": serverState.Settings,
		})
	case http.MethodPost:
		// Reload from the settings file and push everything again.
		serverState.mu.RLock()
		path := serverState.SettingsPath
		serverState.mu.RUnlock()
		if path == "" {
			http.Error(w, "no settings file configured", 400)
			return
		}
		settings, err := loadSettings(path)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		serverState.mu.Lock()
		serverState.Settings = settings
		serverState.mu.Unlock()
		if session.Connected() {
			if err := pushSettings(session.Conn(), settings); err != nil {
				http.Error(w, err.Error(), 502)
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"count":   len(settings),
		})
	default:
		http.Error(w, "Method not allowed", 405)
	}
}

// Recording handlers

func handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}

	serverState.mu.RLock()
	already := serverState.recorder != nil
	settings := make(map[string]float64, len(serverState.Settings))
	for k, v := range serverState.Settings {
		settings[k] = v
	}
	serverState.mu.RUnlock()
	if already {
		http.Error(w, "Already recording", 409)
		return
	}

	rec, err := StartRecorder(dataFolder, settings)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	serverState.mu.Lock()
	serverState.recorder = rec
	serverState.mu.Unlock()

	log.Printf("recording %s", rec.Path())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"id":      rec.ID(),
		"file":    rec.Path(),
	})
}

func stopRecorder() {
	serverState.mu.Lock()
	rec := serverState.recorder
	serverState.recorder = nil
	serverState.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.Close(); err != nil {
		log.Printf("recorder close: %v", err)
	}
	log.Printf("recording stopped: %s (%d rows)", rec.Path(), rec.Rows())
}

func handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}
	stopRecorder()
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	serverState.mu.RLock()
	rec := serverState.recorder
	serverState.mu.RUnlock()

	if rec == nil {
		json.NewEncoder(w).Encode(map[string]interface{}{"recording": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recording": true,
		"id":        rec.ID(),
		"file":      rec.Path(),
		"rows":      rec.Rows(),
	})
}

// Data logger handlers

func handleLogStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		Path     string `json:"path"`
		Channels []int  `json:"channels"`
		Duration int    `json:"duration_s"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	serverState.mu.RLock()
	already := serverState.datalog != nil
	serverState.mu.RUnlock()
	if already {
		http.Error(w, "Already logging", 409)
		return
	}

	dl, err := StartDataLogger(req.Path, req.Channels, time.Duration(req.Duration)*time.Second)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	serverState.mu.Lock()
	serverState.datalog = dl
	serverState.mu.Unlock()

	log.Printf("data logging to %s", dl.Path())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"file":    dl.Path(),
	})
}

func stopDataLogger() {
	serverState.mu.Lock()
	dl := serverState.datalog
	serverState.datalog = nil
	serverState.mu.Unlock()
	if dl == nil {
		return
	}
	if err := dl.Close(); err != nil {
		log.Printf("data log close: %v", err)
	}
	log.Printf("data logging stopped: %s (%d rows)", dl.Path(), dl.Rows())
}

func handleLogStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", 405)
		return
	}
	stopDataLogger()
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func handleLogStatus(w http.ResponseWriter, r *http.Request) {
	serverState.mu.RLock()
	dl := serverState.datalog
	serverState.mu.RUnlock()

	if dl == nil {
		json.NewEncoder(w).Encode(map[string]interface{}{"logging": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"logging": true,
		"file":    dl.Path(),
		"rows":    dl.Rows(),
	})
}
