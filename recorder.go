package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/parquet-go"

	"github.com/rpll/pkg/rp"
)

// HistoryRow is one accepted frame's slow channels, one parquet row per
// tick. Spectra are deliberately excluded; they belong to the live view,
// not the long-term record.
type HistoryRow struct {
	TimestampNs int64   `parquet:"timestamp_ns"`
	Cnt         int64   `parquet:"cnt"`
	PIR1        float64 `parquet:"pir_1"`
	PIR2        float64 `parquet:"pir_2"`
	Q1          float64 `parquet:"q_1"`
	Q2          float64 `parquet:"q_2"`
	I1          float64 `parquet:"i_1"`
	I2          float64 `parquet:"i_2"`
	Piezo1      float64 `parquet:"piezo_1"`
	Piezo2      float64 `parquet:"piezo_2"`
	Temp1       float64 `parquet:"temp_1"`
	Temp2       float64 `parquet:"temp_2"`
	FreqErr1    float64 `parquet:"freq_err_1"`
	FreqErr2    float64 `parquet:"freq_err_2"`
	BeatFreq1   float64 `parquet:"beat_freq_1"`
	BeatFreq2   float64 `parquet:"beat_freq_2"`
	Health      string  `parquet:"health"`
}

// Recorder writes accepted frames to a parquet file. The register
// settings active at start time travel with the file as metadata, so a
// record can always be matched to its servo configuration.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	writer *parquet.GenericWriter[HistoryRow]
	id     string
	path   string
	rows   int64
}

// StartRecorder creates dir if needed and opens a new uniquely named
// recording inside it.
func StartRecorder(dir string, settings map[string]float64) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	id := uuid.New().String()
	name := fmt.Sprintf("history_%s_%s.parquet", time.Now().Format("20060102_150405"), id[:8])
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	settingsJSON := "{}"
	if len(settings) > 0 {
		if b, err := json.Marshal(settings); err == nil {
			settingsJSON = string(b)
		}
	}

	writer := parquet.NewGenericWriter[HistoryRow](f,
		parquet.KeyValueMetadata("settings", settingsJSON),
		parquet.KeyValueMetadata("recording_id", id),
	)

	return &Recorder{file: f, writer: writer, id: id, path: path}, nil
}

// Append writes one row for the given snapshot.
func (r *Recorder) Append(snap rp.Snapshot, health rp.HealthSnapshot) error {
	row := HistoryRow{
		TimestampNs: time.Now().UnixNano(),
		Cnt:         snap.Cnt,
		PIR1:        snap.PIR[0],
		PIR2:        snap.PIR[1],
		Q1:          snap.Q[0],
		Q2:          snap.Q[1],
		I1:          snap.I[0],
		I2:          snap.I[1],
		Piezo1:      snap.Piezo[0],
		Piezo2:      snap.Piezo[1],
		Temp1:       snap.Temp[0],
		Temp2:       snap.Temp[1],
		FreqErr1:    snap.FreqErr[0],
		FreqErr2:    snap.FreqErr[1],
		BeatFreq1:   snap.BeatFreq[0],
		BeatFreq2:   snap.BeatFreq[1],
		Health:      health.Worst().String(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.writer.Write([]HistoryRow{row}); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	r.rows++
	return nil
}

// Close flushes the parquet footer and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

func (r *Recorder) ID() string   { return r.id }
func (r *Recorder) Path() string { return r.path }

func (r *Recorder) Rows() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}
