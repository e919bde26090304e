package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rpll/pkg/rp"
)

// dataColumns is the full column set of the plain-text data log, in file
// order, tagged with the channel each column belongs to.
var dataColumns = []struct {
	Label   string
	Channel int
}{
	{"PIR_1", 0}, {"PIR_2", 1},
	{"Q_1", 0}, {"Q_2", 1},
	{"I_1", 0}, {"I_2", 1},
	{"Piezo_1", 0}, {"Piezo_2", 1},
	{"Temperature_1", 0}, {"Temperature_2", 1},
	{"FreqErr_1", 0}, {"FreqErr_2", 1},
}

// DataLogger appends one space-separated line of slow-channel values per
// accepted frame to a plain-text file. The format is the long-standing
// readout format: a "#" header with the start time and the frame rate,
// a column-name row, then data rows led by the frame counter.
type DataLogger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	channels [2]bool
	rows     int64
	stopAt   time.Time // zero means indefinite
}

// StartDataLogger opens path (or a timestamped default under readout/)
// and writes the header. channels selects 1, 2, or both; duration 0 runs
// until stopped.
func StartDataLogger(path string, channels []int, duration time.Duration) (*DataLogger, error) {
	var sel [2]bool
	if len(channels) == 0 {
		sel = [2]bool{true, true}
	}
	for _, ch := range channels {
		if ch < 1 || ch > 2 {
			return nil, fmt.Errorf("invalid channel %d", ch)
		}
		sel[ch-1] = true
	}

	now := time.Now()
	if path == "" {
		stamp := now.Format("2006_01_02_15_04_05")
		path = filepath.Join("readout", stamp, stamp+"_data.txt")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create data log: %w", err)
	}

	columns := []string{"cnts"}
	for _, col := range dataColumns {
		if sel[col.Channel] {
			columns = append(columns, col.Label)
		}
	}

	var header strings.Builder
	header.WriteString("#\n")
	header.WriteString("# t0: " + now.Format("2006-01-02 15:04:05") + "\n")
	header.WriteString("# fs: " + strconv.FormatFloat(rp.FrameRate, 'g', -1, 64) + "[Hz]\n")
	header.WriteString("#\n")
	header.WriteString(strings.Join(columns, " ") + "\n")
	if _, err := f.WriteString(header.String()); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	dl := &DataLogger{file: f, path: path, channels: sel}
	if duration > 0 {
		dl.stopAt = now.Add(duration)
	}
	return dl, nil
}

// Append writes one data row. It reports done=true once the configured
// record length has elapsed; the caller then closes the logger.
func (l *DataLogger) Append(snap rp.Snapshot) (done bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.stopAt.IsZero() && time.Now().After(l.stopAt) {
		return true, nil
	}

	values := make([]string, 0, 1+len(dataColumns))
	values = append(values, strconv.FormatInt(snap.Cnt, 10))
	perChannel := [][2]float64{snap.PIR, snap.Q, snap.I, snap.Piezo, snap.Temp, snap.FreqErr}
	for i, col := range dataColumns {
		if !l.channels[col.Channel] {
			continue
		}
		values = append(values, strconv.FormatFloat(perChannel[i/2][col.Channel], 'g', -1, 64))
	}

	if _, err := l.file.WriteString(strings.Join(values, " ") + "\n"); err != nil {
		return false, fmt.Errorf("write row: %w", err)
	}
	l.rows++
	return false, nil
}

// Close closes the file. Safe to call once.
func (l *DataLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *DataLogger) Path() string { return l.path }

func (l *DataLogger) Rows() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}
