package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rpll/pkg/rp"
)

// runMonitor executes a one-shot status check: connect, acquire n frames,
// print a status table, disconnect.
func runMonitor(host string, port, n int) {
	fmt.Println("--- Lock monitor ---")

	if err := connectDevice(host, port); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer session.Disconnect()

	fmt.Printf("Device: %s:%d | Variant: %s\n", host, port, session.Variant())
	fmt.Printf(">>> Acquiring %d frames...\n", n)

	interval := time.Duration(float64(time.Second) / rp.FrameRate)
	accepted := 0
	deadline := time.Now().Add(time.Duration(n)*2*interval + 5*time.Second)
	for accepted < n && time.Now().Before(deadline) {
		st := session.Tick()
		switch {
		case st == rp.StatusOk:
			accepted++
		case st.Fatal():
			log.Fatalf("stream failed: %s", st)
		default:
			time.Sleep(interval / 4)
		}
	}
	if accepted < n {
		log.Fatalf("only %d/%d frames acquired", accepted, n)
	}

	snap := session.Data().Snapshot()
	health := rp.ComputeHealth(snap, session.Data().FreqAxis(), session.Variant())
	frames, parseErrors, fps := session.Stats()

	fmt.Printf("Frames: %d | FPS: %.2f | Parse errors: %d | Overall: %s\n",
		frames, fps, parseErrors, health.Worst())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Signal", "Channel 1", "Channel 2", "Health"})
	table.Append([]string{"PIR (Hz)",
		fmt.Sprintf("%.1f", snap.PIR[0]), fmt.Sprintf("%.1f", snap.PIR[1]),
		health.FreqReadout.String()})
	table.Append([]string{"Beat freq (Hz)",
		fmt.Sprintf("%.1f", snap.BeatFreq[0]), fmt.Sprintf("%.1f", snap.BeatFreq[1]),
		health.FFT.String()})
	table.Append([]string{"I",
		fmt.Sprintf("%.4g", snap.I[0]), fmt.Sprintf("%.4g", snap.I[1]),
		health.ILevel.String()})
	table.Append([]string{"Q",
		fmt.Sprintf("%.4g", snap.Q[0]), fmt.Sprintf("%.4g", snap.Q[1]),
		health.QLevel.String()})
	table.Append([]string{"Freq error",
		fmt.Sprintf("%.4g", snap.FreqErr[0]), fmt.Sprintf("%.4g", snap.FreqErr[1]),
		health.FreqError.String()})
	table.Append([]string{"Piezo",
		fmt.Sprintf("%.4g", snap.Piezo[0]), fmt.Sprintf("%.4g", snap.Piezo[1]),
		health.Control.String()})
	table.Append([]string{"Temperature",
		fmt.Sprintf("%.4g", snap.Temp[0]), fmt.Sprintf("%.4g", snap.Temp[1]),
		health.Control.String()})
	table.Render()
}
