// Command client is a minimal websocket monitor: it subscribes to the
// lock client's /ws stream and prints the per-frame telemetry.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "Lock client server address")
	n := flag.Int("n", 50, "Messages to receive before exiting (0 = forever)")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	for i := 0; *n == 0 || i < *n; i++ {
		var msg struct {
			Type        string     `json:"type"`
			Cnt         int64      `json:"cnt"`
			PIR         [2]float64 `json:"pir"`
			BeatFreq    [2]float64 `json:"beat_freq"`
			FreqErr     [2]float64 `json:"freq_err"`
			FPS         float64    `json:"fps"`
			ParseErrors int64      `json:"parse_errors"`
			Status      string     `json:"status"`
			Health      struct {
				FFT    string `json:"fft"`
				ILevel string `json:"i_level"`
				QLevel string `json:"q_level"`
			} `json:"health"`
		}
		if err := c.ReadJSON(&msg); err != nil {
			log.Fatal("read:", err)
		}
		switch msg.Type {
		case "frame":
			fmt.Printf("cnt=%d pir=[%.1f %.1f] beat=[%.1f %.1f] fps=%.1f errs=%d fft=%s\n",
				msg.Cnt, msg.PIR[0], msg.PIR[1], msg.BeatFreq[0], msg.BeatFreq[1],
				msg.FPS, msg.ParseErrors, msg.Health.FFT)
		case "connection":
			fmt.Fprintf(os.Stderr, "connection: %s\n", msg.Status)
		case "disengage":
			fmt.Fprintln(os.Stderr, "servo loop disengaged")
		}
	}
}
