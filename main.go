package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rpll/pkg/rp"
)

func main() {
	// Device flags
	host := flag.String("host", "", "Device address (required unless --sim)")
	port := flag.Int("p", rp.DefaultPort, "Device TCP port")
	configFile := flag.String("config", "", "Register settings file (toml/yaml/json)")

	// Server-specific flags
	isServer := flag.Bool("server", false, "Run in WebSocket server mode")
	listen := flag.Int("listen", 8080, "HTTP port to listen on (Server mode only)")

	// Monitor-specific flags
	frames := flag.Int("n", 15, "Frames to acquire (Monitor mode only)")

	// Simulation flags
	isSim := flag.Bool("sim", false, "Run against a built-in device simulator")
	simVariant := flag.String("sim-variant", "laser_lock", "Simulated capability (phasemeter|laser_lock)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  Monitor Mode: go run . -host <device> [options]")
		fmt.Fprintln(os.Stderr, "  Server Mode:  go run . --server [options]")
		fmt.Fprintln(os.Stderr, "  Sim Mode:     go run . --sim [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *configFile != "" {
		settings, err := loadSettings(*configFile)
		if err != nil {
			log.Fatalf("settings: %v", err)
		}
		serverState.mu.Lock()
		serverState.SettingsPath = *configFile
		serverState.Settings = settings
		serverState.mu.Unlock()
		log.Printf("loaded %d settings from %s", len(settings), *configFile)
	}

	session.SetLogFunc(func(msg string) { log.Print(msg) })

	// Simulation mode replaces the device with an in-process server.
	if *isSim {
		variant, ok := rp.ParseVariant(*simVariant)
		if !ok {
			log.Fatalf("unknown simulator variant %q", *simVariant)
		}
		sim, err := StartSimulator("127.0.0.1:0", variant, true)
		if err != nil {
			log.Fatalf("simulator: %v", err)
		}
		defer sim.Close()
		*host = "127.0.0.1"
		*port = sim.Port()
		log.Printf("simulator (%s) on port %d", variant, *port)
		// Give the listener a moment before dialing.
		time.Sleep(100 * time.Millisecond)
	}

	if *isServer {
		if *host != "" {
			if err := connectDevice(*host, *port); err != nil {
				log.Printf("initial connect failed: %v (use /api/connect)", err)
			}
		}
		runServer(*listen)
		return
	}

	if *host == "" {
		flag.Usage()
		os.Exit(2)
	}
	runMonitor(*host, *port, *frames)
}
