// Command rme-engine is the standalone binary: load a configuration
// file, build the processing graph and (optionally) the Device Control
// Bridge, and run until interrupted (spec 6.1).
//
// Grounded on cmd/direwolf/main.go's shape: pflag for options, one
// config load, one run loop, SIGINT tears everything down cleanly --
// reworked from direwolf's cgo audio-subsystem bring-up into calls
// against the engine Facade.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/oscmex/engine/internal/audiograph/hwdriver"
	"github.com/oscmex/engine/internal/config"
	"github.com/oscmex/engine/internal/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   = pflag.StringP("config", "c", "", "Configuration file (JSON).")
		listDevices  = pflag.Bool("list-devices", false, "List available audio devices and exit.")
		verbose      = pflag.BoolP("verbose", "v", false, "Enable debug-level logging.")
		noRealtime   = pflag.Bool("no-realtime", false, "Disable wall-clock pacing for file-only graphs; run as fast as possible.")
		dumpSnapshot = pflag.String("dump-snapshot", "", "Write one device-shadow snapshot to PATH after init and exit.")
		help         = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rme-engine - RME audio device processing engine and control bridge.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: rme-engine --config PATH [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *listDevices {
		return listAudioDevices()
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "rme-engine: --config is required")
		pflag.Usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		return 1
	}
	if *noRealtime {
		cfg.Device.Kind = config.DeviceNone
	}

	e := engine.New(log.Default(), cfg)
	e.SubscribeStatus(func(ev engine.StatusEvent) {
		log.Info("status", "category", ev.Category, "message", ev.Message)
	})

	if err := e.Initialize(); err != nil {
		log.Error("initialize failed", "error", err)
		return 1
	}

	if *dumpSnapshot != "" {
		if err := writeSnapshot(e, *dumpSnapshot); err != nil {
			log.Error("dump-snapshot failed", "error", err)
			return 1
		}
		return 0
	}

	if err := e.Run(); err != nil {
		log.Error("run failed", "error", err)
		return 1
	}

	waitForSignal()

	if err := e.Stop(); err != nil {
		log.Error("stop failed", "error", err)
		return 1
	}
	return 0
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func listAudioDevices() int {
	d := hwdriver.New()
	devices, err := d.Enumerate()
	if err != nil {
		log.Error("enumerate devices failed", "error", err)
		return 1
	}
	for _, dev := range devices {
		fmt.Printf("%-32s in=%d out=%d rate=%.0f\n", dev.Name, dev.MaxInputs, dev.MaxOutputs, dev.DefaultSampleRt)
	}
	return 0
}

func writeSnapshot(e *engine.Engine, path string) error {
	snap, ok := e.Snapshot()
	if !ok {
		return fmt.Errorf("no control-plane bridge configured, nothing to snapshot")
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}
