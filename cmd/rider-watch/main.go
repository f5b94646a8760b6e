// rider-watch is a headless monitor: it attaches to a running rider
// client's dashboard and prints state changes to the terminal. Useful
// for debugging robot telemetry without opening the browser UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/riderlabs/go-rider/internal/log"
	"github.com/riderlabs/go-rider/pkg/dashboard"
	"github.com/riderlabs/go-rider/pkg/state"
)

func main() {
	addr := flag.String("addr", "localhost:8742", "Dashboard address (host:port)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Init("info", *debug)
	logger := log.Component("rider-watch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	fmt.Printf("📡 Watching rider state at %s (Ctrl-C to stop)\n\n", *addr)

	client, err := dashboard.DialState(ctx, *addr)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Unblock the read loop on Ctrl-C.
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	for {
		snap, err := client.Next()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("stream ended", "error", err)
			os.Exit(1)
		}
		printSnapshot(snap)
	}

	fmt.Println("\n👋 Goodbye!")
}

func printSnapshot(s state.Snapshot) {
	features := make([]string, 0, len(s.Features))
	for f, on := range s.Features {
		if on {
			features = append(features, string(f))
		}
	}
	sort.Strings(features)
	enabled := "none"
	if len(features) > 0 {
		enabled = strings.Join(features, ",")
	}

	link := "✗"
	if s.BrokerConnected {
		link = "✓"
	}
	ctrl := "✗"
	if s.ControllerConnected {
		ctrl = "✓"
	}

	fmt.Printf("[%s] 🔋%3d%%  r=%+6.1f° p=%+6.1f° y=%+6.1f°  spd=%.1fx h=%dcm  link=%s ctrl=%s  on=[%s]\n",
		time.Now().Format("15:04:05"),
		s.BatteryPercent,
		s.Orientation.Roll, s.Orientation.Pitch, s.Orientation.Yaw,
		s.SpeedMultiplier, s.Height,
		link, ctrl, enabled)
}
