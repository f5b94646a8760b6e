package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riderlabs/go-rider/internal/config"
	"github.com/riderlabs/go-rider/internal/log"
	"github.com/riderlabs/go-rider/pkg/app"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "Settings file path")
	brokerHost := flag.String("broker", "", "Override MQTT broker host")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Load(*configPath)
	if *brokerHost != "" {
		cfg.BrokerHost = *brokerHost
	}

	log.Init(cfg.LogLevel, *debug)
	logger := log.L()

	fmt.Println("🛵 Rider PC Client")
	fmt.Printf("   Broker:    %s\n", cfg.BrokerURL())
	fmt.Printf("   Dashboard: http://localhost:%d\n", cfg.DashboardPort)
	if cfg.LLMEnabled {
		fmt.Printf("   LLM:       %s\n", cfg.LLMBaseURL)
	}
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Shutting down...")
		cancel()
	}()

	a := app.New(cfg, logger)
	if err := a.Run(ctx); err != nil {
		logger.Error("client exited with error", "error", err)
		os.Exit(1)
	}

	fmt.Println("👋 Goodbye!")
}
