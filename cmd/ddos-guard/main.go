package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ddos-guard/internal/alert"
	"ddos-guard/internal/guard"
	"ddos-guard/internal/model"
	"ddos-guard/internal/utils"
)

func getVersion() string {
	content, err := os.ReadFile("VERSION")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(content))
}

func main() {
	var (
		configFile = flag.String("config", "configs/ddos_guard.yaml", "Configuration file path (YAML or JSON)")
		iface      = flag.String("interface", "", "Capture interface (overrides capture.interface)")
		pcapFile   = flag.String("pcap", "", "Replay a pcap file instead of capturing live")
		dryRun     = flag.Bool("dry-run", false, "Detect and log, but never touch the firewall")
	)
	flag.Parse()

	config, defaulted, err := utils.LoadGuardConfigOrDefault(*configFile)
	if err != nil {
		fmt.Printf("Failed to load config %s: %v\n", *configFile, err)
		os.Exit(1)
	}
	if defaulted {
		fmt.Printf("Config file %s not found, using default configuration...\n", *configFile)
	} else {
		fmt.Printf("Loaded configuration from %s\n", *configFile)
	}

	if *iface != "" {
		config.Capture.Interface = *iface
		config.Capture.PcapFile = ""
	}
	if *pcapFile != "" {
		config.Capture.PcapFile = *pcapFile
	}
	if *dryRun {
		config.Enforcement.DryRun = true
	}
	if err := config.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("DDoS Guard v%s\n", getVersion())
	if config.Capture.PcapFile != "" {
		fmt.Printf("Replaying capture file: %s\n", config.Capture.PcapFile)
	} else {
		fmt.Printf("Capturing on interface: %s\n", config.Capture.Interface)
	}
	fmt.Printf("Threshold: %d packets per %ds window\n", config.Detection.IPThreshold, config.Detection.TimeWindowSeconds)
	fmt.Println("")

	logger, err := utils.NewLoggerFromConfig(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	g, err := guard.New(config, logger)
	if err != nil {
		fmt.Printf("Failed to initialize detector: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(g))
}

func run(g *guard.Guard) int {
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter := alert.NewPrometheusExporter(g.Config.GetPrometheusPort(), g.Registry, g.Logger)
	go func() {
		if err := exporter.Start(ctx); err != nil {
			g.Logger.Errorf("Prometheus exporter error: %v", err)
		}
	}()

	go printEvents(ctx, g.Engine.Events())
	g.RunBackground(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if _, err := g.Controller.Start(ctx); err != nil {
		fmt.Printf("Failed to start packet capture: %v\n", err)
		return 1
	}
	fmt.Println(" Packet capture started!")
	fmt.Println("")

	select {
	case <-sigChan:
		fmt.Println("\nStopping packet capture...")
		g.Controller.Stop()
		return 0
	case <-g.Controller.Done():
	}

	if err := g.Controller.Err(); err != nil {
		fmt.Printf("Packet capture failed: %v\n", err)
		return 1
	}
	fmt.Println("Capture source exhausted")
	return 0
}

func printEvents(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case event := <-events:
			timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
			marker := "[!]"
			switch event.Severity {
			case model.SeverityCritical, model.SeverityHigh:
				marker = "[!!]"
			case model.SeverityLow:
				marker = "[-]"
			}
			fmt.Printf("\n%s [%s] %s %s - %s\n", marker, timestamp, event.Severity, event.Type, event.Message)
		case <-ctx.Done():
			return
		}
	}
}
