package utils

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GuardConfig is the full configuration of the detector and its control plane.
type GuardConfig struct {
	Application ApplicationYAMLConfig `yaml:"application" json:"application"`
	Detection   DetectionYAMLConfig   `yaml:"detection" json:"detection"`
	Capture     CaptureYAMLConfig     `yaml:"capture" json:"capture"`
	Enforcement EnforcementYAMLConfig `yaml:"enforcement" json:"enforcement"`
	Prometheus  PrometheusYAMLConfig  `yaml:"prometheus" json:"prometheus"`
	Alerting    AlertingYAMLConfig    `yaml:"alerting" json:"alerting"`
	Logging     LoggingYAMLConfig     `yaml:"logging" json:"logging"`
}

type ApplicationYAMLConfig struct {
	APIPort             string `yaml:"api_port" json:"api_port"`
	PrometheusExportURL string `yaml:"prometheus_export_url" json:"prometheus_export_url"`
	AutoStart           bool   `yaml:"auto_start" json:"auto_start"`
}

// DetectionYAMLConfig holds IP_THRESHOLD, TIME_WINDOW and BLOCK_TIME.
type DetectionYAMLConfig struct {
	IPThreshold          int      `yaml:"ip_threshold" json:"ip_threshold"`
	TimeWindowSeconds    int      `yaml:"time_window_seconds" json:"time_window_seconds"`
	BlockTimeSeconds     int      `yaml:"block_time_seconds" json:"block_time_seconds"`
	AutoUnblock          bool     `yaml:"auto_unblock" json:"auto_unblock"`
	SweepIntervalSeconds int      `yaml:"sweep_interval_seconds" json:"sweep_interval_seconds"`
	Allowlist            []string `yaml:"allowlist" json:"allowlist"`
}

type CaptureYAMLConfig struct {
	Interface     string `yaml:"interface" json:"interface"`
	PcapFile      string `yaml:"pcap_file" json:"pcap_file"`
	Snaplen       int    `yaml:"snaplen" json:"snaplen"`
	Promiscuous   bool   `yaml:"promiscuous" json:"promiscuous"`
	BPFFilter     string `yaml:"bpf_filter" json:"bpf_filter"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"read_timeout_ms"`
}

type EnforcementYAMLConfig struct {
	Backend        string                   `yaml:"backend" json:"backend"`
	DryRun         bool                     `yaml:"dry_run" json:"dry_run"`
	TimeoutSeconds int                      `yaml:"timeout_seconds" json:"timeout_seconds"`
	NFTables       NFTablesYAMLConfig       `yaml:"nftables" json:"nftables"`
	Command        CommandBackendYAMLConfig `yaml:"command" json:"command"`
}

type NFTablesYAMLConfig struct {
	Table string `yaml:"table" json:"table"`
	Chain string `yaml:"chain" json:"chain"`
}

type CommandBackendYAMLConfig struct {
	Block   []string `yaml:"block" json:"block"`
	Unblock []string `yaml:"unblock" json:"unblock"`
}

type PrometheusYAMLConfig struct {
	URL            string `yaml:"url" json:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

type AlertingYAMLConfig struct {
	Enabled  bool               `yaml:"enabled" json:"enabled"`
	Channels AlertChannelsYAML  `yaml:"channels" json:"channels"`
	Telegram TelegramYAMLConfig `yaml:"telegram" json:"telegram"`
	NATS     NATSYAMLConfig     `yaml:"nats" json:"nats"`
}

type AlertChannelsYAML struct {
	Log      bool `yaml:"log" json:"log"`
	Telegram bool `yaml:"telegram" json:"telegram"`
	NATS     bool `yaml:"nats" json:"nats"`
}

type TelegramYAMLConfig struct {
	BotToken        string `yaml:"bot_token" json:"bot_token"`
	ChatID          string `yaml:"chat_id" json:"chat_id"`
	ParseMode       string `yaml:"parse_mode" json:"parse_mode"`
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty" json:"message_template,omitempty"`
}

type NATSYAMLConfig struct {
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
}

type LoggingYAMLConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Validate fills defaults and rejects settings the guard cannot run with.
func (c *GuardConfig) Validate() error {
	if c.Application.APIPort == "" {
		c.Application.APIPort = "8000"
	}
	if c.Application.PrometheusExportURL == "" {
		c.Application.PrometheusExportURL = "9100"
	}

	if c.Detection.IPThreshold <= 0 {
		c.Detection.IPThreshold = 1000
	}
	if c.Detection.TimeWindowSeconds <= 0 {
		c.Detection.TimeWindowSeconds = 60
	}
	if c.Detection.BlockTimeSeconds <= 0 {
		c.Detection.BlockTimeSeconds = 120
	}
	if c.Detection.SweepIntervalSeconds <= 0 {
		c.Detection.SweepIntervalSeconds = 5
	}
	if _, err := c.AllowlistNets(); err != nil {
		return err
	}

	if c.Capture.Snaplen <= 0 {
		c.Capture.Snaplen = 1600
	}
	if c.Capture.BPFFilter == "" {
		c.Capture.BPFFilter = "ip or ip6"
	}
	if c.Capture.ReadTimeoutMs <= 0 {
		c.Capture.ReadTimeoutMs = 500
	}
	if c.Capture.Interface == "" && c.Capture.PcapFile == "" {
		c.Capture.Interface = "eth0"
	}

	c.Enforcement.Backend = strings.ToLower(strings.TrimSpace(c.Enforcement.Backend))
	if c.Enforcement.Backend == "" {
		c.Enforcement.Backend = "nftables"
	}
	switch c.Enforcement.Backend {
	case "nftables", "command", "noop":
	default:
		return fmt.Errorf("unknown enforcement backend %q (want nftables, command or noop)", c.Enforcement.Backend)
	}
	if c.Enforcement.TimeoutSeconds <= 0 {
		c.Enforcement.TimeoutSeconds = 5
	}
	if c.Enforcement.NFTables.Table == "" {
		c.Enforcement.NFTables.Table = "ddos_guard"
	}
	if c.Enforcement.NFTables.Chain == "" {
		c.Enforcement.NFTables.Chain = "input"
	}

	if c.Prometheus.TimeoutSeconds <= 0 {
		c.Prometheus.TimeoutSeconds = 10
	}

	if c.Alerting.Telegram.ParseMode == "" {
		c.Alerting.Telegram.ParseMode = "Markdown"
	}
	if c.Alerting.NATS.Subject == "" {
		c.Alerting.NATS.Subject = "ddos_guard.events"
	}
	if c.Alerting.Channels.NATS && c.Alerting.NATS.URL == "" {
		return fmt.Errorf("alerting.nats.url cannot be empty when the nats channel is enabled")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	return nil
}

// GetDefaultGuardConfig returns the configuration used when no file is given.
func GetDefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		Application: ApplicationYAMLConfig{
			APIPort:             "8000",
			PrometheusExportURL: "9100",
			AutoStart:           false,
		},
		Detection: DetectionYAMLConfig{
			IPThreshold:          1000,
			TimeWindowSeconds:    60,
			BlockTimeSeconds:     120,
			AutoUnblock:          false,
			SweepIntervalSeconds: 5,
		},
		Capture: CaptureYAMLConfig{
			Interface:     "eth0",
			Snaplen:       1600,
			Promiscuous:   true,
			BPFFilter:     "ip or ip6",
			ReadTimeoutMs: 500,
		},
		Enforcement: EnforcementYAMLConfig{
			Backend:        "nftables",
			TimeoutSeconds: 5,
			NFTables: NFTablesYAMLConfig{
				Table: "ddos_guard",
				Chain: "input",
			},
		},
		Prometheus: PrometheusYAMLConfig{
			TimeoutSeconds: 10,
		},
		Alerting: AlertingYAMLConfig{
			Enabled: true,
			Channels: AlertChannelsYAML{
				Log: true,
			},
			Telegram: TelegramYAMLConfig{
				ParseMode: "Markdown",
			},
			NATS: NATSYAMLConfig{
				Subject: "ddos_guard.events",
			},
		},
		Logging: LoggingYAMLConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

func (c *GuardConfig) Window() time.Duration {
	return time.Duration(c.Detection.TimeWindowSeconds) * time.Second
}

func (c *GuardConfig) BlockTime() time.Duration {
	return time.Duration(c.Detection.BlockTimeSeconds) * time.Second
}

func (c *GuardConfig) SweepInterval() time.Duration {
	return time.Duration(c.Detection.SweepIntervalSeconds) * time.Second
}

func (c *GuardConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Capture.ReadTimeoutMs) * time.Millisecond
}

// GetPrometheusPort extracts port from PrometheusExportURL
func (c *GuardConfig) GetPrometheusPort() string {
	exportPort := c.Application.PrometheusExportURL
	if strings.Contains(exportPort, ":") {
		parts := strings.Split(exportPort, ":")
		if len(parts) > 0 {
			exportPort = parts[len(parts)-1]
		}
	}
	return exportPort
}

// AllowlistNets parses detection.allowlist. Bare addresses become /32 or /128.
func (c *GuardConfig) AllowlistNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.Detection.Allowlist))
	for _, entry := range c.Detection.Allowlist {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid allowlist entry %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist entry %q: %v", entry, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// SaveConfig writes the configuration as YAML, or JSON for *.json paths.
func (c *GuardConfig) SaveConfig(filename string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(filename, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	err = os.WriteFile(filename, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file %s: %v", filename, err)
	}

	return nil
}
