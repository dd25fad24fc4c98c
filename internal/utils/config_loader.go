package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file and before validation.
const (
	EnvIPThreshold = "IP_THRESHOLD"
	EnvTimeWindow  = "TIME_WINDOW"
	EnvBlockTime   = "BLOCK_TIME"
	EnvInterface   = "DDOS_GUARD_INTERFACE"
	EnvBackend     = "DDOS_GUARD_BACKEND"
)

// LoadGuardConfig reads a YAML or JSON configuration file. The format is
// picked from the extension; unknown extensions are tried as YAML first.
func LoadGuardConfig(filename string) (*GuardConfig, error) {
	if filename == "" {
		filename = "configs/ddos_guard.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := GetDefaultGuardConfig()
	switch {
	case strings.HasSuffix(filename, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config file %s: %v", filename, err)
		}
	case strings.HasSuffix(filename, ".yaml"), strings.HasSuffix(filename, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config file %s: %v", filename, err)
		}
	default:
		if yamlErr := yaml.Unmarshal(data, config); yamlErr != nil {
			config = GetDefaultGuardConfig()
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %v", filename, yamlErr)
			}
		}
	}

	if err := ApplyEnvOverrides(config, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return config, nil
}

// LoadGuardConfigOrDefault is LoadGuardConfig, except that a missing file
// yields the defaults (with environment overrides). defaulted reports that
// case. A file that exists but does not load is always an error.
func LoadGuardConfigOrDefault(filename string) (config *GuardConfig, defaulted bool, err error) {
	config, err = LoadGuardConfig(filename)
	if err == nil {
		return config, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	config = GetDefaultGuardConfig()
	if err := ApplyEnvOverrides(config, os.LookupEnv); err != nil {
		return nil, true, err
	}
	if err := config.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid config: %v", err)
	}
	return config, true, nil
}

// ApplyEnvOverrides copies the supported environment variables into config.
func ApplyEnvOverrides(config *GuardConfig, lookup func(string) (string, bool)) error {
	intVars := []struct {
		name   string
		target *int
	}{
		{EnvIPThreshold, &config.Detection.IPThreshold},
		{EnvTimeWindow, &config.Detection.TimeWindowSeconds},
		{EnvBlockTime, &config.Detection.BlockTimeSeconds},
	}
	for _, v := range intVars {
		raw, ok := lookup(v.name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s=%q: must be a positive integer", v.name, raw)
		}
		*v.target = n
	}

	if iface, ok := lookup(EnvInterface); ok && iface != "" {
		config.Capture.Interface = iface
	}
	if backend, ok := lookup(EnvBackend); ok && backend != "" {
		config.Enforcement.Backend = backend
	}
	return nil
}
