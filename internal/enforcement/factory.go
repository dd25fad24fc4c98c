package enforcement

import (
	"fmt"
	"time"

	"ddos-guard/internal/utils"

	"github.com/sirupsen/logrus"
)

// NewFromConfig builds the gateway selected by enforcement.backend.
// dry_run always wins and yields the noop gateway.
func NewFromConfig(cfg utils.EnforcementYAMLConfig, logger *logrus.Logger) (Gateway, error) {
	if cfg.DryRun {
		logger.Warn("Enforcement dry-run enabled: no firewall changes will be made")
		return NewNoopGateway(logger), nil
	}

	switch cfg.Backend {
	case "nftables", "":
		gw, err := NewNFTablesGateway(cfg.NFTables.Table, cfg.NFTables.Chain, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case "command":
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		gw, err := NewCommandGateway(cfg.Command.Block, cfg.Command.Unblock, timeout, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case "noop":
		return NewNoopGateway(logger), nil
	default:
		return nil, fmt.Errorf("unknown enforcement backend %q", cfg.Backend)
	}
}
