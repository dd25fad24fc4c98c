//go:build !linux

package enforcement

import (
	"context"
	"errors"
	"time"

	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
)

var errNFTablesUnsupported = errors.New("nftables backend requires linux; use the command backend")

// NFTablesGateway is only functional on Linux.
type NFTablesGateway struct{}

func NewNFTablesGateway(tableName, chainName string, logger *logrus.Logger) (*NFTablesGateway, error) {
	return nil, errNFTablesUnsupported
}

func (g *NFTablesGateway) Name() string {
	return "nftables"
}

func (g *NFTablesGateway) Block(ctx context.Context, source model.SourceIdentifier) Result {
	return newResult(ActionBlock, source, g.Name(), time.Now(), errNFTablesUnsupported)
}

func (g *NFTablesGateway) Unblock(ctx context.Context, source model.SourceIdentifier) Result {
	return newResult(ActionUnblock, source, g.Name(), time.Now(), errNFTablesUnsupported)
}
