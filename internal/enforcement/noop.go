package enforcement

import (
	"context"
	"time"

	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// NoopGateway only logs. It backs dry-run mode.
type NoopGateway struct {
	logger *logrus.Logger
}

func NewNoopGateway(logger *logrus.Logger) *NoopGateway {
	return &NoopGateway{logger: logger}
}

func (g *NoopGateway) Name() string {
	return "noop"
}

func (g *NoopGateway) Block(ctx context.Context, source model.SourceIdentifier) Result {
	start := time.Now()
	if source.IP() == nil {
		return newResult(ActionBlock, source, g.Name(), start, ErrInvalidSource)
	}
	g.logger.Infof("[dry-run] would block %s", source)
	return newResult(ActionBlock, source, g.Name(), start, nil)
}

func (g *NoopGateway) Unblock(ctx context.Context, source model.SourceIdentifier) Result {
	start := time.Now()
	if source.IP() == nil {
		return newResult(ActionUnblock, source, g.Name(), start, ErrInvalidSource)
	}
	g.logger.Infof("[dry-run] would unblock %s", source)
	return newResult(ActionUnblock, source, g.Name(), start, nil)
}
