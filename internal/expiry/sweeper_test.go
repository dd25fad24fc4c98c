package expiry

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ddos-guard/internal/blocklist"
	"ddos-guard/internal/counter"
	"ddos-guard/internal/detector"
	"ddos-guard/internal/enforcement"
	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyGateway struct {
	mu       sync.Mutex
	failNext bool
	unblocks int
}

func (g *flakyGateway) Name() string { return "flaky" }

func (g *flakyGateway) Block(ctx context.Context, source model.SourceIdentifier) enforcement.Result {
	return enforcement.Result{Action: enforcement.ActionBlock, Source: source, Backend: "flaky"}
}

func (g *flakyGateway) Unblock(ctx context.Context, source model.SourceIdentifier) enforcement.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := enforcement.Result{Action: enforcement.ActionUnblock, Source: source, Backend: "flaky"}
	if g.failNext {
		g.failNext = false
		res.Err = errors.New("busy")
		return res
	}
	g.unblocks++
	return res
}

func TestSweep_LiftsOnlyExpiredBlocks(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	registry := blocklist.NewRegistry()
	registry.SetClock(func() time.Time { return clock })

	gw := &flakyGateway{}
	engine := detector.NewEngine(10, counter.New(time.Minute), registry, gw, logger)
	ctx := context.Background()

	_, err := engine.Block(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	clock = clock.Add(90 * time.Second)
	_, err = engine.Block(ctx, "10.0.0.2", "")
	require.NoError(t, err)

	sweeper := NewSweeper(engine, 120*time.Second, time.Second, logger)
	sweeper.now = func() time.Time { return clock.Add(30 * time.Second) }

	lifted := sweeper.Sweep(ctx)

	assert.Equal(t, []model.SourceIdentifier{"10.0.0.1"}, lifted)
	assert.Equal(t, []model.SourceIdentifier{"10.0.0.2"}, registry.List())
	assert.Equal(t, 1, gw.unblocks)
}

func TestSweep_RetriesFailedUnblock(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gw := &flakyGateway{failNext: true}
	engine := detector.NewEngine(10, counter.New(time.Minute), blocklist.NewRegistry(), gw, logger)
	ctx := context.Background()
	_, err := engine.Block(ctx, "10.0.0.3", "")
	require.NoError(t, err)

	sweeper := NewSweeper(engine, time.Minute, time.Second, logger)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	assert.Empty(t, sweeper.Sweep(ctx))
	assert.True(t, engine.Registry().Contains("10.0.0.3"))

	assert.Equal(t, []model.SourceIdentifier{"10.0.0.3"}, sweeper.Sweep(ctx))
	assert.Equal(t, 0, engine.Registry().Len())
}

func TestRun_StopsOnCancel(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	engine := detector.NewEngine(10, counter.New(time.Minute), blocklist.NewRegistry(), &flakyGateway{}, logger)
	sweeper := NewSweeper(engine, time.Minute, 10*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
