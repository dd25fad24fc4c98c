package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ddos-guard/internal/detector"
	"ddos-guard/internal/metrics"
	"ddos-guard/internal/model"
	"ddos-guard/internal/pipeline"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// ErrStartAborted is returned by Start when Stop or ctx cancellation won the
// race against opening the source.
var ErrStartAborted = errors.New("capture start aborted")

// Status is a snapshot of the capture lifecycle.
type Status struct {
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Error     string    `json:"error,omitempty"`
	Packets   int64     `json:"packets"`
	Skipped   int64     `json:"skipped"`
}

// Controller owns the single capture loop. At most one loop runs at a time.
type Controller struct {
	open      SourceFactory
	processor *pipeline.Processor
	engine    *detector.Engine
	metrics   *metrics.GuardMetrics
	logger    *logrus.Logger

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stoppedAt time.Time
	err       error
	loop      *Loop
	cancel    context.CancelFunc
	done      chan struct{}
	abort     bool
}

func NewController(open SourceFactory, engine *detector.Engine, logger *logrus.Logger) *Controller {
	done := make(chan struct{})
	close(done)
	return &Controller{
		open:      open,
		processor: pipeline.NewProcessor(engine),
		engine:    engine,
		logger:    logger,
		state:     StateIdle,
		done:      done,
	}
}

func (c *Controller) SetMetrics(m *metrics.GuardMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Start launches the capture loop bound to ctx and returns immediately.
// started is false, with a nil error, when a loop is already running.
func (c *Controller) Start(ctx context.Context) (started bool, err error) {
	c.mu.Lock()
	if c.state == StateRunning || c.state == StateStarting {
		c.mu.Unlock()
		return false, nil
	}
	c.state = StateStarting
	c.abort = false
	c.err = nil
	c.mu.Unlock()

	// opening a live device can take a while; status readers must not wait on it
	source, openErr := c.open()

	c.mu.Lock()
	defer c.mu.Unlock()

	if openErr != nil {
		c.state = StateFailed
		c.err = fmt.Errorf("%w: %v", ErrCaptureSource, openErr)
		c.stoppedAt = time.Now()
		return false, c.err
	}
	if c.abort || ctx.Err() != nil {
		source.Close()
		c.state = StateStopped
		c.stoppedAt = time.Now()
		c.logger.Info("Packet capture start aborted")
		return false, ErrStartAborted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.loop = NewLoop(source, c.processor, c.logger)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateRunning
	c.startedAt = time.Now()
	c.stoppedAt = time.Time{}
	c.metrics.SetCaptureRunning(true)

	go c.run(loopCtx, c.loop, cancel, c.done)

	c.logger.Info("Packet capture started")
	return true, nil
}

func (c *Controller) run(ctx context.Context, loop *Loop, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	err := loop.Run(ctx)

	c.mu.Lock()
	c.stoppedAt = time.Now()
	c.cancel = nil
	if err != nil {
		c.state = StateFailed
		c.err = err
	} else {
		c.state = StateStopped
	}
	c.metrics.SetCaptureRunning(false)
	c.mu.Unlock()

	if err != nil {
		c.logger.Errorf("Packet capture failed: %v", err)
		c.engine.EmitEvent(c.engine.NewEvent(model.EventCaptureStopped, model.SeverityHigh, "",
			fmt.Sprintf("Packet capture failed: %v", err)))
		return
	}
	c.logger.Infof("Packet capture stopped after %d packets", loop.Packets())
	c.engine.EmitEvent(c.engine.NewEvent(model.EventCaptureStopped, model.SeverityLow, "",
		fmt.Sprintf("Packet capture stopped after %d packets", loop.Packets())))
}

// Stop cancels the running loop and waits for it to release the source.
// A Start still opening its source is told to abort instead. It returns
// false when nothing was running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if c.state == StateStarting {
		c.abort = true
		c.mu.Unlock()
		return true
	}
	if c.state != StateRunning || c.cancel == nil {
		c.mu.Unlock()
		return false
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return true
}

// Done is closed when the current (or last) loop has exited.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error the last loop failed with, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:     c.state,
		StartedAt: c.startedAt,
		StoppedAt: c.stoppedAt,
	}
	if c.err != nil {
		status.Error = c.err.Error()
	}
	if c.loop != nil {
		status.Packets = c.loop.Packets()
		status.Skipped = c.loop.Skipped()
	}
	return status
}
