package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"ddos-guard/internal/pipeline"

	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"
)

// ErrCaptureSource wraps every fatal error of the packet source.
var ErrCaptureSource = errors.New("capture source failure")

// Loop pulls packets from one Source into the pipeline until the source
// ends, fails or ctx is cancelled.
type Loop struct {
	source    Source
	processor *pipeline.Processor
	logger    *logrus.Logger

	packets atomic.Int64
	skipped atomic.Int64
}

func NewLoop(source Source, processor *pipeline.Processor, logger *logrus.Logger) *Loop {
	return &Loop{
		source:    source,
		processor: processor,
		logger:    logger,
	}
}

// Run blocks until the capture ends. End of an offline capture and
// cancellation return nil; a source failure returns an error wrapping
// ErrCaptureSource and is not retried. The source is closed on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.source.Close()

	for {
		if ctx.Err() != nil {
			l.logger.Info("Capture loop cancelled")
			return nil
		}

		packet, err := l.source.NextPacket()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			l.logger.Infof("Capture source exhausted after %d packets", l.packets.Load())
			return nil
		default:
			return fmt.Errorf("%w: %v", ErrCaptureSource, err)
		}

		if _, ok := l.processor.Process(ctx, packet); ok {
			l.packets.Add(1)
		} else {
			l.skipped.Add(1)
		}
	}
}

// Packets returns the number of packets counted by this loop.
func (l *Loop) Packets() int64 {
	return l.packets.Load()
}

// Skipped returns the number of packets skipped by this loop.
func (l *Loop) Skipped() int64 {
	return l.skipped.Load()
}
