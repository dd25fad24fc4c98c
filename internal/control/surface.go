package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ddos-guard/internal/blocklist"
	"ddos-guard/internal/capture"
	"ddos-guard/internal/detector"
	"ddos-guard/internal/model"
)

// ErrInvalidIP is returned for block/unblock requests that do not name an
// IP address.
var ErrInvalidIP = errors.New("invalid IP address")

const LivenessMessage = "DDoS Detection API is running"

// Surface is the operator-facing set of operations over the detector. It
// only reads copies of the shared state and mutates it through the engine.
type Surface struct {
	base          context.Context
	engine        *detector.Engine
	controller    *capture.Controller
	window        time.Duration
	actionTimeout time.Duration
}

const defaultActionTimeout = 10 * time.Second

// NewSurface creates the surface. Capture loops and firewall actions
// started through it live until base is cancelled, never bound to the
// caller that asked for them.
func NewSurface(base context.Context, engine *detector.Engine, controller *capture.Controller) *Surface {
	return &Surface{
		base:       base,
		engine:     engine,
		controller: controller,
		window:     engine.Counter().Window(),

		actionTimeout: defaultActionTimeout,
	}
}

// SetActionTimeout bounds manual block and unblock calls.
func (s *Surface) SetActionTimeout(d time.Duration) {
	if d > 0 {
		s.actionTimeout = d
	}
}

func (s *Surface) actionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.base, s.actionTimeout)
}

type UnblockResult struct {
	Source     model.SourceIdentifier `json:"source"`
	WasBlocked bool                   `json:"was_blocked"`
}

func (r UnblockResult) Message() string {
	if r.WasBlocked {
		return fmt.Sprintf("IP %s unblocked.", r.Source)
	}
	return fmt.Sprintf("IP %s is not blocked.", r.Source)
}

type BlockResult struct {
	Source         model.SourceIdentifier `json:"source"`
	AlreadyBlocked bool                   `json:"already_blocked"`
}

func (r BlockResult) Message() string {
	if r.AlreadyBlocked {
		return fmt.Sprintf("IP %s is already blocked.", r.Source)
	}
	return fmt.Sprintf("IP %s blocked.", r.Source)
}

// Status aggregates detector and capture state.
type Status struct {
	Threshold     int                `json:"threshold"`
	WindowSeconds int                `json:"window_seconds"`
	Backend       string             `json:"backend"`
	Traffic       model.TrafficStats `json:"traffic"`
	Capture       capture.Status     `json:"capture"`
	Blocked       []blocklist.Entry  `json:"blocked"`
}

func (s *Surface) Liveness() string {
	return LivenessMessage
}

// PacketCounts returns the counts of the current window.
func (s *Surface) PacketCounts() map[string]int {
	snapshot := s.engine.PacketCounts()
	counts := make(map[string]int, len(snapshot.Counts))
	for source, n := range snapshot.Counts {
		counts[source.String()] = n
	}
	return counts
}

func (s *Surface) BlockedIPs() []string {
	sources := s.engine.BlockedSources()
	ips := make([]string, len(sources))
	for i, source := range sources {
		ips[i] = source.String()
	}
	return ips
}

// RequestUnblock lifts the block on ip. Unblocking a source that is not
// blocked reports WasBlocked=false and has no side effects. The firewall
// call runs under the surface context, so a caller going away cannot
// interrupt it halfway.
func (s *Surface) RequestUnblock(ip string) (UnblockResult, error) {
	source, ok := model.ParseSource(ip)
	if !ok {
		return UnblockResult{Source: model.SourceIdentifier(ip)}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	ctx, cancel := s.actionContext()
	defer cancel()

	wasBlocked, err := s.engine.Unblock(ctx, source)
	if err != nil {
		return UnblockResult{Source: source, WasBlocked: true}, err
	}
	return UnblockResult{Source: source, WasBlocked: wasBlocked}, nil
}

func (s *Surface) RequestBlock(ip, reason string) (BlockResult, error) {
	source, ok := model.ParseSource(ip)
	if !ok {
		return BlockResult{Source: model.SourceIdentifier(ip)}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	ctx, cancel := s.actionContext()
	defer cancel()

	blocked, err := s.engine.Block(ctx, source, reason)
	if err != nil {
		return BlockResult{Source: source}, err
	}
	return BlockResult{Source: source, AlreadyBlocked: !blocked}, nil
}

// StartCapture starts the capture loop in the background. started is false
// when it was already running.
func (s *Surface) StartCapture() (bool, error) {
	return s.controller.Start(s.base)
}

func (s *Surface) StopCapture() bool {
	return s.controller.Stop()
}

func (s *Surface) CaptureStatus() capture.Status {
	return s.controller.Status()
}

func (s *Surface) Status() Status {
	state := s.engine.State()
	return Status{
		Threshold:     s.engine.Threshold(),
		WindowSeconds: int(s.window / time.Second),
		Backend:       s.engine.Gateway().Name(),
		Traffic:       state.Traffic,
		Capture:       s.controller.Status(),
		Blocked:       state.Blocked,
	}
}
