package detector

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ddos-guard/internal/blocklist"
	"ddos-guard/internal/counter"
	"ddos-guard/internal/enforcement"
	"ddos-guard/internal/metrics"
	"ddos-guard/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TriggerThreshold = "threshold"
	TriggerManual    = "manual"
	TriggerExpiry    = "expiry"
)

// Engine turns the packet stream into block decisions. One packet is one
// Record call, one threshold comparison and at most one block transition.
type Engine struct {
	counter   *counter.WindowedCounter
	registry  *blocklist.Registry
	gateway   enforcement.Gateway
	threshold int
	allowlist []*net.IPNet
	metrics   *metrics.GuardMetrics
	logger    *logrus.Logger
	now       func() time.Time

	// serialises every block/unblock transition, including the
	// record-then-check step of the packet path
	transitionMu sync.Mutex

	// guards counter and registry together so readers never see a source
	// blocked with its count not yet reset. Never held across gateway calls.
	stateMu sync.RWMutex

	mu        sync.RWMutex
	notifiers []NotifierInterface
	events    chan model.Event

	totalPackets   atomic.Int64
	skippedPackets atomic.Int64
}

type NotifierInterface interface {
	SendAlert(event model.Event) error
}

// Decision reports what Process did with one packet.
type Decision struct {
	Source         model.SourceIdentifier
	Count          int
	Tripped        bool
	Blocked        bool
	AlreadyBlocked bool
	Allowlisted    bool
	Err            error
}

func NewEngine(threshold int, c *counter.WindowedCounter, r *blocklist.Registry, gw enforcement.Gateway, logger *logrus.Logger) *Engine {
	return &Engine{
		counter:   c,
		registry:  r,
		gateway:   gw,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		notifiers: make([]NotifierInterface, 0),
		events:    make(chan model.Event, 100),
	}
}

// SetAllowlist installs networks whose sources are counted but never blocked
// automatically.
func (e *Engine) SetAllowlist(nets []*net.IPNet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allowlist = nets
}

func (e *Engine) SetMetrics(m *metrics.GuardMetrics) {
	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
	e.counter.OnReset(func(cleared int) {
		m.RecordWindowReset()
	})
}

func (e *Engine) RegisterNotifier(notifier NotifierInterface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, notifier)
}

// Process counts pkt and blocks its source once the count exceeds the
// threshold. A zero Timestamp means now.
func (e *Engine) Process(ctx context.Context, pkt model.Packet) Decision {
	source := pkt.Source
	decision := Decision{Source: source}
	if source.IP() == nil {
		e.RecordSkipped("invalid_source")
		return decision
	}

	ts := pkt.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	e.transitionMu.Lock()
	defer e.transitionMu.Unlock()

	e.stateMu.Lock()
	decision.Count = e.counter.Record(source, ts)
	e.stateMu.Unlock()
	e.totalPackets.Add(1)

	m := e.getMetrics()
	m.RecordPacket(pkt.Protocol.String())
	m.SetTrackedSources(e.counter.Len())

	if decision.Count <= e.threshold {
		return decision
	}
	decision.Tripped = true

	if e.isAllowlisted(source) {
		decision.Allowlisted = true
		e.logger.Debugf("Source %s exceeded threshold (%d packets) but is allowlisted", source, decision.Count)
		return decision
	}

	if e.registry.Contains(source) {
		decision.AlreadyBlocked = true
		e.resetCount(source)
		e.logger.Debugf("Source %s is already blocked, %d packets counted since the last trip", source, decision.Count)
		return decision
	}

	reason := fmt.Sprintf("%d packets in window exceeded threshold %d", decision.Count, e.threshold)
	res := e.block(ctx, source, decision.Count, TriggerThreshold, reason)
	if err := res.Error(); err != nil {
		// otherwise a broken backend is retried on every packet
		e.resetCount(source)
		decision.Err = err
		return decision
	}
	decision.Blocked = true
	return decision
}

// Block blocks source on request. It returns false when the source was
// already blocked.
func (e *Engine) Block(ctx context.Context, source model.SourceIdentifier, reason string) (bool, error) {
	if source.IP() == nil {
		return false, enforcement.ErrInvalidSource
	}

	e.transitionMu.Lock()
	defer e.transitionMu.Unlock()

	if e.registry.Contains(source) {
		return false, nil
	}
	if reason == "" {
		reason = "manual block"
	}
	res := e.block(ctx, source, e.counter.Count(source), TriggerManual, reason)
	if err := res.Error(); err != nil {
		return false, err
	}
	return true, nil
}

// Unblock lifts the block on source. It returns false, with no side
// effects, when the source was not blocked.
func (e *Engine) Unblock(ctx context.Context, source model.SourceIdentifier) (bool, error) {
	return e.unblock(ctx, source, TriggerManual)
}

// Expire is Unblock issued by the BLOCK_TIME sweeper.
func (e *Engine) Expire(ctx context.Context, source model.SourceIdentifier) (bool, error) {
	return e.unblock(ctx, source, TriggerExpiry)
}

// block must be called with transitionMu held. The registry is only
// updated once the gateway confirmed the action, together with the
// counter reset.
func (e *Engine) block(ctx context.Context, source model.SourceIdentifier, count int, trigger, reason string) enforcement.Result {
	res := e.gateway.Block(ctx, source)
	m := e.getMetrics()
	m.RecordEnforcement(e.gateway.Name(), string(enforcement.ActionBlock), res.Duration, !res.OK())

	if err := res.Error(); err != nil {
		e.logger.Errorf("Failed to block %s: %v", source, err)
		e.EmitEvent(e.newEvent(model.EventEnforcementFailure, model.SeverityHigh, source, count,
			fmt.Sprintf("Failed to block %s: %v", source, res.Err)))
		return res
	}

	e.stateMu.Lock()
	e.registry.AddWithReason(source, reason)
	e.counter.Reset(source)
	e.stateMu.Unlock()
	m.RecordBlock(trigger)
	m.SetBlockedSources(e.registry.Len())

	e.logger.Warnf("Blocked %s via %s (%s)", source, res.Backend, reason)
	e.EmitEvent(e.newEvent(model.EventBlock, model.SeverityCritical, source, count,
		fmt.Sprintf("Blocked %s: %s", source, reason)))
	return res
}

func (e *Engine) unblock(ctx context.Context, source model.SourceIdentifier, trigger string) (bool, error) {
	e.transitionMu.Lock()
	defer e.transitionMu.Unlock()

	if !e.registry.Contains(source) {
		return false, nil
	}

	res := e.gateway.Unblock(ctx, source)
	m := e.getMetrics()
	m.RecordEnforcement(e.gateway.Name(), string(enforcement.ActionUnblock), res.Duration, !res.OK())

	if err := res.Error(); err != nil {
		e.logger.Errorf("Failed to unblock %s: %v", source, err)
		e.EmitEvent(e.newEvent(model.EventEnforcementFailure, model.SeverityHigh, source, 0,
			fmt.Sprintf("Failed to unblock %s: %v", source, res.Err)))
		return false, err
	}

	e.stateMu.Lock()
	e.registry.Remove(source)
	e.stateMu.Unlock()
	m.RecordUnblock(trigger)
	m.SetBlockedSources(e.registry.Len())

	eventType := model.EventUnblock
	message := fmt.Sprintf("Unblocked %s", source)
	if trigger == TriggerExpiry {
		eventType = model.EventAutoUnblock
		message = fmt.Sprintf("Block on %s expired", source)
	}
	e.logger.Infof("%s via %s", message, res.Backend)
	e.EmitEvent(e.newEvent(eventType, model.SeverityLow, source, 0, message))
	return true, nil
}

// EmitEvent queues event on the event channel and fans it out to every
// registered notifier.
func (e *Engine) EmitEvent(event model.Event) {
	e.getMetrics().RecordEvent(event.Severity, string(event.Type))

	select {
	case e.events <- event:
	default:
		e.logger.Error("Event channel is full, dropping event")
	}

	e.mu.RLock()
	notifiers := make([]NotifierInterface, len(e.notifiers))
	copy(notifiers, e.notifiers)
	e.mu.RUnlock()

	if len(notifiers) == 0 {
		return
	}
	// notifiers may do network I/O; keep them off the packet path
	go func() {
		for _, notifier := range notifiers {
			if err := notifier.SendAlert(event); err != nil {
				e.logger.Errorf("Failed to send alert: %v", err)
			}
		}
	}()
}

func (e *Engine) Events() <-chan model.Event {
	return e.events
}

// RecordSkipped counts a captured packet that never reached the counter.
func (e *Engine) RecordSkipped(reason string) {
	e.skippedPackets.Add(1)
	e.getMetrics().RecordSkipped(reason)
}

func (e *Engine) resetCount(source model.SourceIdentifier) {
	e.stateMu.Lock()
	e.counter.Reset(source)
	e.stateMu.Unlock()
}

// State is one consistent view of the window counts and the blocked set.
type State struct {
	Counts  counter.Snapshot
	Blocked []blocklist.Entry
	Traffic model.TrafficStats
}

func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return State{
		Counts:  e.counter.Snapshot(),
		Blocked: e.registry.Entries(),
		Traffic: e.statsLocked(),
	}
}

// PacketCounts returns the current window counts.
func (e *Engine) PacketCounts() counter.Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.counter.Snapshot()
}

// BlockedSources returns the blocked sources in lexical order.
func (e *Engine) BlockedSources() []model.SourceIdentifier {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.registry.List()
}

func (e *Engine) Stats() model.TrafficStats {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() model.TrafficStats {
	return model.TrafficStats{
		TotalPackets:   e.totalPackets.Load(),
		SkippedPackets: e.skippedPackets.Load(),
		TrackedSources: e.counter.Len(),
		BlockedSources: e.registry.Len(),
		WindowStart:    e.counter.WindowStart(),
	}
}

func (e *Engine) Counter() *counter.WindowedCounter {
	return e.counter
}

func (e *Engine) Registry() *blocklist.Registry {
	return e.registry
}

func (e *Engine) Gateway() enforcement.Gateway {
	return e.gateway
}

func (e *Engine) Threshold() int {
	return e.threshold
}

// NewEvent builds an event stamped with a fresh ID and the engine clock.
func (e *Engine) NewEvent(eventType model.EventType, severity string, source model.SourceIdentifier, message string) model.Event {
	return e.newEvent(eventType, severity, source, 0, message)
}

func (e *Engine) newEvent(eventType model.EventType, severity string, source model.SourceIdentifier, count int, message string) model.Event {
	return model.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		Source:    source,
		Count:     count,
		Message:   message,
		Timestamp: e.now(),
	}
}

func (e *Engine) isAllowlisted(source model.SourceIdentifier) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.allowlist) == 0 {
		return false
	}
	ip := source.IP()
	for _, n := range e.allowlist {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (e *Engine) getMetrics() *metrics.GuardMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}
