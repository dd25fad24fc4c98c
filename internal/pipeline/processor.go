package pipeline

import (
	"context"
	"time"

	"ddos-guard/internal/detector"
	"ddos-guard/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Processor receives captured packets, normalizes them and feeds the
// detection engine. Packets without an IP network layer are skipped.
type Processor struct {
	engine *detector.Engine
}

// NewProcessor creates a new processor instance
func NewProcessor(engine *detector.Engine) *Processor {
	return &Processor{
		engine: engine,
	}
}

// Process normalizes packet and hands it to the engine. ok is false when
// the packet was skipped.
func (p *Processor) Process(ctx context.Context, packet gopacket.Packet) (decision detector.Decision, ok bool) {
	if packet == nil {
		return decision, false
	}

	normalized, ok := Normalize(packet)
	if !ok {
		p.engine.RecordSkipped("non_ip")
		return decision, false
	}

	return p.engine.Process(ctx, normalized), true
}

// Normalize extracts the fields detection needs from a decoded packet.
func Normalize(packet gopacket.Packet) (model.Packet, bool) {
	pkt := model.Packet{
		Timestamp: time.Now(),
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			pkt.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			pkt.Length = meta.Length
		}
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		pkt.Source = model.SourceIdentifier(ip.SrcIP.String())
		pkt.Destination = ip.DstIP.String()
	case *layers.IPv6:
		pkt.Source = model.SourceIdentifier(ip.SrcIP.String())
		pkt.Destination = ip.DstIP.String()
	default:
		return pkt, false
	}

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		pkt.Protocol = model.Protocol_TCP
	case packet.Layer(layers.LayerTypeUDP) != nil:
		pkt.Protocol = model.Protocol_UDP
	case packet.Layer(layers.LayerTypeICMPv4) != nil, packet.Layer(layers.LayerTypeICMPv6) != nil:
		pkt.Protocol = model.Protocol_ICMP
	default:
		pkt.Protocol = model.Protocol_UNKNOWN
	}

	return pkt, true
}
