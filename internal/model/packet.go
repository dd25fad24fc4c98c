package model

import (
	"net"
	"time"
)

// SourceIdentifier identifies a traffic origin. It holds the canonical
// textual form of an IP address and is the key for all per-source state.
type SourceIdentifier string

func (s SourceIdentifier) String() string {
	return string(s)
}

// ParseSource validates raw and returns its canonical SourceIdentifier.
func ParseSource(raw string) (SourceIdentifier, bool) {
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", false
	}
	return SourceIdentifier(ip.String()), true
}

// IP returns the parsed address, nil if the identifier is not an IP.
func (s SourceIdentifier) IP() net.IP {
	return net.ParseIP(string(s))
}

// Packet represents one decoded network-layer packet
type Packet struct {
	Source      SourceIdentifier `json:"source"`
	Destination string           `json:"destination,omitempty"`
	Protocol    Protocol         `json:"protocol"`
	Length      int              `json:"length"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Protocol represents the transport protocol of a packet
type Protocol int32

const (
	Protocol_UNKNOWN Protocol = 0
	Protocol_TCP     Protocol = 1
	Protocol_UDP     Protocol = 2
	Protocol_ICMP    Protocol = 3
)

func (p Protocol) String() string {
	switch p {
	case Protocol_TCP:
		return "TCP"
	case Protocol_UDP:
		return "UDP"
	case Protocol_ICMP:
		return "ICMP"
	default:
		return "UNKNOWN"
	}
}
