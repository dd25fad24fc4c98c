package pipeline

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"ddos-guard/internal/blocklist"
	"ddos-guard/internal/counter"
	"ddos-guard/internal/detector"
	"ddos-guard/internal/enforcement"
	"ddos-guard/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

func decode(t *testing.T, data []byte, ts time.Time) gopacket.Packet {
	t.Helper()
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().Timestamp = ts
	packet.Metadata().Length = len(data)
	packet.Metadata().CaptureLength = len(data)
	return packet
}

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, l...))
	return buf.Bytes()
}

func tcpV4(t *testing.T, src string) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP("10.0.0.254")}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp, gopacket.Payload([]byte("x")))
}

func udpV6(t *testing.T, src string) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP("2001:db8::fe")}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, udp, gopacket.Payload([]byte("q")))
}

func arp(t *testing.T) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: net.ParseIP("10.0.0.1").To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.ParseIP("10.0.0.2").To4(),
	}
	return serialize(t, eth, a)
}

func TestNormalize_IPv4TCP(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	pkt, ok := Normalize(decode(t, tcpV4(t, "10.0.0.1"), ts))

	require.True(t, ok)
	assert.Equal(t, model.SourceIdentifier("10.0.0.1"), pkt.Source)
	assert.Equal(t, "10.0.0.254", pkt.Destination)
	assert.Equal(t, model.Protocol_TCP, pkt.Protocol)
	assert.Equal(t, ts, pkt.Timestamp)
	assert.Greater(t, pkt.Length, 0)
}

func TestNormalize_IPv6UDP(t *testing.T) {
	pkt, ok := Normalize(decode(t, udpV6(t, "2001:db8::1"), time.Now()))

	require.True(t, ok)
	assert.Equal(t, model.SourceIdentifier("2001:db8::1"), pkt.Source)
	assert.Equal(t, model.Protocol_UDP, pkt.Protocol)
}

func TestNormalize_SkipsNonIP(t *testing.T) {
	_, ok := Normalize(decode(t, arp(t), time.Now()))
	assert.False(t, ok)

	_, ok = Normalize(decode(t, []byte{0x01, 0x02}, time.Now()))
	assert.False(t, ok)
}

func TestProcessor_FeedsEngine(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	engine := detector.NewEngine(2, counter.New(time.Minute), blocklist.NewRegistry(), enforcement.NewNoopGateway(logger), logger)
	p := NewProcessor(engine)
	ctx := context.Background()
	ts := time.Now()

	for i := 0; i < 3; i++ {
		_, ok := p.Process(ctx, decode(t, tcpV4(t, "192.0.2.10"), ts))
		assert.True(t, ok)
	}
	_, ok := p.Process(ctx, decode(t, arp(t), ts))
	assert.False(t, ok)

	assert.True(t, engine.Registry().Contains("192.0.2.10"))
	stats := engine.Stats()
	assert.Equal(t, int64(3), stats.TotalPackets)
	assert.Equal(t, int64(1), stats.SkippedPackets)
}
