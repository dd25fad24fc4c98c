package capture

import (
	"fmt"
	"net"
	"time"

	"ddos-guard/internal/utils"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Source yields captured packets. NextPacket returns
// pcap.NextErrorTimeoutExpired when no packet arrived within the read
// timeout and io.EOF at the end of an offline capture.
type Source interface {
	NextPacket() (gopacket.Packet, error)
	Close()
}

type pcapSource struct {
	handle  *pcap.Handle
	packets *gopacket.PacketSource
}

func newPcapSource(handle *pcap.Handle) *pcapSource {
	return &pcapSource{
		handle:  handle,
		packets: gopacket.NewPacketSource(handle, handle.LinkType()),
	}
}

func (s *pcapSource) NextPacket() (gopacket.Packet, error) {
	return s.packets.NextPacket()
}

func (s *pcapSource) Close() {
	s.handle.Close()
}

// OpenLive opens iface for live capture. readTimeout bounds how long a read
// may block, so cancellation is observed even on an idle link.
func OpenLive(iface string, snaplen int, promisc bool, readTimeout time.Duration, bpf string) (Source, error) {
	if err := ValidateInterface(iface); err != nil {
		return nil, err
	}

	handle, err := pcap.OpenLive(iface, int32(snaplen), promisc, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %v", iface, err)
	}
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %v", bpf, err)
		}
	}
	return newPcapSource(handle), nil
}

// OpenOffline replays a pcap file.
func OpenOffline(path, bpf string) (Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %v", path, err)
	}
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %v", bpf, err)
		}
	}
	return newPcapSource(handle), nil
}

// ValidateInterface checks that iface exists on this host.
func ValidateInterface(iface string) error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, i := range interfaces {
		if i.Name == iface {
			return nil
		}
	}
	return fmt.Errorf("interface %s not found", iface)
}

// SourceFactory opens a fresh Source for every capture run.
type SourceFactory func() (Source, error)

// FactoryFromConfig replays capture.pcap_file when set, otherwise captures
// live on capture.interface.
func FactoryFromConfig(cfg utils.CaptureYAMLConfig) SourceFactory {
	return func() (Source, error) {
		if cfg.PcapFile != "" {
			return OpenOffline(cfg.PcapFile, cfg.BPFFilter)
		}
		readTimeout := time.Duration(cfg.ReadTimeoutMs) * time.Millisecond
		return OpenLive(cfg.Interface, cfg.Snaplen, cfg.Promiscuous, readTimeout, cfg.BPFFilter)
	}
}
