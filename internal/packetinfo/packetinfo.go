// Package packetinfo decodes a captured Ethernet frame into a flat,
// exporter-friendly summary. It favors gopacket's convenience
// NewPacket API over the accounting engine's leaner internal/decoder:
// the secondary sinks built on top of it (NetFlow export, webhook
// forwarding, metadata logging) want human-readable fields, not a raw
// flow key.
package packetinfo

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Info is a flattened summary of one decoded packet.
type Info struct {
	Timestamp  int64 // UnixNano
	SrcMAC     string
	DstMAC     string
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	Protocol   string // "TCP", "UDP", "ICMPv4", "ICMPv6", or ""
	TCPFlags   string // e.g. "SA" for SYN+ACK
	Length     int
	PayloadLen int
	PacketData []byte // application-layer payload, if any
}

// Decoder decodes raw Ethernet frames into Info summaries using
// gopacket's lazy, best-effort layer decoding.
type Decoder struct{}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes data, a raw Ethernet frame captured at tsNano.
func (d *Decoder) Decode(data []byte, tsNano int64) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("packetinfo: empty frame")
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Lazy)
	if err := pkt.ErrorLayer(); err != nil {
		return nil, fmt.Errorf("packetinfo: decode error: %w", err)
	}

	info := &Info{
		Timestamp: tsNano,
		Length:    len(data),
	}

	if ethLayer := pkt.LinkLayer(); ethLayer != nil {
		if eth, ok := ethLayer.(*layers.Ethernet); ok {
			info.SrcMAC = eth.SrcMAC.String()
			info.DstMAC = eth.DstMAC.String()
		}
	}

	switch netLayer := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		info.SrcIP = netLayer.SrcIP.String()
		info.DstIP = netLayer.DstIP.String()
	case *layers.IPv6:
		info.SrcIP = netLayer.SrcIP.String()
		info.DstIP = netLayer.DstIP.String()
	}

	switch transport := pkt.TransportLayer().(type) {
	case *layers.TCP:
		info.Protocol = "TCP"
		info.SrcPort = uint16(transport.SrcPort)
		info.DstPort = uint16(transport.DstPort)
		info.TCPFlags = tcpFlagString(transport)
	case *layers.UDP:
		info.Protocol = "UDP"
		info.SrcPort = uint16(transport.SrcPort)
		info.DstPort = uint16(transport.DstPort)
	}

	if info.Protocol == "" {
		switch pkt.Layer(layers.LayerTypeICMPv4).(type) {
		case *layers.ICMPv4:
			info.Protocol = "ICMPv4"
		}
		switch pkt.Layer(layers.LayerTypeICMPv6).(type) {
		case *layers.ICMPv6:
			info.Protocol = "ICMPv6"
		}
	}

	if appLayer := pkt.ApplicationLayer(); appLayer != nil {
		info.PacketData = appLayer.Payload()
		info.PayloadLen = len(info.PacketData)
	}

	return info, nil
}

func tcpFlagString(tcp *layers.TCP) string {
	s := ""
	if tcp.FIN {
		s += "F"
	}
	if tcp.SYN {
		s += "S"
	}
	if tcp.RST {
		s += "R"
	}
	if tcp.PSH {
		s += "P"
	}
	if tcp.ACK {
		s += "A"
	}
	if tcp.URG {
		s += "U"
	}
	return s
}
