// Package decoder implements the accounting core's packet decode: an
// exact state machine over Ethernet, stacked VLAN tags, recursive GRE
// encapsulation and the IPv4 transports the engine accounts for. It is
// intentionally narrower than github.com/google/gopacket's own
// NewPacket convenience decode (see internal/packetinfo for that):
// depth bounds, fragment port recovery and the ICMP port convention below
// all need exact control that a generic layer stack doesn't give.
package decoder

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/obsrvbl/pnaflowd/internal/flowtable"
	"github.com/obsrvbl/pnaflowd/internal/fragcache"
)

// maxDepth bounds the total number of VLAN-unwrap and GRE-recursion
// steps a single packet may take, combined. It exists to bound
// processing time on pathological or malicious encapsulation nesting.
const maxDepth = 8

// TCP flag bit positions within the 16-bit flags value a flow entry
// accumulates. Only the low 9 bits used by TCP are ever set; the
// layout otherwise matches the order gopacket exposes them in.
const (
	flagFIN = 1 << iota
	flagSYN
	flagRST
	flagPSH
	flagACK
	flagURG
	flagECE
	flagCWR
	flagNS
)

// Decoder turns a captured frame into a flow key and direction-neutral
// flag bits, or rejects it. It owns a fragment cache and must not be
// shared across goroutines.
type Decoder struct {
	frags *fragcache.Cache
}

// New returns a Decoder with a fresh fragment cache.
func New() *Decoder {
	return &Decoder{frags: fragcache.New()}
}

// Result is what a successful Decode call produces.
type Result struct {
	Key   flowtable.Key
	Flags uint16
}

// Decode parses a raw Ethernet frame and returns the flow key plus any
// TCP flags observed. Byte accounting does not use data's length; the
// engine takes the IP-layer length from the capture.Frame instead.
// ok is false for anything the accounting core does not track:
// malformed input, unsupported ethertypes, excessive encapsulation
// depth or unsupported L4 protocols.
func (d *Decoder) Decode(data []byte) (Result, bool) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return Result{}, false
	}

	etherType := eth.EthernetType
	payload := eth.LayerPayload()
	depth := 0

	for etherType == layers.EthernetTypeDot1Q && depth < maxDepth {
		var vlan layers.Dot1Q
		if err := vlan.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return Result{}, false
		}
		etherType = vlan.Type
		payload = vlan.LayerPayload()
		depth++
	}
	if etherType == layers.EthernetTypeDot1Q {
		return Result{}, false
	}

	if etherType != layers.EthernetTypeIPv4 {
		return Result{}, false
	}

	var key flowtable.Key
	var ip layers.IPv4

	for {
		if err := ip.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return Result{}, false
		}
		key.L3Protocol = uint16(layers.EthernetTypeIPv4)
		key.L4Protocol = uint8(ip.Protocol)
		key.LocalIP = be32(ip.SrcIP)
		key.RemoteIP = be32(ip.DstIP)
		l4payload := ip.LayerPayload()

		if ip.Protocol != layers.IPProtocolGRE {
			break
		}

		depth++
		if depth > maxDepth {
			return Result{}, false
		}

		var gre layers.GRE
		if err := gre.DecodeFromBytes(l4payload, gopacket.NilDecodeFeedback); err != nil {
			return Result{}, false
		}
		if gre.RoutingPresent {
			return Result{}, false
		}

		etherType = gre.Protocol
		if etherType != layers.EthernetTypeIPv4 {
			return Result{}, false
		}
		payload = gre.LayerPayload()
	}

	flags, ok := d.decodeTransport(&ip, key.L4Protocol, ip.LayerPayload(), &key)
	if !ok {
		return Result{}, false
	}
	return Result{Key: key, Flags: flags}, true
}

func (d *Decoder) decodeTransport(ip *layers.IPv4, proto uint8, payload []byte, key *flowtable.Key) (uint16, bool) {
	fragmented := ip.FragOffset != 0

	switch layers.IPProtocol(proto) {
	case layers.IPProtocolTCP:
		if fragmented {
			return 0, false
		}
		var tcp layers.TCP
		if err := tcp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return 0, false
		}
		key.LocalPort = uint16(tcp.SrcPort)
		key.RemotePort = uint16(tcp.DstPort)
		return tcpFlags(&tcp), true

	case layers.IPProtocolUDP:
		if fragmented {
			fp := fragcache.Fingerprint(key.LocalIP, key.RemoteIP, proto, ip.Id)
			local, remote, ok := d.frags.Lookup(fp)
			if !ok {
				return 0, false
			}
			key.LocalPort = local
			key.RemotePort = remote
			return 0, true
		}

		var udp layers.UDP
		if err := udp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return 0, false
		}
		key.LocalPort = uint16(udp.SrcPort)
		key.RemotePort = uint16(udp.DstPort)
		if ip.Flags&layers.IPv4MoreFragments != 0 {
			fp := fragcache.Fingerprint(key.LocalIP, key.RemoteIP, proto, ip.Id)
			d.frags.Insert(fp, key.LocalPort, key.RemotePort)
		}
		return 0, true

	case layers.IPProtocolSCTP:
		if fragmented {
			return 0, false
		}
		var sctp layers.SCTP
		if err := sctp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return 0, false
		}
		key.LocalPort = uint16(sctp.SrcPort)
		key.RemotePort = uint16(sctp.DstPort)
		return 0, true

	case layers.IPProtocolICMPv4:
		if fragmented {
			return 0, false
		}
		var icmp layers.ICMPv4
		if err := icmp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return 0, false
		}
		key.LocalPort = 0
		key.RemotePort = uint16(icmp.TypeCode.Type())<<8 | uint16(icmp.TypeCode.Code())
		return 0, true

	default:
		return 0, false
	}
}

func tcpFlags(tcp *layers.TCP) uint16 {
	var f uint16
	if tcp.FIN {
		f |= flagFIN
	}
	if tcp.SYN {
		f |= flagSYN
	}
	if tcp.RST {
		f |= flagRST
	}
	if tcp.PSH {
		f |= flagPSH
	}
	if tcp.ACK {
		f |= flagACK
	}
	if tcp.URG {
		f |= flagURG
	}
	if tcp.ECE {
		f |= flagECE
	}
	if tcp.CWR {
		f |= flagCWR
	}
	if tcp.NS {
		f |= flagNS
	}
	return f
}

func be32(ip interface{ To4() []byte }) uint32 {
	b := ip.To4()
	if b == nil {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
