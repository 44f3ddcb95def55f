// Package netflow exports decoded packets to a NetFlow v5 collector.
// It is a secondary sink: it runs off packetinfo.Info, independent of
// the primary flow-accounting pipeline in internal/flowtable.
package netflow

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/obsrvbl/pnaflowd/internal/packetinfo"
)

// Exporter aggregates packets into flows and periodically emits them
// as NetFlow v5 records.
type Exporter struct {
	collectorAddr string
	version       int
	flowTimeout   time.Duration
	activeTimeout time.Duration
	conn          *net.UDPConn
	flows         map[string]*Flow
	mu            sync.Mutex
	sequenceNum   uint32
	stopCh        chan struct{}
}

// Flow is one aggregated NetFlow v5 flow record in progress.
type Flow struct {
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	FirstSeen time.Time
	LastSeen  time.Time
	Packets   uint32
	Bytes     uint32
	TCPFlags  uint8
}

// NewExporter dials the collector and starts the flow-expiration loop.
func NewExporter(collectorAddr string, version int, flowTimeout, activeTimeout int) (*Exporter, error) {
	addr, err := net.ResolveUDPAddr("udp", collectorAddr)
	if err != nil {
		return nil, fmt.Errorf("netflow: resolve collector address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("netflow: connect to collector: %w", err)
	}

	e := &Exporter{
		collectorAddr: collectorAddr,
		version:       version,
		flowTimeout:   time.Duration(flowTimeout) * time.Second,
		activeTimeout: time.Duration(activeTimeout) * time.Second,
		conn:          conn,
		flows:         make(map[string]*Flow),
		stopCh:        make(chan struct{}),
	}

	go e.expireFlows()

	return e, nil
}

// ProcessPacket folds one decoded packet into its flow, exporting
// immediately if the flow's active timeout has elapsed.
func (e *Exporter) ProcessPacket(info *packetinfo.Info) error {
	if info.SrcIP == "" || info.DstIP == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	flowKey := e.makeFlowKey(info)

	flow, exists := e.flows[flowKey]
	if !exists {
		flow = &Flow{
			SrcIP:     net.ParseIP(info.SrcIP),
			DstIP:     net.ParseIP(info.DstIP),
			SrcPort:   info.SrcPort,
			DstPort:   info.DstPort,
			Protocol:  protocolNumber(info.Protocol),
			FirstSeen: time.Unix(0, info.Timestamp),
			LastSeen:  time.Unix(0, info.Timestamp),
		}
		e.flows[flowKey] = flow
	}

	flow.LastSeen = time.Unix(0, info.Timestamp)
	flow.Packets++
	flow.Bytes += uint32(info.Length)
	flow.TCPFlags |= parseTCPFlags(info.TCPFlags)

	if time.Since(flow.FirstSeen) >= e.activeTimeout {
		e.exportFlow(flow)
		delete(e.flows, flowKey)
	}

	return nil
}

// Close exports every pending flow and closes the collector socket.
func (e *Exporter) Close() error {
	close(e.stopCh)

	e.mu.Lock()
	defer e.mu.Unlock()

	for key, flow := range e.flows {
		e.exportFlow(flow)
		delete(e.flows, key)
	}

	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *Exporter) makeFlowKey(info *packetinfo.Info) string {
	return fmt.Sprintf("%s:%d-%s:%d-%s",
		info.SrcIP, info.SrcPort,
		info.DstIP, info.DstPort,
		info.Protocol)
}

func protocolNumber(protocol string) uint8 {
	switch protocol {
	case "TCP":
		return 6
	case "UDP":
		return 17
	case "ICMPv4":
		return 1
	case "ICMPv6":
		return 58
	default:
		return 0
	}
}

func parseTCPFlags(flags string) uint8 {
	var result uint8
	for _, c := range flags {
		switch c {
		case 'F':
			result |= 0x01
		case 'S':
			result |= 0x02
		case 'R':
			result |= 0x04
		case 'P':
			result |= 0x08
		case 'A':
			result |= 0x10
		case 'U':
			result |= 0x20
		}
	}
	return result
}

// exportFlow serializes and sends one NetFlow v5 UDP datagram
// containing a single flow record. Only v5 is implemented.
func (e *Exporter) exportFlow(flow *Flow) error {
	if e.version != 5 {
		return nil
	}

	buf := make([]byte, 72)

	binary.BigEndian.PutUint16(buf[0:2], 5)
	binary.BigEndian.PutUint16(buf[2:4], 1)
	binary.BigEndian.PutUint32(buf[4:8], uint32(time.Now().Unix()*1000))
	binary.BigEndian.PutUint32(buf[8:12], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint32(buf[12:16], uint32(time.Now().Nanosecond()))
	e.sequenceNum++
	binary.BigEndian.PutUint32(buf[16:20], e.sequenceNum)

	offset := 24
	copy(buf[offset:offset+4], flow.SrcIP.To4())
	copy(buf[offset+4:offset+8], flow.DstIP.To4())
	binary.BigEndian.PutUint16(buf[offset+12:offset+14], 0)
	binary.BigEndian.PutUint16(buf[offset+14:offset+16], 0)
	binary.BigEndian.PutUint32(buf[offset+16:offset+20], flow.Packets)
	binary.BigEndian.PutUint32(buf[offset+20:offset+24], flow.Bytes)
	binary.BigEndian.PutUint32(buf[offset+24:offset+28], uint32(flow.FirstSeen.Unix()))
	binary.BigEndian.PutUint32(buf[offset+28:offset+32], uint32(flow.LastSeen.Unix()))
	binary.BigEndian.PutUint16(buf[offset+32:offset+34], flow.SrcPort)
	binary.BigEndian.PutUint16(buf[offset+34:offset+36], flow.DstPort)
	buf[offset+36] = 0
	buf[offset+37] = flow.TCPFlags
	buf[offset+38] = flow.Protocol
	buf[offset+39] = 0

	_, err := e.conn.Write(buf)
	return err
}

// expireFlows periodically flushes flows idle past flowTimeout.
func (e *Exporter) expireFlows() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			now := time.Now()
			for key, flow := range e.flows {
				if now.Sub(flow.LastSeen) >= e.flowTimeout {
					e.exportFlow(flow)
					delete(e.flows, key)
				}
			}
			e.mu.Unlock()
		}
	}
}
