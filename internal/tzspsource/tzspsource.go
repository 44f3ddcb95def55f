// Package tzspsource implements a capture.Source that receives TZSP
// encapsulated packets over UDP.
package tzspsource

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/obsrvbl/pnaflowd/internal/capture"
	"github.com/obsrvbl/pnaflowd/internal/tzsp"
)

// ethHeaderLen is the visible Ethernet header stripped from the
// captured frame length to approximate the IP-layer length the engine
// wants; the fixed wire overhead (preamble, FCS, interframe gap) is
// added back in separately by the flow table.
const ethHeaderLen = 14

// Logger is the minimal logging surface Source needs.
type Logger interface {
	Info(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{}) {}

// Source receives TZSP packets over UDP and unwraps them into
// capture.Frames.
type Source struct {
	listenAddr string
	bufferSize int
	log        Logger

	decoder *tzsp.Decoder
	conn    *net.UDPConn

	received uint64
}

// Config configures a Source.
type Config struct {
	ListenAddr string
	BufferSize int
	Logger     Logger
}

// New builds a TZSP capture.Source.
func New(cfg Config) *Source {
	log := cfg.Logger
	if log == nil {
		log = nopLogger{}
	}
	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = 65536
	}
	return &Source{
		listenAddr: cfg.ListenAddr,
		bufferSize: bufferSize,
		log:        log,
		decoder:    tzsp.NewDecoder(),
	}
}

// Run opens the UDP socket and delivers frames to handle until ctx is
// cancelled or Stop is called.
func (s *Source) Run(ctx context.Context, handle func(capture.Frame)) error {
	addr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("tzspsource: resolve %s: %w", s.listenAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("tzspsource: listen on %s: %w", s.listenAddr, err)
	}
	s.conn = conn
	s.log.Info("tzsp listener started", "address", addr.String())

	return s.runLoop(ctx, handle)
}

// runLoop runs the receive loop against an already-open s.conn. Split
// out from Run so tests can supply a socket bound to an ephemeral
// port without racing Run's own bind.
func (s *Source) runLoop(ctx context.Context, handle func(capture.Frame)) error {
	buf := make([]byte, s.bufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remoteAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("tzsp read error", "error", err)
			continue
		}

		s.received++
		if s.received == 1 {
			s.log.Info("first tzsp packet received", "source", remoteAddr.String(), "size", n)
		}

		frame, ok := s.decode(buf[:n], remoteAddr.String())
		if !ok {
			continue
		}
		handle(frame)
	}
}

// Stop closes the UDP socket, unblocking Run.
func (s *Source) Stop() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Source) decode(data []byte, sourceAddr string) (capture.Frame, bool) {
	pkt, err := s.decoder.Decode(data, sourceAddr)
	if err != nil {
		s.log.Debug("tzsp decode error", "error", err, "source", sourceAddr)
		return capture.Frame{}, false
	}
	if len(pkt.EncapPacket) == 0 {
		return capture.Frame{}, false
	}

	ts := pkt.ReceivedTime
	if wireTs := pkt.GetTimestamp(); wireTs != nil {
		ts = *wireTs
	}

	length := uint32(len(pkt.EncapPacket))
	if wireLen, ok := pkt.GetPacketLen(); ok && wireLen > 0 {
		length = wireLen
	}
	if length > ethHeaderLen {
		length -= ethHeaderLen
	} else {
		length = 0
	}

	return capture.Frame{
		Data:       pkt.EncapPacket,
		IPFrameLen: length,
		Timestamp:  ts,
	}, true
}
