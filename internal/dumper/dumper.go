// Package dumper writes a Table's flow entries to the compact binary
// log format consumed downstream: a 16-byte header followed by
// fixed-size 48-byte records, one per live flow.
package dumper

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/obsrvbl/pnaflowd/internal/flowtable"
)

const (
	magic0, magic1, magic2 = 'P', 'N', 'A'
	logVersion             = 2

	headerSize = 16
	recordSize = 48

	// scratchSize caps how much is buffered in memory before a write
	// syscall is issued, matching the original's 1 MiB staging buffer.
	scratchSize = 1 << 20
)

// Dumper writes flow tables to timestamped files under dir.
type Dumper struct {
	dir        string
	sourceName string
}

// New returns a Dumper that writes into dir, naming files after
// sourceName (typically the capture source's identity, e.g. a sensor
// or interface name).
func New(dir, sourceName string) *Dumper {
	return &Dumper{dir: dir, sourceName: sourceName}
}

// pathFor computes the output path for a dump of table tableID started
// at startTime.
func (d *Dumper) pathFor(tableID int, startTime time.Time) string {
	name := fmt.Sprintf("pna-%s-%s.t%d.log",
		startTime.Add(-time.Second).Format("20060102150405"), d.sourceName, tableID)
	return filepath.Join(d.dir, name)
}

// Dump writes every live entry in t to a new file and returns its path.
//
// The filename timestamp is taken as "now minus one second" rather
// than the table's own FirstSec. That is an intentionally preserved
// quirk: it makes the file's name slightly understate when the table
// actually opened, but changing it would shift every downstream
// consumer's expectation of what the timestamp in the name means, for
// a cosmetic one-second skew that has never mattered in practice.
func (d *Dumper) Dump(t *flowtable.Table) (string, error) {
	return d.dumpAt(t, time.Now().UTC())
}

func (d *Dumper) dumpAt(t *flowtable.Table, startTime time.Time) (string, error) {
	path := d.pathFor(t.ID, startTime)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0664)
	if err != nil {
		return "", fmt.Errorf("dumper: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(headerSize, 0); err != nil {
		return "", fmt.Errorf("dumper: seek past header: %w", err)
	}

	nflows, err := writeRecords(f, t.Entries())
	if err != nil {
		return "", fmt.Errorf("dumper: write records: %w", err)
	}

	endTime := time.Now().UTC()
	hdr := make([]byte, headerSize)
	hdr[0], hdr[1], hdr[2] = magic0, magic1, magic2
	hdr[3] = logVersion
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(startTime.Unix()))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(endTime.Unix()))
	binary.LittleEndian.PutUint32(hdr[12:16], nflows*recordSize)

	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("dumper: seek to header: %w", err)
	}
	if _, err := f.Write(hdr); err != nil {
		return "", fmt.Errorf("dumper: write header: %w", err)
	}

	return path, nil
}

func writeRecords(f *os.File, entries []flowtable.Entry) (uint32, error) {
	buf := make([]byte, 0, scratchSize)
	var nflows uint32

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := f.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	for i := range entries {
		e := &entries[i]
		if e.Key == flowtable.NullKey {
			continue
		}

		var rec [recordSize]byte
		binary.LittleEndian.PutUint32(rec[0:4], e.Key.LocalIP)
		binary.LittleEndian.PutUint32(rec[4:8], e.Key.RemoteIP)
		binary.LittleEndian.PutUint16(rec[8:10], e.Key.LocalPort)
		binary.LittleEndian.PutUint16(rec[10:12], e.Key.RemotePort)
		binary.LittleEndian.PutUint16(rec[12:14], e.Key.LocalDomain)
		binary.LittleEndian.PutUint16(rec[14:16], e.Key.RemoteDomain)
		binary.LittleEndian.PutUint32(rec[16:20], e.Data.Packets[flowtable.DirOutbound])
		binary.LittleEndian.PutUint32(rec[20:24], e.Data.Packets[flowtable.DirInbound])
		binary.LittleEndian.PutUint32(rec[24:28], e.Data.Bytes[flowtable.DirOutbound])
		binary.LittleEndian.PutUint32(rec[28:32], e.Data.Bytes[flowtable.DirInbound])
		binary.LittleEndian.PutUint16(rec[32:34], e.Data.Flags[flowtable.DirOutbound])
		binary.LittleEndian.PutUint16(rec[34:36], e.Data.Flags[flowtable.DirInbound])
		binary.LittleEndian.PutUint32(rec[36:40], e.Data.FirstTstamp)
		binary.LittleEndian.PutUint32(rec[40:44], e.Data.LastTstamp)
		rec[44] = e.Key.L4Protocol
		rec[45] = e.Data.FirstDir
		// rec[46:48] is padding, left zero.

		buf = append(buf, rec[:]...)
		nflows++

		if len(buf)+recordSize > scratchSize {
			if err := flush(); err != nil {
				return nflows, err
			}
		}
	}

	return nflows, flush()
}
