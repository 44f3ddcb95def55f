// Package pcapmirror writes a rotating PCAP copy of every frame the
// capture source accepts, independent of flow accounting.
package pcapmirror

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/obsrvbl/pnaflowd/internal/capture"
)

// Writer mirrors captured frames to a size- and backup-bounded PCAP
// file.
type Writer struct {
	filename   string
	maxSizeMB  int
	maxBackups int

	mu           sync.Mutex
	file         *os.File
	writer       *pcapgo.Writer
	bytesWritten int64
}

// NewWriter creates the PCAP file and opens it for writing. When
// maxBackups > 0 an existing file is first rotated into a backup;
// otherwise an existing file is truncated.
func NewWriter(filename string, maxSizeMB, maxBackups int) (*Writer, error) {
	w := &Writer{filename: filename, maxSizeMB: maxSizeMB, maxBackups: maxBackups}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteFrame mirrors one captured frame.
func (w *Writer) WriteFrame(frame capture.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSizeMB > 0 && w.bytesWritten > int64(w.maxSizeMB)*1024*1024 {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("pcapmirror: rotate: %w", err)
		}
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     frame.Timestamp,
		CaptureLength: len(frame.Data),
		Length:        len(frame.Data),
	}
	if err := w.writer.WritePacket(ci, frame.Data); err != nil {
		return fmt.Errorf("pcapmirror: write packet: %w", err)
	}

	w.bytesWritten += int64(len(frame.Data))
	return nil
}

// Close closes the active PCAP file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *Writer) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	if w.maxBackups > 0 {
		for i := w.maxBackups - 1; i >= 0; i-- {
			oldName := w.backupName(i)
			newName := w.backupName(i + 1)
			if _, err := os.Stat(oldName); err == nil {
				if i == w.maxBackups-1 {
					os.Remove(oldName)
				} else {
					os.Rename(oldName, newName)
				}
			}
		}
		if _, err := os.Stat(w.filename); err == nil {
			os.Rename(w.filename, w.backupName(0))
		}
	}

	f, err := os.Create(w.filename)
	if err != nil {
		return fmt.Errorf("pcapmirror: create %s: %w", w.filename, err)
	}

	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("pcapmirror: write file header: %w", err)
	}

	w.file = f
	w.writer = writer
	w.bytesWritten = 0
	return nil
}

func (w *Writer) backupName(index int) string {
	if index == 0 {
		return w.filename + ".1"
	}
	return fmt.Sprintf("%s.%d", w.filename, index+1)
}
