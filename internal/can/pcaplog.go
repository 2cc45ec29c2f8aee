package can

import (
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTypeBridge is the pcap link type of bridge capture files (DLT_USER0).
// Each packet is one frame in the MarshalFrame layout.
const LinkTypeBridge layers.LinkType = 147

const frameWireLen = 16

// LogWriter appends frames to a pcap capture.
type LogWriter struct {
	w *pcapgo.Writer
}

// NewLogWriter writes the capture file header to w.
func NewLogWriter(w io.Writer) (*LogWriter, error) {
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(frameWireLen, LinkTypeBridge); err != nil {
		return nil, fmt.Errorf("can: write capture header: %w", err)
	}
	return &LogWriter{w: pw}, nil
}

// WriteBatch appends every frame of b.
func (l *LogWriter) WriteBatch(b Batch) error {
	for _, f := range b.Frames {
		if err := l.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// WriteFrame appends one frame.
func (l *LogWriter) WriteFrame(f Frame) error {
	data, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, int64(f.Timestamp)),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return l.w.WritePacket(ci, data)
}

// LogReader reads frames back from a capture written by LogWriter.
type LogReader struct {
	r *pcapgo.Reader
}

// NewLogReader validates the capture header.
func NewLogReader(r io.Reader) (*LogReader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("can: read capture header: %w", err)
	}
	if lt := pr.LinkType(); lt != LinkTypeBridge {
		return nil, fmt.Errorf("can: unsupported capture link type %d", lt)
	}
	return &LogReader{r: pr}, nil
}

// Next returns the next frame, or io.EOF at the end of the capture.
func (l *LogReader) Next() (Frame, error) {
	data, ci, err := l.r.ReadPacketData()
	if err != nil {
		return Frame{}, err
	}
	return UnmarshalFrame(data, uint64(ci.Timestamp.UnixNano()))
}
