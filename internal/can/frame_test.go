package can

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		want error
	}{
		{"std", Frame{Address: 0x180, Data: []byte{1, 2}}, nil},
		{"ext", Frame{Address: 0x18DAF110, Data: make([]byte, 8)}, nil},
		{"too long", Frame{Address: 0x180, Data: make([]byte, 9)}, ErrInvalidLen},
		{"id overflow", Frame{Address: 0x20000000}, ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.f.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMarshalFrameKeepsBus(t *testing.T) {
	in := Frame{Bus: 2, Address: 0x2CB, Data: []byte{0xde, 0xad, 0xbe, 0xef}, Timestamp: 42}
	b, err := MarshalFrame(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != frameWireLen {
		t.Fatalf("wire length %d, want %d", len(b), frameWireLen)
	}
	out, err := UnmarshalFrame(b, 42)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestExtendedAddressSurvivesWire(t *testing.T) {
	in := Frame{Bus: 1, Address: 0x18DAF110, Data: []byte{0x02, 0x10, 0x03}}
	wf, err := ToWire(in)
	if err != nil {
		t.Fatal(err)
	}
	if wf.ID&canEffFlag == 0 {
		t.Error("extended flag not set")
	}
	out, ok := FromWire(1, wf, 0)
	if !ok || out.Address != in.Address {
		t.Errorf("FromWire = %v, %v", out, ok)
	}
}

func TestFromWireDropsErrorFrames(t *testing.T) {
	wf, _ := ToWire(Frame{Address: 0x10})
	wf.ID |= canErrFlag
	if _, ok := FromWire(0, wf, 0); ok {
		t.Error("error frame should be rejected")
	}
}

func TestLoopbackBus(t *testing.T) {
	f := Frame{Bus: LoopbackBus(0)}
	if !f.Loopback() || f.Bus != 128 {
		t.Errorf("loopback bus = %d", f.Bus)
	}
}

func TestLogRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewLogWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	batch := Batch{Frames: []Frame{
		{Bus: 0, Address: 0x348, Data: []byte{0, 1, 0, 2}, Timestamp: 1_000_000_123},
		{Bus: 2, Address: 0x1E1, Data: []byte{7}, Timestamp: 1_010_000_000},
	}}
	if err := w.WriteBatch(batch); err != nil {
		t.Fatal(err)
	}

	r, err := NewLogReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var got []Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, f)
	}
	if diff := cmp.Diff(batch.Frames, got); diff != "" {
		t.Errorf("replayed frames mismatch (-want +got):\n%s", diff)
	}
}
