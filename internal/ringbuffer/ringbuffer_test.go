package ringbuffer

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func newTestBuffer(t *testing.T, capacitySeconds float64) *RingBuffer {
	t.Helper()
	name := fmt.Sprintf("rbtest-%s", uuid.NewString())
	shape := Shape{Width: 4, Height: 4, Channels: 3}
	rb, err := Open(name, shape, 1.0, capacitySeconds, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rb.Unlink() })
	return rb
}

func frameOf(b byte, size int) []byte {
	f := make([]byte, size)
	for i := range f {
		f[i] = b
	}
	return f
}

func TestWritePeekRoundTrip(t *testing.T) {
	rb := newTestBuffer(t, 10)
	frame := frameOf(7, int(rb.shape.frameSize()))
	if err := rb.Write(frame, 123.456); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ts, err := rb.PeekWithTimestamp(-1)
	if err != nil {
		t.Fatalf("PeekWithTimestamp: %v", err)
	}
	if ts != 123.456 {
		t.Fatalf("timestamp = %v, want 123.456", ts)
	}
	if string(got) != string(frame) {
		t.Fatalf("frame bytes did not round-trip")
	}
}

func TestShapeMismatch(t *testing.T) {
	rb := newTestBuffer(t, 10)
	if err := rb.Write([]byte{1, 2, 3}, 1.0); err != ErrShapeMismatch {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
	if rb.Count() != 0 {
		t.Fatalf("count = %d, want 0 after failed write", rb.Count())
	}
}

func TestOverflowRetainsCapacityNewest(t *testing.T) {
	rb := newTestBuffer(t, 3) // capacity 3
	size := int(rb.shape.frameSize())
	for i := 0; i < 5; i++ {
		if err := rb.Write(frameOf(byte(i), size), float64(i)); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	if got := rb.Count(); got != 3 {
		t.Fatalf("count = %d, want min(5,3)=3", got)
	}
	// oldest retained should be the (N-C+1)=3rd write, timestamp 2.
	_, ts, err := rb.PeekWithTimestamp(0)
	if err != nil {
		t.Fatalf("PeekWithTimestamp(0): %v", err)
	}
	if ts != 2.0 {
		t.Fatalf("oldest retained ts = %v, want 2.0", ts)
	}
	_, ts, err = rb.PeekWithTimestamp(-1)
	if err != nil {
		t.Fatalf("PeekWithTimestamp(-1): %v", err)
	}
	if ts != 4.0 {
		t.Fatalf("newest ts = %v, want 4.0", ts)
	}
}

func TestPeekOutOfRange(t *testing.T) {
	rb := newTestBuffer(t, 10)
	size := int(rb.shape.frameSize())
	if err := rb.Write(frameOf(1, size), 1.0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	frame, err := rb.Peek(-5)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if frame != nil {
		t.Fatalf("expected nil frame for out-of-range offset")
	}
}

func TestGetFramesInTimeRangeOrderedNoDuplicates(t *testing.T) {
	rb := newTestBuffer(t, 10)
	size := int(rb.shape.frameSize())
	for i := 0; i < 5; i++ {
		if err := rb.Write(frameOf(byte(i), size), float64(i)); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	frames, timestamps, err := rb.GetFramesInTimeRange(1, 3)
	if err != nil {
		t.Fatalf("GetFramesInTimeRange: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	for i, ts := range timestamps {
		if ts < 1 || ts > 3 {
			t.Fatalf("timestamp %v out of requested range", ts)
		}
		if i > 0 && timestamps[i-1] >= ts {
			t.Fatalf("timestamps not strictly ascending: %v", timestamps)
		}
	}
}

func TestGetRecentFrames(t *testing.T) {
	rb := newTestBuffer(t, 10)
	size := int(rb.shape.frameSize())
	for i := 0; i < 5; i++ {
		if err := rb.Write(frameOf(byte(i), size), float64(i)); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	frames, timestamps, err := rb.GetRecentFrames(1.5)
	if err != nil {
		t.Fatalf("GetRecentFrames: %v", err)
	}
	// latest ts=4, cutoff=2.5 -> ts 3,4 retained
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if timestamps[0] != 3 || timestamps[1] != 4 {
		t.Fatalf("timestamps = %v, want [3 4]", timestamps)
	}
}

func TestHealthUninitializedIsHealthy(t *testing.T) {
	rb := newTestBuffer(t, 10)
	h := rb.Health()
	if !h.IsHealthy {
		t.Fatalf("expected uninitialized buffer to be healthy")
	}
	if h.Count != 0 {
		t.Fatalf("count = %d, want 0", h.Count)
	}
}

func TestHealthAfterWrite(t *testing.T) {
	rb := newTestBuffer(t, 10)
	size := int(rb.shape.frameSize())
	if err := rb.WriteNow(frameOf(1, size)); err != nil {
		t.Fatalf("WriteNow: %v", err)
	}
	h := rb.Health()
	if !h.IsHealthy {
		t.Fatalf("expected freshly written buffer to be healthy")
	}
	if h.ConsecutiveErrors != 0 {
		t.Fatalf("consecutive errors = %d, want 0", h.ConsecutiveErrors)
	}
}

func TestAttachExistingSegment(t *testing.T) {
	name := fmt.Sprintf("rbtest-%s", uuid.NewString())
	shape := Shape{Width: 2, Height: 2, Channels: 3}
	owner, err := Open(name, shape, 1.0, 5, true)
	if err != nil {
		t.Fatalf("Open(create): %v", err)
	}
	defer owner.Unlink()

	size := int(shape.frameSize())
	if err := owner.Write(frameOf(9, size), 42.0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reader, err := Open(name, shape, 1.0, 5, false)
	if err != nil {
		t.Fatalf("Open(attach): %v", err)
	}
	defer reader.Close()

	frame, ts, err := reader.PeekWithTimestamp(-1)
	if err != nil {
		t.Fatalf("PeekWithTimestamp: %v", err)
	}
	if ts != 42.0 || string(frame) != string(frameOf(9, size)) {
		t.Fatalf("attached reader saw stale/incorrect data: ts=%v frame=%v", ts, frame)
	}
}
