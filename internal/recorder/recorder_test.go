package recorder

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/videoba/pipe/internal/ringbuffer"
)

func newTestRingBuffer(t *testing.T) *ringbuffer.RingBuffer {
	t.Helper()
	shape := ringbuffer.Shape{Width: 2, Height: 2, Channels: 3}
	rb, err := ringbuffer.Open("recorder-test-"+uuid.NewString(), shape, 10, 5, true)
	if err != nil {
		t.Fatalf("open ring buffer: %v", err)
	}
	t.Cleanup(func() { rb.Unlink() })
	return rb
}

func frame(v byte) []byte {
	return []byte{v, v, v, v, v, v, v, v, v, v, v, v}
}

func TestCollectHistoricalWithinRange(t *testing.T) {
	rb := newTestRingBuffer(t)
	if err := rb.Write(frame(1), 10.0); err != nil {
		t.Fatal(err)
	}
	if err := rb.Write(frame(2), 11.0); err != nil {
		t.Fatal(err)
	}
	if err := rb.Write(frame(3), 20.0); err != nil {
		t.Fatal(err)
	}

	r := New(rb, t.TempDir(), 10, rb.Shape())
	frames := r.collectHistorical(11.5, 5)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (ts 10 and 11)", len(frames))
	}
	if frames[0].ts != 10.0 || frames[1].ts != 11.0 {
		t.Fatalf("frames = %+v, want ordered [10,11]", frames)
	}
}

func TestCollectHistoricalFallsBackToRecent(t *testing.T) {
	rb := newTestRingBuffer(t)
	if err := rb.Write(frame(1), 100.0); err != nil {
		t.Fatal(err)
	}

	r := New(rb, t.TempDir(), 10, rb.Shape())
	// trigger_time far from the only stored frame's timestamp so the
	// exact-range query returns nothing, forcing the recent-frames fallback.
	frames := r.collectHistorical(5.0, 2)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want fallback to return the one stored frame", len(frames))
	}
}

func TestTaskRegistryStartsAsStarting(t *testing.T) {
	rb := newTestRingBuffer(t)
	r := New(rb, t.TempDir(), 10, rb.Shape())

	relPath, err := r.StartRecording(1, 42, float64(time.Now().Unix()), 0.05, 0.05)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if relPath == "" {
		t.Fatalf("expected non-empty relative path")
	}

	// Give the background goroutine a moment to run; since there are no
	// frames in the buffer this should settle into StatusFailed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := r.GetTask(42)
		if ok && (task.Status == StatusCompleted || task.Status == StatusFailed) {
			if task.Status != StatusFailed {
				t.Fatalf("expected failed status with no frames available, got %s", task.Status)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task did not reach a terminal status in time")
}

func TestStartRecordingIsIdempotentPerAlert(t *testing.T) {
	rb := newTestRingBuffer(t)
	r := New(rb, t.TempDir(), 10, rb.Shape())

	p1, err := r.StartRecording(1, 7, 0, 0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := r.StartRecording(1, 7, 0, 0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatalf("expected same relative path for duplicate StartRecording, got %q and %q", p1, p2)
	}
}

func TestCleanupCompletedPurgesOldTasks(t *testing.T) {
	rb := newTestRingBuffer(t)
	r := New(rb, t.TempDir(), 10, rb.Shape())

	r.tasks[1] = &Task{AlertID: 1, Status: StatusCompleted, StartedAt: time.Now().Add(-2 * time.Hour)}
	r.tasks[2] = &Task{AlertID: 2, Status: StatusCompleted, StartedAt: time.Now()}

	r.CleanupCompleted(time.Now())

	if _, ok := r.GetTask(1); ok {
		t.Fatalf("expected stale completed task to be purged")
	}
	if _, ok := r.GetTask(2); !ok {
		t.Fatalf("expected recent completed task to survive cleanup")
	}
}
