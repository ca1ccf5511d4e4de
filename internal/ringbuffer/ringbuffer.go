// Package ringbuffer implements a fixed-capacity, timestamped video frame
// ring: a contiguous shared-memory segment any process can attach to by
// name, with single-writer/multi-reader discipline enforced by a short
// mutex-guarded critical section around metadata and frame-byte copies.
package ringbuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrShapeMismatch is returned by Write when the frame's byte length does
// not match the configured shape (width * height * channels).
var ErrShapeMismatch = errors.New("ringbuffer: frame shape mismatch")

// ErrClosed is returned by any operation performed after Close/Unlink.
var ErrClosed = errors.New("ringbuffer: buffer is closed")

// Shape describes the pixel geometry of every frame stored in the buffer.
// Frames are always 3-channel RGB.
type Shape struct {
	Width    int
	Height   int
	Channels int
}

func (s Shape) frameSize() int64 {
	return int64(s.Width) * int64(s.Height) * int64(s.Channels)
}

// Health is the buffer's write-freshness snapshot.
type Health struct {
	LastWriteTime      float64
	TimeSinceLastFrame float64
	ConsecutiveErrors  uint64
	Count              uint64
	IsHealthy          bool
}

// The metadata header is a fixed-offset block, little-endian, at the start
// of the shared-memory segment. There is no read index: nothing in this
// system consumes FIFO dequeue order, only peek-style random access.
//
//	offset 0  : write_index   u64  (slot that will be written next)
//	offset 8  : count         u64  (saturates at capacity)
//	offset 16 : lock_flag     u32  (4-byte-aligned word so atomic CAS works
//	                                the same for every attaching process)
//	offset 24 : last_write_time f64
//	offset 32 : consecutive_errors u64
//	offset 40 : seq           u64  (monotonic write counter, lets readers
//	                                detect a wrap during long reads)
const (
	offWriteIndex        = 0
	offCount             = 8
	offLock              = 16
	offLastWriteTime     = 24
	offConsecutiveErrors = 32
	offSeq               = 40
	headerSize           = 48
)

// RingBuffer is a handle onto a named shared-memory frame ring. A process
// that creates the segment owns it and is responsible for unlinking it; a
// process that attaches to an existing segment only detaches on Close.
type RingBuffer struct {
	name      string
	shape     Shape
	fps       float64
	capacity  int64
	frameSize int64
	owner     bool

	file   *os.File
	data   []byte
	closed atomic.Bool
}

func segmentPath(name string) string {
	return filepath.Join("/dev/shm", name)
}

func segmentSize(capacity, frameSize int64) int64 {
	return headerSize + capacity*8 /* timestamp array */ + capacity*frameSize
}

// Open creates or attaches to a named shared-memory ring buffer.
// capacity = fps * durationSeconds, rounded up.
//
// When createOrAttach is true and no segment with this name exists, a new
// one is created and any stale segment with the same name is unlinked
// first. When false, Open attaches to an existing segment and fails if it
// is not present.
func Open(name string, shape Shape, fps float64, durationSeconds float64, createOrAttach bool) (*RingBuffer, error) {
	if shape.Width <= 0 || shape.Height <= 0 || shape.Channels <= 0 {
		return nil, fmt.Errorf("ringbuffer: invalid shape %+v", shape)
	}
	capacity := int64(fps*durationSeconds + 0.999999)
	if capacity < 1 {
		capacity = 1
	}
	frameSize := shape.frameSize()
	size := segmentSize(capacity, frameSize)

	path := segmentPath(name)
	owner := false

	var f *os.File
	if createOrAttach {
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("ringbuffer: unlink stale segment %q: %w", name, err)
			}
		}
		var err error
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("ringbuffer: create segment %q: %w", name, err)
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("ringbuffer: size segment %q: %w", name, err)
		}
		owner = true
	} else {
		var err error
		f, err = os.OpenFile(path, os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("ringbuffer: attach segment %q: %w", name, err)
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("ringbuffer: stat segment %q: %w", name, err)
		}
		// Mapping past the segment's end would fault on access, so a
		// geometry disagreement with the creator is rejected up front.
		if fi.Size() != size {
			f.Close()
			return nil, fmt.Errorf("ringbuffer: segment %q is %d bytes, expected %d (geometry mismatch)", name, fi.Size(), size)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		if owner {
			os.Remove(path)
		}
		return nil, fmt.Errorf("ringbuffer: mmap segment %q: %w", name, err)
	}

	rb := &RingBuffer{
		name:      name,
		shape:     shape,
		fps:       fps,
		capacity:  capacity,
		frameSize: frameSize,
		owner:     owner,
		file:      f,
		data:      data,
	}
	return rb, nil
}

func (r *RingBuffer) lockWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&r.data[offLock]))
}

// lock acquires the cross-process mutex: a fast try-lock spin, falling back
// to a short sleep loop to avoid burning CPU under contention.
func (r *RingBuffer) lock() {
	w := r.lockWord()
	for i := 0; i < 1000; i++ {
		if atomic.CompareAndSwapUint32(w, 0, 1) {
			return
		}
	}
	for {
		if atomic.CompareAndSwapUint32(w, 0, 1) {
			return
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func (r *RingBuffer) unlock() {
	atomic.StoreUint32(r.lockWord(), 0)
}

func (r *RingBuffer) readU64(off int64) uint64 {
	return binary.LittleEndian.Uint64(r.data[off : off+8])
}

func (r *RingBuffer) writeU64(off int64, v uint64) {
	binary.LittleEndian.PutUint64(r.data[off:off+8], v)
}

func (r *RingBuffer) readF64(off int64) float64 {
	return math.Float64frombits(r.readU64(off))
}

func (r *RingBuffer) writeF64(off int64, v float64) {
	r.writeU64(off, math.Float64bits(v))
}

func (r *RingBuffer) tsOffset(slot int64) int64 {
	return headerSize + slot*8
}

func (r *RingBuffer) frameOffset(slot int64) int64 {
	return headerSize + r.capacity*8 + slot*r.frameSize
}

// Write overwrites the oldest slot when full (FIFO overflow), advances
// write_index, updates count (saturating at capacity), writes the
// timestamp, updates last_write_time, and resets consecutive_errors.
// Fails with ErrShapeMismatch when frame's length disagrees with the
// configured shape; in that case neither frame nor timestamp is committed.
func (r *RingBuffer) Write(frame []byte, timestamp float64) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if int64(len(frame)) != r.frameSize {
		r.lock()
		errs := r.readU64(offConsecutiveErrors) + 1
		r.writeU64(offConsecutiveErrors, errs)
		r.unlock()
		return ErrShapeMismatch
	}

	r.lock()
	defer r.unlock()

	writeIdx := int64(r.readU64(offWriteIndex))
	slot := writeIdx % r.capacity

	copy(r.data[r.frameOffset(slot):r.frameOffset(slot)+r.frameSize], frame)
	r.writeF64(r.tsOffset(slot), timestamp)

	count := r.readU64(offCount)
	if count < uint64(r.capacity) {
		count++
	}
	r.writeU64(offCount, count)
	r.writeU64(offWriteIndex, uint64(writeIdx+1))
	r.writeF64(offLastWriteTime, timestamp)
	r.writeU64(offConsecutiveErrors, 0)
	r.writeU64(offSeq, r.readU64(offSeq)+1)

	return nil
}

// WriteNow writes frame with the current wall-clock time as its timestamp.
func (r *RingBuffer) WriteNow(frame []byte) error {
	return r.Write(frame, float64(time.Now().UnixNano())/1e9)
}

// resolveSlot translates peek-style offsets (-1 = newest, 0 = oldest) into
// an absolute ring slot. Returns ok=false when the offset is out of range
// or the buffer is empty.
func (r *RingBuffer) resolveSlot(offset int64, writeIdx int64, count uint64) (slot int64, ok bool) {
	if count == 0 {
		return 0, false
	}
	if offset >= 0 {
		if offset >= int64(count) {
			return 0, false
		}
		oldest := writeIdx - int64(count)
		slot = ((oldest+offset)%r.capacity + r.capacity) % r.capacity
		return slot, true
	}
	n := -offset
	if n > int64(count) {
		return 0, false
	}
	slot = ((writeIdx-n)%r.capacity + r.capacity) % r.capacity
	return slot, true
}

// Peek performs a non-consuming read. offset == -1 is the most recently
// written frame; offset == 0 is the oldest retained frame; other negative
// offsets count back from the write head. Returns nil if count is zero or
// |offset| >= count. The returned slice is a copy; internal storage is
// never exposed by reference.
func (r *RingBuffer) Peek(offset int64) ([]byte, error) {
	frame, _, err := r.PeekWithTimestamp(offset)
	return frame, err
}

// PeekWithTimestamp is Peek plus the frame's stored timestamp.
func (r *RingBuffer) PeekWithTimestamp(offset int64) ([]byte, float64, error) {
	if r.closed.Load() {
		return nil, 0, ErrClosed
	}
	r.lock()
	writeIdx := int64(r.readU64(offWriteIndex))
	count := r.readU64(offCount)
	slot, ok := r.resolveSlot(offset, writeIdx, count)
	if !ok {
		r.unlock()
		return nil, 0, nil
	}
	ts := r.readF64(r.tsOffset(slot))
	frame := make([]byte, r.frameSize)
	copy(frame, r.data[r.frameOffset(slot):r.frameOffset(slot)+r.frameSize])
	r.unlock()
	return frame, ts, nil
}

type timedFrame struct {
	ts    float64
	frame []byte
}

// snapshot copies every retained (timestamp, frame) pair under a single
// critical section, then returns them for the caller to filter/sort without
// holding the lock. The critical section is one memcpy pass over at most
// capacity frames.
func (r *RingBuffer) snapshot() []timedFrame {
	r.lock()
	defer r.unlock()

	writeIdx := int64(r.readU64(offWriteIndex))
	count := r.readU64(offCount)
	out := make([]timedFrame, 0, count)
	oldest := ((writeIdx-int64(count))%r.capacity + r.capacity) % r.capacity
	for i := int64(0); i < int64(count); i++ {
		slot := (oldest + i) % r.capacity
		ts := r.readF64(r.tsOffset(slot))
		frame := make([]byte, r.frameSize)
		copy(frame, r.data[r.frameOffset(slot):r.frameOffset(slot)+r.frameSize])
		out = append(out, timedFrame{ts: ts, frame: frame})
	}
	return out
}

// GetFramesInTimeRange returns retained frames whose timestamp is in
// [start, end], ordered oldest to newest, with no duplicates.
func (r *RingBuffer) GetFramesInTimeRange(start, end float64) ([][]byte, []float64, error) {
	if r.closed.Load() {
		return nil, nil, ErrClosed
	}
	all := r.snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	frames := make([][]byte, 0, len(all))
	timestamps := make([]float64, 0, len(all))
	for _, tf := range all {
		if tf.ts >= start && tf.ts <= end {
			frames = append(frames, tf.frame)
			timestamps = append(timestamps, tf.ts)
		}
	}
	return frames, timestamps, nil
}

// GetRecentFrames returns frames with timestamp >= latest_ts - seconds.
func (r *RingBuffer) GetRecentFrames(seconds float64) ([][]byte, []float64, error) {
	if r.closed.Load() {
		return nil, nil, ErrClosed
	}
	all := r.snapshot()
	if len(all) == 0 {
		return nil, nil, nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts < all[j].ts })
	latest := all[len(all)-1].ts
	cutoff := latest - seconds

	frames := make([][]byte, 0, len(all))
	timestamps := make([]float64, 0, len(all))
	for _, tf := range all {
		if tf.ts >= cutoff {
			frames = append(frames, tf.frame)
			timestamps = append(timestamps, tf.ts)
		}
	}
	return frames, timestamps, nil
}

// Health reports the buffer's write freshness. is_healthy is true if count
// is zero (uninitialized) or the time since the last write is under 30s.
func (r *RingBuffer) Health() Health {
	r.lock()
	lastWrite := r.readF64(offLastWriteTime)
	errs := r.readU64(offConsecutiveErrors)
	count := r.readU64(offCount)
	r.unlock()

	now := float64(time.Now().UnixNano()) / 1e9
	sinceLast := now - lastWrite
	healthy := count == 0 || sinceLast < 30.0

	return Health{
		LastWriteTime:      lastWrite,
		TimeSinceLastFrame: sinceLast,
		ConsecutiveErrors:  errs,
		Count:              count,
		IsHealthy:          healthy,
	}
}

// Count returns the number of retained frames (<= capacity).
func (r *RingBuffer) Count() int64 {
	r.lock()
	c := int64(r.readU64(offCount))
	r.unlock()
	return c
}

// Capacity returns the configured frame capacity (fps * duration).
func (r *RingBuffer) Capacity() int64 { return r.capacity }

// Shape returns the configured frame geometry.
func (r *RingBuffer) Shape() Shape { return r.shape }

// Close detaches from the segment without unlinking it. Readers (and
// non-creator writers) must call Close, never Unlink: only the owner
// unlinks.
func (r *RingBuffer) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Unlink detaches and removes the named segment. Only the creating process
// should call this: stopping a source unlinks its buffer, and non-creators
// must never unlink a segment other processes may still be attached to.
func (r *RingBuffer) Unlink() error {
	if err := r.Close(); err != nil {
		return err
	}
	if err := os.Remove(segmentPath(r.name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ringbuffer: unlink segment %q: %w", r.name, err)
	}
	return nil
}

// IsOwner reports whether this handle created the segment (and is
// therefore responsible for eventually unlinking it).
func (r *RingBuffer) IsOwner() bool { return r.owner }

// Name returns the buffer's shared-memory identifier.
func (r *RingBuffer) Name() string { return r.name }
