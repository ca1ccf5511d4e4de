// Package recorder turns an alert trigger into an evidence clip: it pulls
// pre-trigger frames from the ring buffer, collects post-trigger frames as
// they arrive, and encodes the sequence to an MP4 file, falling back
// across a list of candidate codecs.
package recorder

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/videoba/pipe/internal/ringbuffer"
)

// Status is a recording task's lifecycle state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusCollecting Status = "collecting"
	StatusEncoding   Status = "encoding"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// pollInterval is how often the future phase checks for new frames.
const pollInterval = 50 * time.Millisecond

// historicalMargin extends the historical-phase window past trigger_time
// to absorb detector processing delay.
const historicalMargin = 1.0

// taskMaxAge is how long a completed/failed task is kept before purge.
const taskMaxAge = time.Hour

// codecFourCCs lists candidate FourCC codes to try in order, H.264
// variants first then MPEG-4.
var codecFourCCs = []string{"avc1", "H264", "X264", "mp4v"}

// Task tracks one alert's recording.
type Task struct {
	AlertID      uint
	OutputPath   string
	RelativePath string
	Status       Status
	StartedAt    time.Time
}

// Recorder manages recording tasks for one video source's Ring Buffer.
type Recorder struct {
	rb      *ringbuffer.RingBuffer
	saveDir string
	fps     float64
	shape   ringbuffer.Shape

	mu    sync.Mutex
	tasks map[uint]*Task
}

// New constructs a Recorder bound to a Ring Buffer, output directory, and
// the buffer's frame geometry (needed to reconstruct a Mat from raw bytes
// at encode time).
func New(rb *ringbuffer.RingBuffer, saveDir string, fps float64, shape ringbuffer.Shape) *Recorder {
	if fps <= 0 {
		fps = 10
	}
	return &Recorder{rb: rb, saveDir: saveDir, fps: fps, shape: shape, tasks: make(map[uint]*Task)}
}

// StartRecording launches an asynchronous recording task for alertID and
// returns its relative output path immediately. Recording proceeds in a
// background goroutine; query Status via GetTask.
func (r *Recorder) StartRecording(sourceID, alertID uint, triggerTime, preSeconds, postSeconds float64) (string, error) {
	r.mu.Lock()
	if t, exists := r.tasks[alertID]; exists {
		r.mu.Unlock()
		return t.RelativePath, nil
	}
	r.mu.Unlock()

	ts := time.Unix(int64(triggerTime), 0).UTC()
	filename := fmt.Sprintf("alert_%d_%s.mp4", alertID, ts.Format("20060102_150405"))
	relPath := filepath.Join(fmt.Sprint(sourceID), filename)
	outPath := filepath.Join(r.saveDir, relPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("recorder: create output dir: %w", err)
	}

	task := &Task{AlertID: alertID, OutputPath: outPath, RelativePath: relPath, Status: StatusStarting, StartedAt: time.Now()}
	r.mu.Lock()
	r.tasks[alertID] = task
	r.mu.Unlock()

	go r.record(task, triggerTime, preSeconds, postSeconds)

	log.Printf("[recorder] started task alert=%d output=%s", alertID, outPath)
	return relPath, nil
}

func (r *Recorder) setStatus(task *Task, s Status) {
	r.mu.Lock()
	task.Status = s
	r.mu.Unlock()
}

type timedFrame struct {
	data []byte
	ts   float64
}

func (r *Recorder) record(task *Task, triggerTime, preSeconds, postSeconds float64) {
	r.setStatus(task, StatusCollecting)

	historical := r.collectHistorical(triggerTime, preSeconds)
	future := r.collectFuture(triggerTime, postSeconds, historical)

	all := append(historical, future...)
	if len(all) == 0 {
		log.Printf("[recorder] alert %d: no frames collected, failing task", task.AlertID)
		r.setStatus(task, StatusFailed)
		return
	}

	r.setStatus(task, StatusEncoding)
	if err := encodeVideo(all, task.OutputPath, r.fps, r.shape); err != nil {
		log.Printf("[recorder] alert %d: encode failed: %v", task.AlertID, err)
		r.setStatus(task, StatusFailed)
		return
	}
	r.setStatus(task, StatusCompleted)
	log.Printf("[recorder] alert %d: completed, %d frames -> %s", task.AlertID, len(all), task.OutputPath)
}

// collectHistorical implements the historical phase: a time-range query
// around the trigger, with a fallback to the most recent frames when the
// range is empty but the buffer has content.
func (r *Recorder) collectHistorical(triggerTime, preSeconds float64) []timedFrame {
	frames, timestamps, err := r.rb.GetFramesInTimeRange(triggerTime-preSeconds, triggerTime+historicalMargin)
	if err != nil {
		return nil
	}
	if len(frames) == 0 && r.rb.Count() > 0 {
		frames, timestamps, err = r.rb.GetRecentFrames(preSeconds)
		if err != nil {
			return nil
		}
	}
	out := make([]timedFrame, len(frames))
	for i := range frames {
		out[i] = timedFrame{data: frames[i], ts: timestamps[i]}
	}
	return out
}

// collectFuture implements the future phase: poll the buffer for frames
// strictly newer than the last collected timestamp, until wall clock
// reaches trigger_time+post_seconds.
func (r *Recorder) collectFuture(triggerTime, postSeconds float64, historical []timedFrame) []timedFrame {
	endTime := triggerTime + postSeconds
	lastTS := triggerTime
	if len(historical) > 0 {
		lastTS = historical[len(historical)-1].ts + 0.001
	}

	deadline := time.Now().Add(time.Duration(postSeconds * float64(time.Second)))
	var future []timedFrame
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		<-ticker.C
		frames, timestamps, err := r.rb.GetFramesInTimeRange(lastTS, float64(time.Now().UnixNano())/1e9)
		if err != nil {
			continue
		}
		for i, ts := range timestamps {
			if ts > lastTS && ts <= endTime {
				future = append(future, timedFrame{data: frames[i], ts: ts})
				lastTS = ts
			}
		}
	}
	return future
}

// encodeVideo writes frames (RGB as stored by the ring buffer) to an MP4
// at fps, converting each to BGR and trying codecFourCCs in order until
// one opens.
func encodeVideo(frames []timedFrame, outputPath string, fps float64, shape ringbuffer.Shape) error {
	if len(frames) == 0 {
		return fmt.Errorf("recorder: no frames to encode")
	}
	if shape.Width == 0 || shape.Height == 0 {
		return fmt.Errorf("recorder: zero frame dimensions")
	}

	var writer *gocv.VideoWriter
	var usedCodec string
	for _, fourcc := range codecFourCCs {
		w, err := gocv.VideoWriterFile(outputPath, fourcc, fps, shape.Width, shape.Height, true)
		if err != nil || !w.IsOpened() {
			if w != nil {
				w.Close()
			}
			continue
		}
		writer = w
		usedCodec = fourcc
		break
	}
	if writer == nil {
		return fmt.Errorf("recorder: no candidate codec could open %s", outputPath)
	}
	defer writer.Close()
	log.Printf("[recorder] encoding %s with codec %s", outputPath, usedCodec)

	for _, f := range frames {
		mat, err := gocv.NewMatFromBytes(shape.Height, shape.Width, gocv.MatTypeCV8UC3, f.data)
		if err != nil {
			continue
		}
		bgr := gocv.NewMat()
		// RGB<->BGR channel swap is its own inverse; gocv only names one
		// direction for this ColorCode.
		gocv.CvtColor(mat, &bgr, gocv.ColorBGRToRGB)
		if err := writer.Write(bgr); err != nil {
			log.Printf("[recorder] write frame failed: %v", err)
		}
		bgr.Close()
		mat.Close()
	}
	return nil
}

// GetTask returns the current task state for alertID, or false if unknown.
func (r *Recorder) GetTask(alertID uint) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[alertID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// CleanupCompleted purges completed/failed tasks older than taskMaxAge.
func (r *Recorder) CleanupCompleted(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		if (t.Status == StatusCompleted || t.Status == StatusFailed) && now.Sub(t.StartedAt) > taskMaxAge {
			delete(r.tasks, id)
		}
	}
}
