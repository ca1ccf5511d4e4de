// Package orchestrator reconciles the persisted set of VideoSource rows
// against live decoder-worker subprocesses on a ~5s tick, supervising
// restarts and cleaning up on shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/videoba/pipe/internal/model"
	"github.com/videoba/pipe/internal/ringbuffer"
	"github.com/videoba/pipe/internal/store"
)

// TickPeriod is the reconciliation loop period.
const TickPeriod = 5 * time.Second

// HealthThresholds carries the env-settable health knobs the sweep
// evaluates against each running source's ring buffer, supplementing the
// bare process-liveness check with a buffer-freshness signal.
type HealthThresholds struct {
	NoFrameWarningThreshold  time.Duration
	NoFrameCriticalThreshold time.Duration
	LowFPSRatio              float64
	MaxConsecutiveErrors     uint64
}

// Config configures the orchestrator's reconciliation loop.
type Config struct {
	DecoderWorkerBin      string // path to the decoder-worker binary
	BufferDurationSeconds float64
	Health                HealthThresholds
}

// Orchestrator reconciles VideoSource rows with live Decoder Worker
// subprocesses.
type Orchestrator struct {
	cfg   Config
	store *store.Store

	mu      sync.Mutex
	running map[uint]*managedSource
}

type managedSource struct {
	cmd *exec.Cmd
	rb  *ringbuffer.RingBuffer // owner handle; orchestrator pre-creates, so it unlinks
}

// New constructs an Orchestrator bound to a store.
func New(cfg Config, st *store.Store) *Orchestrator {
	if cfg.BufferDurationSeconds <= 0 {
		cfg.BufferDurationSeconds = 30
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		running: make(map[uint]*managedSource),
	}
}

// Run blocks, ticking the reconciliation loop until ctx is cancelled or a
// SIGINT/SIGTERM arrives, at which point it performs the stop routine for
// every RUNNING source and returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.store.ResetStaleRunningSources(); err != nil {
		return fmt.Errorf("orchestrator: reset stale running sources: %w", err)
	}
	log.Printf("[orchestrator] startup crash recovery complete")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-sigCh:
			log.Printf("[orchestrator] received shutdown signal")
			o.shutdown()
			return nil
		case <-ticker.C:
			if err := o.tick(); err != nil {
				log.Printf("[orchestrator] tick error: %v", err)
			}
		}
	}
}

func (o *Orchestrator) tick() error {
	sources, err := o.store.ListVideoSources()
	if err != nil {
		return fmt.Errorf("list video sources: %w", err)
	}

	for i := range sources {
		src := sources[i]
		switch {
		case src.Enabled && (src.Status == model.SourceStopped || src.Status == model.SourceFailed):
			// A FAILED source is restarted exactly like a STOPPED one once
			// its decoder has been torn down.
			if err := o.start(src); err != nil {
				log.Printf("[orchestrator] start source %d: %v", src.ID, err)
			}
		case !src.Enabled && src.Status == model.SourceRunning:
			if err := o.stop(src.ID); err != nil {
				log.Printf("[orchestrator] stop source %d: %v", src.ID, err)
			}
			if err := o.store.SetSourceStopped(src.ID); err != nil {
				log.Printf("[orchestrator] persist stop for source %d: %v", src.ID, err)
			}
		case src.Status == model.SourceRunning:
			o.healthCheck(src)
		}
	}
	return nil
}

// start creates the ring buffer, spawns the decoder-worker subprocess, and
// persists RUNNING plus decoder_pid.
func (o *Orchestrator) start(src model.VideoSource) error {
	shape := ringbuffer.Shape{Width: src.Width, Height: src.Height, Channels: 3}
	rb, err := ringbuffer.Open(src.BufferName, shape, src.FPS, o.cfg.BufferDurationSeconds, true)
	if err != nil {
		return fmt.Errorf("create ring buffer: %w", err)
	}

	cmd := exec.Command(o.cfg.DecoderWorkerBin,
		"--url", src.SourceURL,
		"--source-id", fmt.Sprint(src.ID),
		"--sample-mode", "fps",
		"--sample-fps", fmt.Sprint(int(src.FPS)),
		"--width", fmt.Sprint(src.Width),
		"--height", fmt.Sprint(src.Height),
		"--buffer", src.BufferName,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		rb.Unlink()
		return fmt.Errorf("spawn decoder worker: %w", err)
	}

	o.mu.Lock()
	o.running[src.ID] = &managedSource{cmd: cmd, rb: rb}
	o.mu.Unlock()

	if err := o.store.SetSourceRunning(src.ID, cmd.Process.Pid); err != nil {
		return fmt.Errorf("persist running state: %w", err)
	}
	log.Printf("[orchestrator] started source %d (pid=%d, buffer=%s)", src.ID, cmd.Process.Pid, src.BufferName)
	return nil
}

// stop terminates the child and unlinks the ring buffer. It is idempotent:
// stopping a source with no managed state is a no-op.
func (o *Orchestrator) stop(sourceID uint) error {
	o.mu.Lock()
	ms, ok := o.running[sourceID]
	delete(o.running, sourceID)
	o.mu.Unlock()
	if !ok {
		return nil
	}

	if ms.cmd.Process != nil {
		_ = ms.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() { ms.cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = ms.cmd.Process.Kill()
			<-done
		}
	}

	if ms.rb != nil {
		if err := ms.rb.Unlink(); err != nil {
			return fmt.Errorf("unlink ring buffer: %w", err)
		}
	}
	return nil
}

// healthCheck marks a source FAILED and runs the stop routine if its child
// process has exited, so the next tick can restart it. The
// buffer-freshness sweep only logs; it never forces a restart on its own,
// since a slow but alive decoder is not the same failure as a dead
// process.
func (o *Orchestrator) healthCheck(src model.VideoSource) {
	o.mu.Lock()
	ms, ok := o.running[src.ID]
	o.mu.Unlock()
	if !ok {
		return
	}

	exited := ms.cmd.ProcessState != nil
	if !exited && ms.cmd.Process != nil {
		// Non-blocking liveness probe: Signal(0) fails if the process is gone.
		if err := ms.cmd.Process.Signal(syscall.Signal(0)); err != nil {
			exited = true
		}
	}

	if exited {
		log.Printf("[orchestrator] source %d decoder exited; marking FAILED", src.ID)
		if err := o.store.SetSourceFailed(src.ID); err != nil {
			log.Printf("[orchestrator] persist failed state for source %d: %v", src.ID, err)
		}
		if err := o.stop(src.ID); err != nil {
			log.Printf("[orchestrator] stop routine for failed source %d: %v", src.ID, err)
		}
		return
	}

	if ms.rb == nil {
		return
	}
	h := ms.rb.Health()
	sinceLast := time.Duration(h.TimeSinceLastFrame * float64(time.Second))
	switch {
	case o.cfg.Health.NoFrameCriticalThreshold > 0 && sinceLast >= o.cfg.Health.NoFrameCriticalThreshold:
		log.Printf("[orchestrator] source %d CRITICAL: no frame for %s", src.ID, sinceLast)
	case o.cfg.Health.NoFrameWarningThreshold > 0 && sinceLast >= o.cfg.Health.NoFrameWarningThreshold:
		log.Printf("[orchestrator] source %d WARNING: no frame for %s", src.ID, sinceLast)
	}
	if o.cfg.Health.MaxConsecutiveErrors > 0 && h.ConsecutiveErrors >= o.cfg.Health.MaxConsecutiveErrors {
		log.Printf("[orchestrator] source %d WARNING: %d consecutive write errors", src.ID, h.ConsecutiveErrors)
	}
}

// shutdown performs the stop routine for every RUNNING managed source.
// Idempotent.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	ids := make([]uint, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.stop(id); err != nil {
			log.Printf("[orchestrator] shutdown stop source %d: %v", id, err)
		}
		if err := o.store.SetSourceStopped(id); err != nil {
			log.Printf("[orchestrator] shutdown persist source %d: %v", id, err)
		}
	}
}
