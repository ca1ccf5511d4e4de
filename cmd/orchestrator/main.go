// Command orchestrator reconciles the persisted VideoSource set against
// live decoder-worker subprocesses on a tick, until SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os"

	"github.com/videoba/pipe/internal/config"
	"github.com/videoba/pipe/internal/orchestrator"
	"github.com/videoba/pipe/internal/store"
)

func main() {
	cfg := config.Load()

	st, err := store.Open(store.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("[orchestrator] open store: %v", err)
	}
	defer st.Close()

	decoderBin := os.Getenv("DECODER_WORKER_BIN")
	if decoderBin == "" {
		decoderBin = "decoder-worker"
	}

	o := orchestrator.New(orchestrator.Config{
		DecoderWorkerBin:      decoderBin,
		BufferDurationSeconds: cfg.RingBufferDuration.Seconds(),
		Health: orchestrator.HealthThresholds{
			NoFrameWarningThreshold:  cfg.NoFrameWarningThreshold,
			NoFrameCriticalThreshold: cfg.NoFrameCriticalThreshold,
			LowFPSRatio:              cfg.LowFPSRatio,
			MaxConsecutiveErrors:     cfg.MaxConsecutiveErrors,
		},
	}, st)

	if err := o.Run(context.Background()); err != nil {
		log.Fatalf("[orchestrator] run: %v", err)
	}
}
