// Package decoderworker wires the stream puller and decoder to a
// pre-created ring buffer for one video source, sampling at the source's
// configured fps. It is the body of the decoder-worker subprocess CLI.
package decoderworker

import (
	"fmt"
	"log"
	"time"

	"github.com/videoba/pipe/internal/decoderproc"
	"github.com/videoba/pipe/internal/ringbuffer"
	"github.com/videoba/pipe/internal/transport"
)

// Config mirrors the decoder-worker CLI flags.
type Config struct {
	URL        string
	SourceID   int
	Transport  transport.Kind
	SampleFPS  float64
	Width      int
	Height     int
	BufferName string

	// BufferDurationSeconds sizes the ring buffer attach (capacity must
	// match what the Orchestrator created it with).
	BufferDurationSeconds float64
}

// Run attaches to the orchestrator-created ring buffer, starts the puller
// and decoder, and samples decoded frames into the buffer at SampleFPS
// until an unrecoverable error occurs (e.g. a broken decoder pipe), at
// which point it returns an error so main() can exit non-zero and let the
// orchestrator restart this source.
func Run(cfg Config) error {
	rb, err := attachWithRetry(cfg)
	if err != nil {
		return fmt.Errorf("decoderworker: attach ring buffer %q: %w", cfg.BufferName, err)
	}
	defer rb.Close() // non-creator: close, never unlink

	dec, err := decoderproc.Start(decoderproc.Config{Width: cfg.Width, Height: cfg.Height})
	if err != nil {
		return fmt.Errorf("decoderworker: start decoder: %w", err)
	}
	defer dec.Close()

	puller := transport.New(transport.Config{Kind: cfg.Transport, URL: cfg.URL})
	puller.AddPacketHandler(dec.SendPacket)
	if err := puller.Start(); err != nil {
		return fmt.Errorf("decoderworker: start puller: %w", err)
	}
	defer puller.Stop()

	return sampleLoop(rb, dec, cfg.SampleFPS)
}

func attachWithRetry(cfg Config) (*ringbuffer.RingBuffer, error) {
	shape := ringbuffer.Shape{Width: cfg.Width, Height: cfg.Height, Channels: 3}
	var lastErr error
	for i := 0; i < 5; i++ {
		rb, err := ringbuffer.Open(cfg.BufferName, shape, cfg.SampleFPS, cfg.BufferDurationSeconds, false)
		if err == nil {
			return rb, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, lastErr
}

// sampleLoop pulls one decoded frame per 1/fps seconds of wall time and
// writes it to the ring buffer.
func sampleLoop(rb *ringbuffer.RingBuffer, dec *decoderproc.Decoder, fps float64) error {
	if fps <= 0 {
		fps = 10
	}
	period := time.Duration(float64(time.Second) / fps)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-dec.Dead():
			return fmt.Errorf("decoderworker: decoder pipe broken")
		case <-ticker.C:
			frame, ok := dec.GetLatestFrame()
			if !ok {
				continue
			}
			if err := rb.Write(frame.Data, frame.Timestamp); err != nil {
				if err == ringbuffer.ErrShapeMismatch {
					log.Printf("[decoderworker] dropped frame: shape mismatch")
					continue
				}
				return fmt.Errorf("decoderworker: write frame: %w", err)
			}
		}
	}
}
