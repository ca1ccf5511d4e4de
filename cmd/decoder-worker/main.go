// Command decoder-worker is the per-source decode process spawned by the
// orchestrator:
//
//	decoder_worker --url <string> --source-id <int> --sample-mode fps
//	               --sample-fps <int> --width <int> --height <int>
//	               [--buffer <name>]
//
// Exit code 0 on clean shutdown, non-zero on any fatal error, which the
// orchestrator's health sweep observes as a dead subprocess and restarts
// on its next tick.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/videoba/pipe/internal/config"
	"github.com/videoba/pipe/internal/decoderworker"
	"github.com/videoba/pipe/internal/transport"
)

func main() {
	url := flag.String("url", "", "source transport URL")
	sourceID := flag.Int("source-id", 0, "video source id")
	sampleMode := flag.String("sample-mode", "fps", "sampling mode (only \"fps\" is supported)")
	sampleFPS := flag.Float64("sample-fps", 10, "frames sampled per second into the ring buffer")
	width := flag.Int("width", 0, "frame width")
	height := flag.Int("height", 0, "frame height")
	buffer := flag.String("buffer", "", "ring buffer name (defaults to source-<source-id>)")
	flag.Parse()

	if *url == "" || *width <= 0 || *height <= 0 {
		log.Fatalf("[decoder-worker] --url, --width, and --height are required")
	}
	if *sampleMode != "fps" {
		log.Fatalf("[decoder-worker] unsupported --sample-mode %q", *sampleMode)
	}
	bufferName := *buffer
	if bufferName == "" {
		bufferName = fmt.Sprintf("source-%d", *sourceID)
	}

	cfg := config.Load()

	workerCfg := decoderworker.Config{
		URL:                   *url,
		SourceID:              *sourceID,
		Transport:             transportKindFor(*url),
		SampleFPS:             *sampleFPS,
		Width:                 *width,
		Height:                *height,
		BufferName:            bufferName,
		BufferDurationSeconds: cfg.RingBufferDuration.Seconds(),
	}

	if err := decoderworker.Run(workerCfg); err != nil {
		log.Fatalf("[decoder-worker] source %d: %v", *sourceID, err)
	}
}

// transportKindFor picks the puller's subprocess pipeline from the URL
// scheme/extension. The CLI carries no separate --transport flag, so the
// kind is inferred here the way ffmpeg itself would sniff it.
func transportKindFor(url string) transport.Kind {
	switch {
	case strings.HasPrefix(url, "rtsp://"):
		return transport.KindRTSP
	case strings.Contains(url, ".m3u8"):
		return transport.KindHLS
	case strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://"):
		return transport.KindHTTPFLV
	default:
		return transport.KindFile
	}
}
