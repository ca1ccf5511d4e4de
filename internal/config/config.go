// Package config reads the recognized env-settable options, with
// defaults, into one struct. Each option is read straight from os.Getenv;
// there is no file-based config loader.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every recognized option, each with its default when the
// env var is unset.
type Config struct {
	RingBufferDuration time.Duration // RINGBUFFER_DURATION

	RecordingEnabled  bool          // RECORDING_ENABLED
	PreAlertDuration  time.Duration // PRE_ALERT_DURATION
	PostAlertDuration time.Duration // POST_ALERT_DURATION
	RecordingFPS      int           // RECORDING_FPS

	AlertSuppressionDuration time.Duration // ALERT_SUPPRESSION_DURATION

	BrokerEnabled  bool   // BROKER_ENABLED
	BrokerHost     string // BROKER_HOST
	BrokerPort     int    // BROKER_PORT
	BrokerVHost    string // BROKER_VHOST
	BrokerUser     string // BROKER_USER
	BrokerPassword string // BROKER_PASS
	ExchangeName   string // BROKER_EXCHANGE
	ExchangeType   string // BROKER_EXCHANGE_TYPE: "topic" | "direct"
	RoutingKey     string // BROKER_ROUTING_KEY (direct mode)

	NoFrameWarningThreshold  time.Duration // NO_FRAME_WARNING_THRESHOLD
	NoFrameCriticalThreshold time.Duration // NO_FRAME_CRITICAL_THRESHOLD
	LowFPSRatio              float64       // LOW_FPS_RATIO
	MaxConsecutiveErrors     uint64        // MAX_CONSECUTIVE_ERRORS

	MaxParallelLayerWidth int // MAX_PARALLEL_LAYER_WIDTH

	FramesRoot string // frames output root
	VideosRoot string // videos output root

	DBDriver string // sqlite | postgres
	DBDSN    string

	OpenAIAPIKey string // enables alert_message_format=="summary"
}

// Load reads every option from the environment, falling back to defaults
// for anything unset.
func Load() Config {
	return Config{
		RingBufferDuration: envDuration("RINGBUFFER_DURATION", 30*time.Second),

		RecordingEnabled:  envBool("RECORDING_ENABLED", true),
		PreAlertDuration:  envDuration("PRE_ALERT_DURATION", 5*time.Second),
		PostAlertDuration: envDuration("POST_ALERT_DURATION", 5*time.Second),
		RecordingFPS:      envInt("RECORDING_FPS", 10),

		AlertSuppressionDuration: envDuration("ALERT_SUPPRESSION_DURATION", 30*time.Second),

		BrokerEnabled:  envBool("BROKER_ENABLED", false),
		BrokerHost:     envString("BROKER_HOST", "localhost"),
		BrokerPort:     envInt("BROKER_PORT", 5672),
		BrokerVHost:    envString("BROKER_VHOST", "/"),
		BrokerUser:     envString("BROKER_USER", "guest"),
		BrokerPassword: envString("BROKER_PASS", "guest"),
		ExchangeName:   envString("BROKER_EXCHANGE", "video_alerts"),
		ExchangeType:   envString("BROKER_EXCHANGE_TYPE", "topic"),
		RoutingKey:     envString("BROKER_ROUTING_KEY", "video.alert"),

		NoFrameWarningThreshold:  envDuration("NO_FRAME_WARNING_THRESHOLD", 10*time.Second),
		NoFrameCriticalThreshold: envDuration("NO_FRAME_CRITICAL_THRESHOLD", 30*time.Second),
		LowFPSRatio:              envFloat("LOW_FPS_RATIO", 0.5),
		MaxConsecutiveErrors:     uint64(envInt("MAX_CONSECUTIVE_ERRORS", 10)),

		MaxParallelLayerWidth: envInt("MAX_PARALLEL_LAYER_WIDTH", 4),

		FramesRoot: envString("FRAMES_ROOT", "./data/frames"),
		VideosRoot: envString("VIDEOS_ROOT", "./data/videos"),

		DBDriver: envString("DB_DRIVER", "sqlite"),
		DBDSN:    envString("DB_DSN", "video_ba_pipe.db"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
