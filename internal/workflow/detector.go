package workflow

import (
	"context"

	"github.com/videoba/pipe/internal/cvutil"
)

// Detection is one detector output: a labeled box with confidence.
type Detection struct {
	Box        cvutil.Box
	Label      string
	Confidence float64
}

// DetectorResult is what a Detector.Process call returns.
type DetectorResult struct {
	Detections []Detection
	Metadata   map[string]interface{}
	ROIMask    []cvutil.Region // optional, detector-refined ROI for downstream
}

// UpstreamResult is the cached result of one upstream node, exposed to a
// detector/function as context.
type UpstreamResult struct {
	NodeID        string
	HasDetection  bool
	Detections    []Detection
	Metadata      map[string]interface{}
}

// DetectorConfig is what a Detector.Init call receives, merged from
// AlgorithmConfig. MemoryLimitMB is advisory metadata only: an in-process
// Go call cannot be rlimited, so implementations self-limit against it.
type DetectorConfig struct {
	ScriptConfig  map[string]interface{}
	MemoryLimitMB int
}

// Detector is the abstract, compiled-in-per-script-path contract the
// executor invokes for algorithm nodes. Concrete ML inference lives
// outside this module; only the contract is defined and dispatched here.
type Detector interface {
	Init(cfg DetectorConfig) (State interface{}, err error)
	Process(ctx context.Context, frame []byte, width, height int, roi []cvutil.Region, upstream []UpstreamResult, state interface{}) (DetectorResult, error)
}

// Registry dispatches a script_path to a compiled-in Detector.
type Registry struct {
	detectors map[string]Detector
}

// NewRegistry constructs an empty Registry; callers register detectors
// with Register before loading any workflow that references them.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Detector)}
}

// Register binds a compiled-in Detector to a script path.
func (r *Registry) Register(scriptPath string, d Detector) {
	r.detectors[scriptPath] = d
}

// Lookup resolves a script path to its Detector, or false if unregistered.
func (r *Registry) Lookup(scriptPath string) (Detector, bool) {
	d, ok := r.detectors[scriptPath]
	return d, ok
}
