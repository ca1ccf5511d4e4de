package workflow

import (
	"github.com/videoba/pipe/internal/cvutil"
)

// PairResult is one matched-pair record a dual-input function emits.
type PairResult struct {
	A, B   Detection
	Value  float64
	Passed bool
}

// FunctionResult is a function node's per-frame output.
type FunctionResult struct {
	Pairs      []PairResult
	Detections []Detection // flattened: the B (or A, for single-input) side of every passing pair
	HasPass    bool
}

// dualInputFunctions names the functions that take two upstreams (A,B);
// everything else is single-input.
var dualInputFunctions = map[string]bool{
	"area_ratio":     true,
	"height_ratio":   true,
	"width_ratio":    true,
	"iou_check":      true,
	"distance_check": true,
}

// EvaluateFunction runs one function node over its upstream(s). Only the
// first two upstreams (by edge registration order) are used; any
// additional upstreams are ignored here and logged once by the caller.
func EvaluateFunction(cfg FunctionConfig, upstreams []UpstreamResult, frameWidth, frameHeight int) FunctionResult {
	if dualInputFunctions[cfg.Name] {
		return evaluateDual(cfg, upstreams, frameWidth, frameHeight)
	}
	return evaluateSingle(cfg, upstreams, frameWidth, frameHeight)
}

func evaluateDual(cfg FunctionConfig, upstreams []UpstreamResult, frameWidth, frameHeight int) FunctionResult {
	var result FunctionResult
	if len(upstreams) < 2 {
		return result
	}
	a, b := upstreams[0], upstreams[1]
	for _, da := range a.Detections {
		for _, db := range b.Detections {
			value, ok := dualValue(cfg.Name, da.Box, db.Box)
			if !ok {
				continue
			}
			passed := cfg.Operator.evalRatio(value, cfg.Threshold)
			if cfg.Name == "distance_check" {
				passed = cfg.Operator.evalDistance(value, cfg.Threshold)
			}
			result.Pairs = append(result.Pairs, PairResult{A: da, B: db, Value: value, Passed: passed})
			if passed {
				result.Detections = append(result.Detections, db)
				result.HasPass = true
			}
		}
	}
	return result
}

func dualValue(name string, a, b cvutil.Box) (float64, bool) {
	switch name {
	case "area_ratio":
		if b.Area() == 0 {
			return 0, false
		}
		return float64(a.Area()) / float64(b.Area()), true
	case "height_ratio":
		if b.H == 0 {
			return 0, false
		}
		return float64(a.H) / float64(b.H), true
	case "width_ratio":
		if b.W == 0 {
			return 0, false
		}
		return float64(a.W) / float64(b.W), true
	case "iou_check":
		return cvutil.IoU(a, b), true
	case "distance_check":
		return cvutil.CenterDistance(a, b), true
	default:
		return 0, false
	}
}

func evaluateSingle(cfg FunctionConfig, upstreams []UpstreamResult, frameWidth, frameHeight int) FunctionResult {
	var result FunctionResult
	if len(upstreams) < 1 {
		return result
	}
	a := upstreams[0]
	for _, da := range a.Detections {
		value, ok := singleValue(cfg.Name, da.Box, frameWidth, frameHeight)
		if !ok {
			continue
		}
		passed := cfg.Operator.evalRatio(value, cfg.Threshold)
		if cfg.Name == "size_absolute" {
			passed = cfg.Operator.evalCount(int(value), int(cfg.Threshold))
		}
		result.Pairs = append(result.Pairs, PairResult{A: da, Value: value, Passed: passed})
		if passed {
			result.Detections = append(result.Detections, da)
			result.HasPass = true
		}
	}
	return result
}

func singleValue(name string, box cvutil.Box, frameWidth, frameHeight int) (float64, bool) {
	switch name {
	case "height_ratio_frame":
		if frameHeight == 0 {
			return 0, false
		}
		return float64(box.H) / float64(frameHeight), true
	case "width_ratio_frame":
		if frameWidth == 0 {
			return 0, false
		}
		return float64(box.W) / float64(frameWidth), true
	case "area_ratio_frame":
		frameArea := frameWidth * frameHeight
		if frameArea == 0 {
			return 0, false
		}
		return float64(box.Area()) / float64(frameArea), true
	case "size_absolute":
		return float64(max(box.W, box.H)), true
	default:
		return 0, false
	}
}
