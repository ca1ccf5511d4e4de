package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/videoba/pipe/internal/alertwindow"
	"github.com/videoba/pipe/internal/cvutil"
	"github.com/videoba/pipe/internal/model"
)

type fakeAlgoLookup struct {
	scriptPath string
}

func (f fakeAlgoLookup) GetAlgorithm(id uint) (*model.Algorithm, error) {
	return &model.Algorithm{ID: id, ScriptPath: f.scriptPath, IntervalSeconds: 0}, nil
}

// roiAwareDetector returns one detection box whose label encodes the ROI
// it was invoked with, so tests can assert which ROI reached a node.
type roiAwareDetector struct{}

func (roiAwareDetector) Init(cfg DetectorConfig) (interface{}, error) { return nil, nil }

func (roiAwareDetector) Process(ctx context.Context, frame []byte, w, h int, roi []cvutil.Region, upstream []UpstreamResult, state interface{}) (DetectorResult, error) {
	label := "no-roi"
	if len(roi) > 0 && len(roi[0]) > 0 {
		label = fmt.Sprintf("%d,%d", roi[0][0].X, roi[0][0].Y)
	}
	return DetectorResult{Detections: []Detection{{Box: cvutil.Box{X: 1, Y: 1, W: 2, H: 2}, Label: label}}}, nil
}

func buildGraphJSON(nodes []model.WorkflowNode, conns []model.WorkflowConnection) string {
	g := model.WorkflowGraph{Nodes: nodes, Connections: conns}
	b, _ := json.Marshal(g)
	return string(b)
}

func mustLoad(t *testing.T, data string, lookup AlgorithmLookup) *Graph {
	t.Helper()
	wf := &model.Workflow{ID: 1, Name: "test", Data: data}
	g, err := Load(wf, lookup)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return g
}

func cfgRegions(points [][2]int) map[string]interface{} {
	var region []interface{}
	for _, p := range points {
		region = append(region, []interface{}{float64(p[0]), float64(p[1])})
	}
	return map[string]interface{}{"regions": []interface{}{region}}
}

func intPtr(i int) *int { return &i }

// ROI branch isolation: two sibling branches with different roi nodes
// must each see only their own regions.

func TestROIBranchIsolation(t *testing.T) {
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "roiA", Type: model.NodeROI, Config: cfgRegions([][2]int{{10, 10}, {20, 10}, {20, 20}})},
		{ID: "roiB", Type: model.NodeROI, Config: cfgRegions([][2]int{{50, 50}, {60, 50}, {60, 60}})},
		{ID: "algoX", Type: model.NodeAlgorithm, DataID: intPtr(1)},
		{ID: "algoY", Type: model.NodeAlgorithm, DataID: intPtr(1)},
	}
	conns := []model.WorkflowConnection{
		{From: "src", To: "roiA"},
		{From: "src", To: "roiB"},
		{From: "roiA", To: "algoX"},
		{From: "roiB", To: "algoY"},
	}
	data := buildGraphJSON(nodes, conns)
	g := mustLoad(t, data, fakeAlgoLookup{scriptPath: "roi-aware"})

	source := model.VideoSource{ID: 1, SourceCode: "cam1", Width: 100, Height: 100}
	wf := model.Workflow{ID: 1, Name: "test"}
	window := alertwindow.New()
	registry := NewRegistry()
	registry.Register("roi-aware", roiAwareDetector{})

	ex := NewForTest(g, source, wf, window, registry, 100, 100)
	frame := make([]byte, 100*100*3)

	res, err := ex.RunTest(context.Background(), frame, 1.0)
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}

	x := res.Nodes["algoX"]
	y := res.Nodes["algoY"]
	if len(x.Detections) != 1 || len(y.Detections) != 1 {
		t.Fatalf("expected one detection each, got %d/%d", len(x.Detections), len(y.Detections))
	}
	if x.Detections[0].Label != "10,10" {
		t.Fatalf("algoX expected ROI label 10,10, got %q", x.Detections[0].Label)
	}
	if y.Detections[0].Label != "50,50" {
		t.Fatalf("algoY expected ROI label 50,50, got %q", y.Detections[0].Label)
	}
}

// countingDetector returns exactly N detections per invocation, driven by
// a pointer so the test controls detection count per frame.
type countingDetector struct{ n *int }

func (d countingDetector) Init(cfg DetectorConfig) (interface{}, error) { return nil, nil }

func (d countingDetector) Process(ctx context.Context, frame []byte, w, h int, roi []cvutil.Region, upstream []UpstreamResult, state interface{}) (DetectorResult, error) {
	var dets []Detection
	for i := 0; i < *d.n; i++ {
		dets = append(dets, Detection{Box: cvutil.Box{X: i, Y: i, W: 5, H: 5}})
	}
	return DetectorResult{Detections: dets}, nil
}

// Condition branch plus suppression: detection counts [1,2,3] against a
// >1 condition with a 10s cooldown fire exactly once, at the middle frame.

func TestConditionAndSuppression(t *testing.T) {
	count := 0
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "algoDetect", Type: model.NodeAlgorithm, DataID: intPtr(1)},
		{ID: "cond", Type: model.NodeCondition, Config: map[string]interface{}{
			"comparison": "greater_than", "target_count": float64(1),
		}},
		{ID: "alertA", Type: model.NodeAlert, Config: map[string]interface{}{
			"alert_type": "motion", "cooldown_seconds": float64(10),
		}},
	}
	conns := []model.WorkflowConnection{
		{From: "src", To: "algoDetect"},
		{From: "algoDetect", To: "cond"},
		{From: "cond", To: "alertA"},
	}
	data := buildGraphJSON(nodes, conns)
	g := mustLoad(t, data, fakeAlgoLookup{scriptPath: "counter"})

	source := model.VideoSource{ID: 1, SourceCode: "cam1", Width: 10, Height: 10}
	wf := model.Workflow{ID: 1, Name: "test"}
	window := alertwindow.New()
	registry := NewRegistry()
	registry.Register("counter", countingDetector{n: &count})
	ex := NewForTest(g, source, wf, window, registry, 10, 10)
	frame := make([]byte, 10*10*3)
	ctx := context.Background()

	counts := []int{1, 2, 3}
	times := []float64{100, 101, 102}
	var triggered []bool
	for i, c := range counts {
		count = c
		res, err := ex.RunTest(ctx, frame, times[i])
		if err != nil {
			t.Fatalf("RunTest frame %d: %v", i, err)
		}
		fired := false
		for _, e := range res.Log {
			if e.Level == LogTrigger {
				fired = true
			}
		}
		triggered = append(triggered, fired)
	}

	if triggered[0] {
		t.Fatalf("frame 0 (count=1) should not fire: condition is >1")
	}
	if !triggered[1] {
		t.Fatalf("frame 1 (count=2) should fire: condition satisfied")
	}
	if triggered[2] {
		t.Fatalf("frame 2 (count=3, 1s after trigger, cooldown=10s) should be suppressed")
	}
}

// Window ratio mode over a fixed detection pattern.

func TestWindowRatioMode(t *testing.T) {
	window := alertwindow.New()
	pattern := []bool{true, false, false, false, true, false, false, true, false, false}

	for i, detected := range pattern {
		ts := float64(i + 1)
		window.AddRecord(1, "alertA", ts, detected, "")
		passed, stats := window.CheckCondition(1, "alertA", ts, 10, alertwindow.ModeRatio, 0.3)
		switch i + 1 {
		case 4:
			if passed {
				t.Fatalf("frame 4: ratio %.3f should not pass threshold 0.3", stats.DetectionRatio)
			}
		case 9:
			if !passed {
				t.Fatalf("frame 9: ratio %.3f should pass threshold 0.3", stats.DetectionRatio)
			}
		case 10:
			if !passed {
				t.Fatalf("frame 10: ratio %.3f should pass threshold 0.3", stats.DetectionRatio)
			}
		}
	}
}

// Function node skip when an upstream is throttled.

func TestFunctionNodeSkipOnThrottle(t *testing.T) {
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "algoA", Type: model.NodeAlgorithm, DataID: intPtr(1), Config: map[string]interface{}{"interval_seconds": float64(0.5)}},
		{ID: "algoB", Type: model.NodeAlgorithm, DataID: intPtr(2), Config: map[string]interface{}{"interval_seconds": float64(0.1)}},
		{ID: "fn", Type: model.NodeFunction, Config: map[string]interface{}{
			"function_name": "iou_check", "operator": "greater_than", "threshold": float64(0.5),
		}},
		{ID: "alertA", Type: model.NodeAlert, Config: map[string]interface{}{"alert_type": "overlap"}},
	}
	conns := []model.WorkflowConnection{
		{From: "src", To: "algoA"},
		{From: "src", To: "algoB"},
		{From: "algoA", To: "fn"},
		{From: "algoB", To: "fn"},
		{From: "fn", To: "alertA"},
	}
	data := buildGraphJSON(nodes, conns)
	g := mustLoad(t, data, fakeAlgoLookup{scriptPath: "fixed"})

	source := model.VideoSource{ID: 1, SourceCode: "cam1", Width: 100, Height: 100}
	wf := model.Workflow{ID: 1, Name: "test"}
	window := alertwindow.New()
	registry := NewRegistry()
	registry.Register("fixed", fixedBoxDetector{})
	ex := NewForTest(g, source, wf, window, registry, 100, 100)
	frame := make([]byte, 100*100*3)
	ctx := context.Background()

	// First frame: both nodes run (no prior lastExec).
	res1, err := ex.RunTest(ctx, frame, 1.0)
	if err != nil {
		t.Fatalf("RunTest frame1: %v", err)
	}
	if !res1.Nodes["fn"].Executed {
		t.Fatalf("frame1: function node expected to execute once both upstreams ran")
	}

	// Second frame 0.2s later: algoA (interval 0.5s) is throttled, algoB
	// (interval 0.1s) executes. fn must be skipped.
	res2, err := ex.RunTest(ctx, frame, 1.2)
	if err != nil {
		t.Fatalf("RunTest frame2: %v", err)
	}
	if res2.Nodes["algoA"].Executed {
		t.Fatalf("frame2: algoA should be throttled")
	}
	if res2.Nodes["fn"].Executed {
		t.Fatalf("frame2: function node should be skipped when an upstream is throttled")
	}
}

type fixedBoxDetector struct{}

func (fixedBoxDetector) Init(cfg DetectorConfig) (interface{}, error) { return nil, nil }

func (fixedBoxDetector) Process(ctx context.Context, frame []byte, w, h int, roi []cvutil.Region, upstream []UpstreamResult, state interface{}) (DetectorResult, error) {
	return DetectorResult{Detections: []Detection{{Box: cvutil.Box{X: 10, Y: 10, W: 20, H: 20}}}}, nil
}
