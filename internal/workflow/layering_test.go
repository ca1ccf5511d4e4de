package workflow

import (
	"context"
	"testing"

	"github.com/videoba/pipe/internal/alertwindow"
	"github.com/videoba/pipe/internal/model"
)

// Layering must terminate with each non-alert node in exactly one layer,
// alert nodes in none.
func TestLayersCoverEachNonSinkNodeOnce(t *testing.T) {
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "roi", Type: model.NodeROI},
		{ID: "algoA", Type: model.NodeAlgorithm, DataID: intPtr(1)},
		{ID: "algoB", Type: model.NodeAlgorithm, DataID: intPtr(2)},
		{ID: "fn", Type: model.NodeFunction, Config: map[string]interface{}{"function_name": "iou_check"}},
		{ID: "cond", Type: model.NodeCondition},
		{ID: "alert", Type: model.NodeAlert},
	}
	conns := []model.WorkflowConnection{
		{From: "src", To: "roi"},
		{From: "src", To: "algoB"},
		{From: "roi", To: "algoA"},
		{From: "algoA", To: "fn"},
		{From: "algoB", To: "fn"},
		{From: "fn", To: "cond"},
		{From: "cond", To: "alert"},
	}
	g := mustLoad(t, buildGraphJSON(nodes, conns), fakeAlgoLookup{scriptPath: "x"})

	layers := Layers(g)
	seen := make(map[int]int)
	for _, layer := range layers {
		for _, idx := range layer.Nodes {
			seen[idx]++
		}
	}
	for i, node := range g.Nodes {
		if node.Type == model.NodeAlert {
			if seen[i] != 0 {
				t.Fatalf("alert node %q scheduled in a layer", node.ID)
			}
			continue
		}
		if seen[i] != 1 {
			t.Fatalf("node %q appears in %d layers, want 1", node.ID, seen[i])
		}
	}
}

// A layer containing a function node must not run in parallel; layers
// without one may.
func TestLayerParallelismGatedOnFunctionNodes(t *testing.T) {
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "algoA", Type: model.NodeAlgorithm, DataID: intPtr(1)},
		{ID: "algoB", Type: model.NodeAlgorithm, DataID: intPtr(2)},
		{ID: "fn", Type: model.NodeFunction, Config: map[string]interface{}{"function_name": "iou_check"}},
	}
	conns := []model.WorkflowConnection{
		{From: "src", To: "algoA"},
		{From: "src", To: "algoB"},
		{From: "algoA", To: "fn"},
		{From: "algoB", To: "fn"},
	}
	g := mustLoad(t, buildGraphJSON(nodes, conns), fakeAlgoLookup{scriptPath: "x"})

	layers := Layers(g)
	for _, layer := range layers {
		hasFunc := false
		for _, idx := range layer.Nodes {
			if g.Nodes[idx].Type == model.NodeFunction {
				hasFunc = true
			}
		}
		if hasFunc && layer.Parallel {
			t.Fatalf("layer with a function node marked parallel")
		}
		if !hasFunc && !layer.Parallel {
			t.Fatalf("layer without a function node marked serial")
		}
	}
}

// Within a layer, type priority orders source < roi < algorithm <
// function < condition.
func TestLayerTypePriorityOrdering(t *testing.T) {
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "algo", Type: model.NodeAlgorithm, DataID: intPtr(1)},
		{ID: "roi", Type: model.NodeROI},
	}
	conns := []model.WorkflowConnection{
		{From: "src", To: "algo"},
		{From: "src", To: "roi"},
	}
	g := mustLoad(t, buildGraphJSON(nodes, conns), fakeAlgoLookup{scriptPath: "x"})

	layers := Layers(g)
	if len(layers) != 2 {
		t.Fatalf("got %d layers, want 2", len(layers))
	}
	second := layers[1]
	if len(second.Nodes) != 2 {
		t.Fatalf("second layer has %d nodes, want 2", len(second.Nodes))
	}
	if g.Nodes[second.Nodes[0]].Type != model.NodeROI || g.Nodes[second.Nodes[1]].Type != model.NodeAlgorithm {
		t.Fatalf("layer not ordered roi < algorithm: %q then %q",
			g.Nodes[second.Nodes[0]].Type, g.Nodes[second.Nodes[1]].Type)
	}
}

// A "false" edge passes iff the upstream has no detection; "true" is the
// mirror image.
func TestEdgeConditionFalsePassesOnNoDetection(t *testing.T) {
	for _, tc := range []struct {
		cond      model.EdgeCondition
		detects   int
		wantFired bool
	}{
		{model.EdgeFalse, 0, true},
		{model.EdgeFalse, 1, false},
		{model.EdgeTrue, 1, true},
		{model.EdgeTrue, 0, false},
		{model.EdgeNo, 0, true},
		{model.EdgeYes, 1, true},
		{model.EdgeUnconditional, 0, true},
	} {
		count := tc.detects
		nodes := []model.WorkflowNode{
			{ID: "src", Type: model.NodeSource},
			{ID: "algo", Type: model.NodeAlgorithm, DataID: intPtr(1)},
			{ID: "alert", Type: model.NodeAlert, Config: map[string]interface{}{"alert_type": "t", "cooldown_seconds": float64(0)}},
		}
		conns := []model.WorkflowConnection{
			{From: "src", To: "algo"},
			{From: "algo", To: "alert", Condition: tc.cond},
		}
		g := mustLoad(t, buildGraphJSON(nodes, conns), fakeAlgoLookup{scriptPath: "counter"})

		registry := NewRegistry()
		registry.Register("counter", countingDetector{n: &count})
		ex := NewForTest(g, model.VideoSource{ID: 1, SourceCode: "cam"}, model.Workflow{ID: 1}, alertwindow.New(), registry, 10, 10)

		res, err := ex.RunTest(context.Background(), make([]byte, 10*10*3), 1.0)
		if err != nil {
			t.Fatalf("cond=%q: RunTest: %v", tc.cond, err)
		}
		fired := false
		for _, e := range res.Log {
			if e.Level == LogTrigger {
				fired = true
			}
		}
		if fired != tc.wantFired {
			t.Fatalf("cond=%q detects=%d: fired=%v, want %v", tc.cond, tc.detects, fired, tc.wantFired)
		}
	}
}

// Two roi ancestors on different paths: the nearer one by hop count wins;
// equal distance falls back to edge registration order.
func TestResolveROINearestAncestorByHopCount(t *testing.T) {
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "roiFar", Type: model.NodeROI, Config: cfgRegions([][2]int{{1, 1}, {2, 1}, {2, 2}})},
		{ID: "mid", Type: model.NodeAlgorithm, DataID: intPtr(1)},
		{ID: "roiNear", Type: model.NodeROI, Config: cfgRegions([][2]int{{9, 9}, {10, 9}, {10, 10}})},
		{ID: "algo", Type: model.NodeAlgorithm, DataID: intPtr(1)},
	}
	conns := []model.WorkflowConnection{
		{From: "src", To: "roiFar"},
		{From: "src", To: "roiNear"},
		{From: "roiFar", To: "mid"},
		{From: "mid", To: "algo"},
		{From: "roiNear", To: "algo"},
	}
	g := mustLoad(t, buildGraphJSON(nodes, conns), fakeAlgoLookup{scriptPath: "x"})

	effective := ResolveROI(g)
	idx := g.NodeByID("algo")
	if len(effective[idx].Regions) != 1 || effective[idx].Regions[0][0].X != 9 {
		t.Fatalf("algo resolved ROI %+v, want roiNear's regions", effective[idx].Regions)
	}
}

// An algorithm with no roi ancestor uses its own configured ROI.
func TestResolveROIFallsBackToOwnConfig(t *testing.T) {
	nodes := []model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "algo", Type: model.NodeAlgorithm, DataID: intPtr(1), Config: map[string]interface{}{
			"roi": []interface{}{[]interface{}{
				[]interface{}{float64(5), float64(5)},
				[]interface{}{float64(6), float64(5)},
				[]interface{}{float64(6), float64(6)},
			}},
		}},
	}
	conns := []model.WorkflowConnection{{From: "src", To: "algo"}}
	g := mustLoad(t, buildGraphJSON(nodes, conns), fakeAlgoLookup{scriptPath: "x"})

	effective := ResolveROI(g)
	idx := g.NodeByID("algo")
	if len(effective[idx].Regions) != 1 || effective[idx].Regions[0][0].X != 5 {
		t.Fatalf("algo resolved ROI %+v, want its own configured regions", effective[idx].Regions)
	}
}

// Load-time validation: missing source, duplicate source, unreachable
// node, and unknown type are all fatal.
func TestLoadValidation(t *testing.T) {
	lookup := fakeAlgoLookup{scriptPath: "x"}

	noSource := buildGraphJSON([]model.WorkflowNode{{ID: "a", Type: model.NodeROI}}, nil)
	if _, err := Load(&model.Workflow{ID: 1, Data: noSource}, lookup); err != ErrNoSourceNode {
		t.Fatalf("no source: err = %v, want ErrNoSourceNode", err)
	}

	twoSources := buildGraphJSON([]model.WorkflowNode{
		{ID: "a", Type: model.NodeSource},
		{ID: "b", Type: model.NodeSource},
	}, nil)
	if _, err := Load(&model.Workflow{ID: 1, Data: twoSources}, lookup); err != ErrMultipleSourceNodes {
		t.Fatalf("two sources: err = %v, want ErrMultipleSourceNodes", err)
	}

	unreachable := buildGraphJSON([]model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "island", Type: model.NodeROI},
	}, nil)
	if _, err := Load(&model.Workflow{ID: 1, Data: unreachable}, lookup); err == nil {
		t.Fatalf("unreachable node: expected error")
	}

	unknown := buildGraphJSON([]model.WorkflowNode{
		{ID: "src", Type: model.NodeSource},
		{ID: "x", Type: model.NodeType("banana")},
	}, []model.WorkflowConnection{{From: "src", To: "x"}})
	if _, err := Load(&model.Workflow{ID: 1, Data: unknown}, lookup); err == nil {
		t.Fatalf("unknown type: expected error")
	}
}
