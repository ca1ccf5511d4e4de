package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/videoba/pipe/internal/cvutil"
	"github.com/videoba/pipe/internal/model"
)

// AlgorithmLookup resolves an Algorithm row by id when hydrating algorithm
// nodes. Implemented by *store.Store; kept as an interface here so
// workflow doesn't need to import store's gorm plumbing for what is, from
// this package's view, a single lookup.
type AlgorithmLookup interface {
	GetAlgorithm(id uint) (*model.Algorithm, error)
}

// Load parses a Workflow's DAG JSON and builds an index-based Graph,
// hydrating algorithm/function/condition/alert node configs. A missing or
// duplicate source node, an unreachable node, or an unknown node type is
// fatal here rather than at execution time.
func Load(wf *model.Workflow, algorithms AlgorithmLookup) (*Graph, error) {
	var raw model.WorkflowGraph
	if err := json.Unmarshal([]byte(wf.Data), &raw); err != nil {
		return nil, fmt.Errorf("workflow: parse graph json: %w", err)
	}

	g := &Graph{
		idIndex:    make(map[string]int, len(raw.Nodes)),
		sourceNode: -1,
	}

	for i, rn := range raw.Nodes {
		g.idIndex[rn.ID] = i
	}

	g.Nodes = make([]Node, len(raw.Nodes))
	for i, rn := range raw.Nodes {
		node, err := hydrateNode(rn, algorithms)
		if err != nil {
			return nil, err
		}
		g.Nodes[i] = node
		if node.Type == model.NodeSource {
			if g.sourceNode != -1 {
				return nil, ErrMultipleSourceNodes
			}
			g.sourceNode = i
		}
	}
	if g.sourceNode == -1 {
		return nil, ErrNoSourceNode
	}

	g.outgoing = make([][]int, len(g.Nodes))
	g.incoming = make([][]int, len(g.Nodes))
	for _, rc := range raw.Connections {
		fromIdx, ok := g.idIndex[rc.From]
		if !ok {
			return nil, fmt.Errorf("workflow: connection references unknown node %q", rc.From)
		}
		toIdx, ok := g.idIndex[rc.To]
		if !ok {
			return nil, fmt.Errorf("workflow: connection references unknown node %q", rc.To)
		}
		edgeIdx := len(g.Edges)
		g.Edges = append(g.Edges, Edge{From: fromIdx, To: toIdx, Cond: rc.Condition})
		g.outgoing[fromIdx] = append(g.outgoing[fromIdx], edgeIdx)
		g.incoming[toIdx] = append(g.incoming[toIdx], edgeIdx)
	}

	if err := checkReachability(g); err != nil {
		return nil, err
	}

	return g, nil
}

// checkReachability verifies every node is reachable from the source node
// via a plain BFS over outgoing edges.
func checkReachability(g *Graph) error {
	seen := make([]bool, len(g.Nodes))
	queue := []int{g.sourceNode}
	seen[g.sourceNode] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for i, ok := range seen {
		if !ok {
			return ErrUnreachableNode{NodeID: g.Nodes[i].ID}
		}
	}
	return nil
}

func hydrateNode(rn model.WorkflowNode, algorithms AlgorithmLookup) (Node, error) {
	node := Node{ID: rn.ID, Type: rn.Type}
	switch rn.Type {
	case model.NodeSource:
		node.SourceVideoID = rn.DataID
	case model.NodeROI:
		node.ROI = &ROIConfig{Regions: decodeRegions(rn.Config["regions"])}
	case model.NodeAlgorithm:
		cfg, err := hydrateAlgorithm(rn, algorithms)
		if err != nil {
			return Node{}, err
		}
		node.Algorithm = cfg
	case model.NodeFunction:
		node.Function = hydrateFunction(rn)
	case model.NodeCondition:
		node.Condition = hydrateCondition(rn)
	case model.NodeAlert:
		node.Alert = hydrateAlert(rn)
	default:
		return Node{}, ErrUnknownNodeType{NodeID: rn.ID, Type: rn.Type}
	}
	return node, nil
}

func hydrateAlgorithm(rn model.WorkflowNode, algorithms AlgorithmLookup) (*AlgorithmConfig, error) {
	cfg := &AlgorithmConfig{
		IntervalSeconds: 1,
		RuntimeTimeout:  5,
		MemoryLimitMB:   512,
	}
	if rn.DataID != nil {
		alg, err := algorithms.GetAlgorithm(uint(*rn.DataID))
		if err != nil {
			return nil, fmt.Errorf("workflow: node %q: load algorithm %d: %w", rn.ID, *rn.DataID, err)
		}
		cfg.ScriptPath = alg.ScriptPath
		cfg.IntervalSeconds = alg.IntervalSeconds
		cfg.RuntimeTimeout = alg.RuntimeTimeout
		cfg.MemoryLimitMB = alg.MemoryLimitMB
		cfg.LabelName = alg.LabelName
		cfg.LabelColor = alg.LabelColor
		if alg.ScriptConfig != "" {
			_ = json.Unmarshal([]byte(alg.ScriptConfig), &cfg.ScriptConfig)
		}
	}
	if rn.Config != nil {
		if v, ok := rn.Config["interval_seconds"].(float64); ok {
			cfg.IntervalSeconds = v
		}
		if v, ok := rn.Config["runtime_timeout"].(float64); ok {
			cfg.RuntimeTimeout = v
		}
		if v, ok := rn.Config["script_config"].(map[string]interface{}); ok {
			if cfg.ScriptConfig == nil {
				cfg.ScriptConfig = map[string]interface{}{}
			}
			for k, val := range v {
				cfg.ScriptConfig[k] = val
			}
		}
		cfg.ROI = ROIConfig{Regions: decodeRegions(rn.Config["roi"])}
	}
	return cfg, nil
}

func hydrateFunction(rn model.WorkflowNode) *FunctionConfig {
	cfg := &FunctionConfig{Operator: OpGreaterThan}
	if rn.Config == nil {
		return cfg
	}
	if v, ok := rn.Config["function_name"].(string); ok {
		cfg.Name = v
	}
	if v, ok := rn.Config["operator"].(string); ok {
		cfg.Operator = Operator(v)
	}
	if v, ok := rn.Config["threshold"].(float64); ok {
		cfg.Threshold = v
	}
	return cfg
}

func hydrateCondition(rn model.WorkflowNode) *ConditionConfig {
	cfg := &ConditionConfig{Comparison: OpGreaterThan, TargetCount: 1}
	if rn.Config == nil {
		return cfg
	}
	if v, ok := rn.Config["comparison"].(string); ok {
		cfg.Comparison = Operator(v)
	}
	if v, ok := rn.Config["target_count"].(float64); ok {
		cfg.TargetCount = int(v)
	}
	return cfg
}

func hydrateAlert(rn model.WorkflowNode) *AlertConfig {
	cfg := &AlertConfig{
		AlertLevel:      "info",
		MessageFormat:   FormatDetailed,
		WindowSeconds:   10,
		WindowMode:      WindowCount,
		WindowThreshold: 1,
		// CooldownSeconds is left unset (-1) here; NewFromGraph fills it
		// from Deps.AlertSuppressionDuration when the node's own config
		// doesn't name one, so the env-settable global default actually
		// takes effect instead of a bare literal.
		CooldownSeconds: -1,
		PreSeconds:      5,
		PostSeconds:     5,
	}
	if rn.Config == nil {
		return cfg
	}
	if v, ok := rn.Config["alert_type"].(string); ok {
		cfg.AlertType = v
	}
	if v, ok := rn.Config["alert_level"].(string); ok {
		cfg.AlertLevel = v
	}
	if v, ok := rn.Config["alert_message_format"].(string); ok {
		cfg.MessageFormat = MessageFormat(v)
	}
	if v, ok := rn.Config["use_window"].(bool); ok {
		cfg.UseWindow = v
	}
	if v, ok := rn.Config["window_size"].(float64); ok {
		cfg.WindowSeconds = v
	}
	if v, ok := rn.Config["window_mode"].(string); ok {
		cfg.WindowMode = WindowMode(v)
	}
	if v, ok := rn.Config["window_threshold"].(float64); ok {
		cfg.WindowThreshold = v
	}
	if v, ok := rn.Config["cooldown_seconds"].(float64); ok {
		cfg.CooldownSeconds = v
	}
	if v, ok := rn.Config["recording_enabled"].(bool); ok {
		cfg.RecordingEnabled = v
	}
	if v, ok := rn.Config["pre_seconds"].(float64); ok {
		cfg.PreSeconds = v
	}
	if v, ok := rn.Config["post_seconds"].(float64); ok {
		cfg.PostSeconds = v
	}
	return cfg
}

// decodeRegions decodes the free-form "regions"/"roi" config value
// (a []interface{} of []interface{}{x,y} pairs from the workflow JSON)
// into []cvutil.Region.
func decodeRegions(raw interface{}) []cvutil.Region {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var regions []cvutil.Region
	for _, ra := range arr {
		points, ok := ra.([]interface{})
		if !ok {
			continue
		}
		var region cvutil.Region
		for _, pa := range points {
			pair, ok := pa.([]interface{})
			if !ok || len(pair) != 2 {
				continue
			}
			x, xok := pair[0].(float64)
			y, yok := pair[1].(float64)
			if !xok || !yok {
				continue
			}
			region = append(region, cvutil.Point{X: int(x), Y: int(y)})
		}
		if len(region) > 0 {
			regions = append(regions, region)
		}
	}
	return regions
}
