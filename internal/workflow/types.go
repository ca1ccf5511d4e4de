// Package workflow implements the per-source workflow executor: loading a
// persisted DAG into typed nodes, Kahn-layering it, running per-node
// throttling and branch-local ROI propagation, evaluating edge conditions
// and function nodes, firing alert nodes through the alert window, video
// recorder, and broker publisher, and collecting a per-frame execution
// log. Dependencies are constructor-injected throughout rather than held
// as package-level singletons.
package workflow

import (
	"fmt"

	"github.com/videoba/pipe/internal/cvutil"
	"github.com/videoba/pipe/internal/model"
)

// typePriority orders nodes within a Kahn layer:
// source < roi < algorithm < function < condition < alert.
var typePriority = map[model.NodeType]int{
	model.NodeSource:    0,
	model.NodeROI:       1,
	model.NodeAlgorithm: 2,
	model.NodeFunction:  3,
	model.NodeCondition: 4,
	model.NodeAlert:     5,
}

// ROIConfig is an algorithm or roi node's configured regions.
type ROIConfig struct {
	Regions []cvutil.Region
}

// AlgorithmConfig is the hydrated runtime config for an algorithm node:
// fixed Algorithm attributes merged with node-level DAG config and
// defaults.
type AlgorithmConfig struct {
	ScriptPath      string
	ScriptConfig    map[string]interface{}
	IntervalSeconds float64
	RuntimeTimeout  float64
	MemoryLimitMB   int
	LabelName       string
	LabelColor      string
	ROI             ROIConfig
}

// FunctionConfig is a function node's hydrated config.
type FunctionConfig struct {
	Name      string // e.g. "area_ratio", "iou_check"
	Operator  Operator
	Threshold float64
}

// ConditionConfig is a condition node's hydrated config.
type ConditionConfig struct {
	Comparison  Operator
	TargetCount int
}

// AlertConfig is an alert node's hydrated config.
type AlertConfig struct {
	AlertType     string
	AlertLevel    string
	MessageFormat MessageFormat // detailed | simple | summary

	UseWindow       bool
	WindowSeconds   float64
	WindowMode      WindowMode
	WindowThreshold float64

	CooldownSeconds float64

	RecordingEnabled bool
	PreSeconds       float64
	PostSeconds      float64
}

// WindowMode mirrors alertwindow.Mode without importing it here, so
// workflow's node configs stay a plain data description independent of
// the aggregator's package.
type WindowMode string

const (
	WindowCount       WindowMode = "count"
	WindowRatio       WindowMode = "ratio"
	WindowConsecutive WindowMode = "consecutive"
)

// MessageFormat selects how the execution log is rendered into
// alert_message.
type MessageFormat string

const (
	FormatDetailed MessageFormat = "detailed"
	FormatSimple   MessageFormat = "simple"
	FormatSummary  MessageFormat = "summary"
)

// Operator is a threshold comparator used by function/condition nodes.
type Operator string

const (
	OpLessThan    Operator = "less_than"
	OpGreaterThan Operator = "greater_than"
	OpEqual       Operator = "equal"
)

// Equality tolerances for the "equal" operator: ratios compare within
// 0.01, pixel distances within 1.0.
const (
	ratioEpsilon    = 0.01
	distanceEpsilon = 1.0
)

func (op Operator) evalRatio(value, threshold float64) bool {
	switch op {
	case OpLessThan:
		return value < threshold
	case OpGreaterThan:
		return value > threshold
	case OpEqual:
		return abs(value-threshold) <= ratioEpsilon
	default:
		return false
	}
}

func (op Operator) evalDistance(value, threshold float64) bool {
	switch op {
	case OpLessThan:
		return value < threshold
	case OpGreaterThan:
		return value > threshold
	case OpEqual:
		return abs(value-threshold) <= distanceEpsilon
	default:
		return false
	}
}

func (op Operator) evalCount(value, threshold int) bool {
	switch op {
	case OpLessThan:
		return value < threshold
	case OpGreaterThan:
		return value > threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Node is one tagged-variant DAG node; exactly one of the per-type config
// pointers is set, matching Type.
type Node struct {
	ID   string
	Type model.NodeType

	Algorithm *AlgorithmConfig
	Function  *FunctionConfig
	Condition *ConditionConfig
	Alert     *AlertConfig
	ROI       *ROIConfig

	// SourceVideoID is the source node's dataId: the VideoSource row this
	// workflow reads frames from. Only set on the graph's NodeSource.
	SourceVideoID *int
}

// Edge is (from, to, cond) as flat indices into Graph.Nodes.
type Edge struct {
	From, To int
	Cond     model.EdgeCondition
}

// Graph is the loaded, index-based workflow DAG.
type Graph struct {
	Nodes []Node

	// outgoing[i] lists edge indices leaving Nodes[i]; incoming[i] lists
	// edge indices arriving at Nodes[i]. Kept alongside Edges so both
	// traversal directions are O(1) to enumerate.
	Edges    []Edge
	outgoing [][]int
	incoming [][]int

	idIndex    map[string]int
	sourceNode int
}

// NodeByID returns the node index for a DAG node id, or -1 if unknown.
func (g *Graph) NodeByID(id string) int {
	if idx, ok := g.idIndex[id]; ok {
		return idx
	}
	return -1
}

// SourceNode returns the index of the graph's unique source node.
func (g *Graph) SourceNode() int { return g.sourceNode }

// SourceVideoSourceID returns the VideoSource id the graph's source node
// references via its dataId, or false if the source node carries none.
func (g *Graph) SourceVideoSourceID() (uint, bool) {
	id := g.Nodes[g.sourceNode].SourceVideoID
	if id == nil {
		return 0, false
	}
	return uint(*id), true
}

// Outgoing returns the edges leaving node i.
func (g *Graph) Outgoing(i int) []Edge {
	out := make([]Edge, len(g.outgoing[i]))
	for j, e := range g.outgoing[i] {
		out[j] = g.Edges[e]
	}
	return out
}

// Incoming returns the edges arriving at node i.
func (g *Graph) Incoming(i int) []Edge {
	out := make([]Edge, len(g.incoming[i]))
	for j, e := range g.incoming[i] {
		out[j] = g.Edges[e]
	}
	return out
}

// ErrNoSourceNode is returned when a workflow graph has no source node.
var ErrNoSourceNode = fmt.Errorf("workflow: graph has no source node")

// ErrMultipleSourceNodes is returned when a workflow graph has more than
// one source node.
var ErrMultipleSourceNodes = fmt.Errorf("workflow: graph has more than one source node")

// ErrUnreachableNode is returned when a node is not reachable from the
// source node.
type ErrUnreachableNode struct{ NodeID string }

func (e ErrUnreachableNode) Error() string {
	return fmt.Sprintf("workflow: node %q is not reachable from the source node", e.NodeID)
}

// ErrUnknownNodeType is a fatal load-time error for an unrecognized node
// type.
type ErrUnknownNodeType struct {
	NodeID string
	Type   model.NodeType
}

func (e ErrUnknownNodeType) Error() string {
	return fmt.Sprintf("workflow: node %q has unknown type %q", e.NodeID, e.Type)
}
