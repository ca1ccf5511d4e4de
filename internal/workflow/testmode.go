package workflow

import (
	"context"

	"github.com/videoba/pipe/internal/alertwindow"
	"github.com/videoba/pipe/internal/model"
	"github.com/videoba/pipe/internal/ringbuffer"
)

// TestResult is the structured output of one test-mode run: per-node
// results plus the frame's execution log.
type TestResult struct {
	Nodes map[string]NodeOutput
	Log   []LogEntry
}

// RunTest executes the graph once, in memory, against a single supplied
// frame, with every side-effecting operation shimmed out: no database
// writes, no broker publish, no evidence files, no clip recording. No
// ring buffer or recorder is attached; callers construct an Executor
// purely for test-mode use via NewForTest.
func (ex *Executor) RunTest(ctx context.Context, frame []byte, ts float64) (TestResult, error) {
	nodes, logc, err := ex.RunFrame(ctx, frame, ts, true)
	if err != nil {
		return TestResult{}, err
	}
	return TestResult{Nodes: nodes, Log: logc.Entries()}, nil
}

// NewForTest builds an Executor against an already-loaded graph without
// attaching any ring buffer, recorder, or broker. The caller still
// supplies a real alertwindow.Window and detector Registry so alert-node
// window/suppression logic and algorithm-node detector dispatch are
// exercised in-memory.
func NewForTest(graph *Graph, source model.VideoSource, wf model.Workflow, window *alertwindow.Window, registry *Registry, width, height int) *Executor {
	applyDefaultSuppression(graph, 0) // 0 resolves to the 30s default

	return &Executor{
		deps: Deps{
			Window:   window,
			Source:   source,
			Workflow: wf,
			Registry: registry,
		},
		graph:                graph,
		roi:                  ResolveROI(graph),
		shape:                ringbuffer.Shape{Width: width, Height: height, Channels: 3},
		lastExec:             make(map[int]float64),
		detState:             make(map[int]interface{}),
		unusedUpstreamWarned: make(map[int]bool),
	}
}
