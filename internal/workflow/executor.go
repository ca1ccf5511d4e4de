package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/videoba/pipe/internal/alertwindow"
	"github.com/videoba/pipe/internal/broker"
	"github.com/videoba/pipe/internal/cvutil"
	"github.com/videoba/pipe/internal/model"
	"github.com/videoba/pipe/internal/recorder"
	"github.com/videoba/pipe/internal/ringbuffer"
	"github.com/videoba/pipe/internal/store"
)

// idleSleep is how long the run loop sleeps between peeks when no new
// frame is available.
const idleSleep = 5 * time.Millisecond

// The ring buffer is created by the decoder side; attaching tolerates it
// not existing yet with a bounded retry.
const (
	ringBufferAttachRetries = 10
	ringBufferAttachBackoff = time.Second
)

// Deps is the Executor's constructor-injected dependency set. There are no
// package-level singletons: window, broker, recorder, and store are all
// passed in explicitly.
type Deps struct {
	Store      *store.Store
	Window     *alertwindow.Window
	Broker     *broker.Publisher
	Registry   *Registry
	Summarizer Summarizer
	Hook       Hook // optional

	Source   model.VideoSource
	Workflow model.Workflow

	FramesRoot               string
	VideosRoot               string
	RecordingEnabled         bool
	RecordingFPS             float64
	AlertSuppressionDuration float64

	RingBufferDuration float64

	// MaxParallelLayerWidth bounds the worker pool a parallel layer runs
	// on. 0 means unbounded.
	MaxParallelLayerWidth int
}

// nodeResult is the per-frame cached output of one executed node.
type nodeResult struct {
	HasDetection bool
	Detections   []Detection
	Metadata     map[string]interface{}
	ROI          []cvutil.Region
	Failed       bool
}

// Executor runs one workflow's DAG against one video source's ring buffer.
type Executor struct {
	deps  Deps
	graph *Graph
	roi   []ROIConfig

	rb    *ringbuffer.RingBuffer
	rec   *recorder.Recorder
	shape ringbuffer.Shape

	// mu guards the cross-frame node state below; algorithm nodes in a
	// parallel layer touch these concurrently.
	mu                   sync.Mutex
	lastExec             map[int]float64     // node idx -> last execution ts
	detState             map[int]interface{} // node idx -> detector state from Init
	unusedUpstreamWarned map[int]bool        // node idx -> extra-upstreams already logged

	lastTS float64
}

// New loads workflow wf's graph and constructs an Executor bound to the
// video source's ring buffer. deps.Source must already be populated;
// callers that don't yet know which VideoSource a workflow targets should
// use Load plus Graph.SourceVideoSourceID to resolve it first, then call
// NewFromGraph.
func New(wf *model.Workflow, deps Deps) (*Executor, error) {
	graph, err := Load(wf, deps.Store)
	if err != nil {
		return nil, err
	}
	return NewFromGraph(graph, deps)
}

// NewFromGraph constructs an Executor from an already-loaded graph,
// attaching (never creating) the source's ring buffer with bounded retry.
func NewFromGraph(graph *Graph, deps Deps) (*Executor, error) {
	applyDefaultSuppression(graph, deps.AlertSuppressionDuration)

	shape := ringbuffer.Shape{Width: deps.Source.Width, Height: deps.Source.Height, Channels: 3}
	rb, err := attachWithRetry(deps.Source.BufferName, shape, deps.Source.FPS, deps.RingBufferDuration)
	if err != nil {
		return nil, fmt.Errorf("workflow: attach ring buffer %q: %w", deps.Source.BufferName, err)
	}

	rec := recorder.New(rb, deps.VideosRoot, deps.RecordingFPS, shape)

	return &Executor{
		deps:                 deps,
		graph:                graph,
		roi:                  ResolveROI(graph),
		rb:                   rb,
		rec:                  rec,
		shape:                shape,
		lastExec:             make(map[int]float64),
		detState:             make(map[int]interface{}),
		unusedUpstreamWarned: make(map[int]bool),
	}, nil
}

// applyDefaultSuppression fills in an alert node's cooldown from the
// process-wide suppression default when its own DAG config left it unset
// (hydrateAlert's sentinel of -1).
func applyDefaultSuppression(graph *Graph, defaultSeconds float64) {
	if defaultSeconds <= 0 {
		defaultSeconds = 30
	}
	for i := range graph.Nodes {
		if a := graph.Nodes[i].Alert; a != nil && a.CooldownSeconds < 0 {
			a.CooldownSeconds = defaultSeconds
		}
	}
}

func attachWithRetry(name string, shape ringbuffer.Shape, fps, duration float64) (*ringbuffer.RingBuffer, error) {
	var lastErr error
	for i := 0; i < ringBufferAttachRetries; i++ {
		rb, err := ringbuffer.Open(name, shape, fps, duration, false)
		if err == nil {
			return rb, nil
		}
		lastErr = err
		time.Sleep(ringBufferAttachBackoff)
	}
	return nil, lastErr
}

// Close detaches from the ring buffer. The executor is a reader, so it
// never unlinks the segment.
func (ex *Executor) Close() error {
	return ex.rb.Close()
}

// Run drives the live per-frame loop until ctx is cancelled, draining the
// in-flight frame before returning. Window and recorder-task cleanup run
// on a minute cadence alongside the frame loop.
func (ex *Executor) Run(ctx context.Context) error {
	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanup.C:
			ex.deps.Window.Cleanup(time.Now(), ex.lastTS)
			ex.rec.CleanupCompleted(time.Now())
		default:
		}

		frame, ts, err := ex.rb.PeekWithTimestamp(-1)
		if err != nil || ts == ex.lastTS {
			time.Sleep(idleSleep)
			continue
		}
		ex.lastTS = ts

		if _, _, err := ex.RunFrame(ctx, frame, ts, false); err != nil {
			log.Printf("[executor] workflow=%d source=%d frame error: %v", ex.deps.Workflow.ID, ex.deps.Source.ID, err)
		}
	}
}

// NodeOutput is one node's externally visible result for a single frame.
type NodeOutput struct {
	NodeID       string
	Type         model.NodeType
	Executed     bool
	HasDetection bool
	Detections   []Detection
	Metadata     map[string]interface{}
	Skipped      bool
	Failed       bool
}

// RunFrame executes the DAG once against frame/ts. When testMode is true,
// no evidence files are written, no recording starts, no broker publish
// or database write happens; alert nodes still evaluate their window and
// suppression logic in-memory via deps.Window so trigger behavior is
// reproducible.
func (ex *Executor) RunFrame(ctx context.Context, frame []byte, ts float64, testMode bool) (map[string]NodeOutput, *LogCollector, error) {
	results := make(map[int]*nodeResult)
	var resultsMu sync.Mutex
	logc := NewLogCollector()

	layers := Layers(ex.graph)
	for _, layer := range layers {
		if layer.Parallel {
			g, gctx := errgroup.WithContext(ctx)
			if ex.deps.MaxParallelLayerWidth > 0 {
				g.SetLimit(ex.deps.MaxParallelLayerWidth)
			}
			for _, idx := range layer.Nodes {
				idx := idx
				g.Go(func() error {
					ex.executeNode(gctx, idx, frame, ts, results, &resultsMu, logc, testMode)
					return nil
				})
			}
			_ = g.Wait()
		} else {
			for _, idx := range layer.Nodes {
				ex.executeNode(ctx, idx, frame, ts, results, &resultsMu, logc, testMode)
			}
		}
	}

	out := make(map[string]NodeOutput, len(ex.graph.Nodes))
	for i, node := range ex.graph.Nodes {
		resultsMu.Lock()
		r, executed := results[i]
		resultsMu.Unlock()
		no := NodeOutput{NodeID: node.ID, Type: node.Type, Executed: executed}
		if executed {
			no.HasDetection = r.HasDetection
			no.Detections = r.Detections
			no.Metadata = r.Metadata
			no.Failed = r.Failed
		} else {
			no.Skipped = true
		}
		out[node.ID] = no
	}
	return out, logc, nil
}

// executeNode runs one node and, for algorithm/condition/function nodes,
// fans out to any directly-adjacent alert children via edges.
func (ex *Executor) executeNode(ctx context.Context, idx int, frame []byte, ts float64, results map[int]*nodeResult, mu *sync.Mutex, logc *LogCollector, testMode bool) {
	node := ex.graph.Nodes[idx]
	if ex.deps.Hook != nil {
		ex.deps.Hook.BeforeNode(node.ID, string(node.Type))
	}
	var execErr error
	defer func() {
		if ex.deps.Hook != nil {
			ex.deps.Hook.AfterNode(node.ID, string(node.Type), execErr)
		}
	}()

	switch node.Type {
	case model.NodeSource:
		mu.Lock()
		results[idx] = &nodeResult{HasDetection: true}
		mu.Unlock()

	case model.NodeROI:
		mu.Lock()
		results[idx] = &nodeResult{HasDetection: true, ROI: node.ROI.Regions}
		mu.Unlock()

	case model.NodeAlgorithm:
		execErr = ex.executeAlgorithm(ctx, idx, frame, ts, results, mu, logc)

	case model.NodeFunction:
		execErr = ex.executeFunction(idx, results, mu, logc)

	case model.NodeCondition:
		execErr = ex.executeCondition(idx, results, mu, logc)
	}

	// Alert nodes are sinks, excluded from the layer schedule; their
	// parents fire them by edge traversal once their own result is cached.
	if node.Type == model.NodeAlgorithm || node.Type == model.NodeCondition || node.Type == model.NodeFunction {
		ex.fanout(ctx, idx, frame, ts, results, mu, logc, testMode)
	}
}

// fanout walks idx's outgoing edges, evaluating each edge's condition and
// firing alert children directly reached from idx. Condition and function
// children are never executed here: every non-sink node gets exactly one
// turn from the layer loop, which calls fanout again from that node's own
// idx once it has run. Re-executing a condition/function child eagerly from
// its parent's fanout would run it (and anything it fans out to, including
// alert nodes) twice per frame.
func (ex *Executor) fanout(ctx context.Context, idx int, frame []byte, ts float64, results map[int]*nodeResult, mu *sync.Mutex, logc *LogCollector, testMode bool) {
	mu.Lock()
	r, ok := results[idx]
	mu.Unlock()
	if !ok || r.Failed {
		return
	}

	for _, e := range ex.graph.Outgoing(idx) {
		if !ex.edgePasses(idx, e, r) {
			continue
		}
		if ex.graph.Nodes[e.To].Type == model.NodeAlert {
			ex.executeAlert(ctx, e.To, frame, ts, results, mu, logc, testMode)
		}
	}
}

// edgePasses evaluates one edge's condition against its source node's
// cached result. An edge leaving a condition node is gated by that node's
// own (comparison, target_count) verdict — already folded into
// fromResult.HasDetection by executeCondition — overriding the edge's own
// condition label.
func (ex *Executor) edgePasses(fromIdx int, e Edge, fromResult *nodeResult) bool {
	if ex.graph.Nodes[fromIdx].Type == model.NodeCondition {
		return fromResult.HasDetection
	}
	switch e.Cond {
	case model.EdgeUnconditional:
		return true
	case model.EdgeTrue, model.EdgeYes:
		return fromResult.HasDetection
	case model.EdgeFalse, model.EdgeNo:
		return !fromResult.HasDetection
	default:
		return true
	}
}

// detectorState returns the node's cached detector state, calling Init
// exactly once per node for the executor's lifetime.
func (ex *Executor) detectorState(idx int, detector Detector, cfg *AlgorithmConfig) (interface{}, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if state, ok := ex.detState[idx]; ok {
		return state, nil
	}
	state, err := detector.Init(DetectorConfig{ScriptConfig: cfg.ScriptConfig, MemoryLimitMB: cfg.MemoryLimitMB})
	if err != nil {
		return nil, err
	}
	ex.detState[idx] = state
	return state, nil
}

// executeAlgorithm resolves the branch-local ROI, checks the per-node
// throttle, invokes the detector, and caches the result. A throttled node
// caches nothing, so its downstream is not executed this frame.
func (ex *Executor) executeAlgorithm(ctx context.Context, idx int, frame []byte, ts float64, results map[int]*nodeResult, mu *sync.Mutex, logc *LogCollector) error {
	node := ex.graph.Nodes[idx]
	cfg := node.Algorithm

	ex.mu.Lock()
	last, ran := ex.lastExec[idx]
	ex.mu.Unlock()
	if ran && ts-last < cfg.IntervalSeconds {
		logc.Add(LogEntry{NodeID: node.ID, Level: LogSkip, Content: "throttled", Ts: ts})
		return nil
	}

	detector, ok := ex.deps.Registry.Lookup(cfg.ScriptPath)
	if !ok {
		logc.Add(LogEntry{NodeID: node.ID, Level: LogError, Content: fmt.Sprintf("no detector registered for %q", cfg.ScriptPath), Ts: ts})
		return fmt.Errorf("workflow: no detector registered for %q", cfg.ScriptPath)
	}

	state, err := ex.detectorState(idx, detector, cfg)
	if err != nil {
		return fmt.Errorf("workflow: detector %q init: %w", cfg.ScriptPath, err)
	}

	upstream := ex.collectUpstream(idx, results, mu)
	roi := ex.roi[idx].Regions

	nodeCtx := ctx
	if cfg.RuntimeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.RuntimeTimeout*float64(time.Second)))
		defer cancel()
	}

	out, err := detector.Process(nodeCtx, frame, ex.shape.Width, ex.shape.Height, roi, upstream, state)
	ex.mu.Lock()
	ex.lastExec[idx] = ts
	ex.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		// Failure or timeout marks the node failed for this frame and
		// prunes its downstream; the next frame proceeds normally.
		results[idx] = &nodeResult{Failed: true}
		logc.Add(LogEntry{NodeID: node.ID, Level: LogError, Content: err.Error(), Ts: ts})
		return nil
	}

	results[idx] = &nodeResult{
		HasDetection: len(out.Detections) > 0,
		Detections:   out.Detections,
		Metadata:     out.Metadata,
		ROI:          roi,
	}
	if len(out.Detections) > 0 {
		logc.Add(LogEntry{NodeID: node.ID, Level: LogDetection, Content: fmt.Sprintf("%d detection(s)", len(out.Detections)), Ts: ts, Metadata: out.Metadata})
	}
	return nil
}

// collectUpstream gathers the cached results of idx's incoming edges, in
// edge-registration order.
func (ex *Executor) collectUpstream(idx int, results map[int]*nodeResult, mu *sync.Mutex) []UpstreamResult {
	edges := ex.graph.Incoming(idx)
	mu.Lock()
	defer mu.Unlock()

	var upstream []UpstreamResult
	for _, e := range edges {
		r, ok := results[e.From]
		if !ok {
			continue
		}
		upstream = append(upstream, UpstreamResult{
			NodeID:       ex.graph.Nodes[e.From].ID,
			HasDetection: r.HasDetection,
			Detections:   r.Detections,
			Metadata:     r.Metadata,
		})
	}
	return upstream
}

// executeFunction evaluates a function node. Every upstream must have a
// cached result or the node is skipped for this frame.
func (ex *Executor) executeFunction(idx int, results map[int]*nodeResult, mu *sync.Mutex, logc *LogCollector) error {
	node := ex.graph.Nodes[idx]
	edges := ex.graph.Incoming(idx)

	mu.Lock()
	allReady := true
	for _, e := range edges {
		if _, ok := results[e.From]; !ok {
			allReady = false
			break
		}
	}
	mu.Unlock()
	if !allReady {
		logc.Add(LogEntry{NodeID: node.ID, Level: LogSkip, Content: "upstream not ready"})
		return nil
	}

	upstream := ex.collectUpstream(idx, results, mu)
	ex.mu.Lock()
	warn := len(upstream) > 2 && !ex.unusedUpstreamWarned[idx]
	if warn {
		ex.unusedUpstreamWarned[idx] = true
	}
	ex.mu.Unlock()
	if warn {
		log.Printf("[workflow] function node %q has %d upstreams; only the first two are used", node.ID, len(upstream))
	}

	res := EvaluateFunction(*node.Function, upstream, ex.shape.Width, ex.shape.Height)

	mu.Lock()
	results[idx] = &nodeResult{HasDetection: res.HasPass, Detections: res.Detections}
	mu.Unlock()

	logc.Add(LogEntry{NodeID: node.ID, Level: LogFunction, Content: fmt.Sprintf("%s: %d/%d pairs passed", node.Function.Name, countPassed(res.Pairs), len(res.Pairs))})
	return nil
}

func countPassed(pairs []PairResult) int {
	n := 0
	for _, p := range pairs {
		if p.Passed {
			n++
		}
	}
	return n
}

// executeCondition evaluates a condition node's (comparison, target_count)
// against the number of detections from its upstream.
func (ex *Executor) executeCondition(idx int, results map[int]*nodeResult, mu *sync.Mutex, logc *LogCollector) error {
	node := ex.graph.Nodes[idx]
	upstream := ex.collectUpstream(idx, results, mu)

	count := 0
	var dets []Detection
	for _, u := range upstream {
		count += len(u.Detections)
		dets = append(dets, u.Detections...)
	}

	passed := node.Condition.Comparison.evalCount(count, node.Condition.TargetCount)

	mu.Lock()
	results[idx] = &nodeResult{HasDetection: passed, Detections: dets}
	mu.Unlock()

	logc.Add(LogEntry{NodeID: node.ID, Level: LogCondition, Content: fmt.Sprintf("count=%d target=%d passed=%v", count, node.Condition.TargetCount, passed)})
	return nil
}

// executeAlert runs the alert sequence: record the frame into the window,
// check the trigger condition and suppression, record the trigger, gather
// evidence, persist the alert row, start the clip recording, and publish.
func (ex *Executor) executeAlert(ctx context.Context, idx int, frame []byte, ts float64, results map[int]*nodeResult, mu *sync.Mutex, logc *LogCollector, testMode bool) {
	node := ex.graph.Nodes[idx]
	cfg := node.Alert
	upstream := ex.collectUpstream(idx, results, mu)

	hasDetection := false
	var detections []Detection
	for _, u := range upstream {
		if u.HasDetection {
			hasDetection = true
		}
		detections = append(detections, u.Detections...)
	}

	var imagePath, imagePathOri string
	if !testMode && hasDetection {
		if p, pOri, err := ex.saveFrameEvidence(frame, cfg.AlertType, ts, detections); err == nil {
			imagePath, imagePathOri = p, pOri
		}
	}

	ex.deps.Window.AddRecord(ex.deps.Source.ID, node.ID, ts, hasDetection, imagePath)

	// The incoming edge's condition already gated whether this alert runs;
	// the window, when configured, is the only further trigger condition.
	var stats alertwindow.Stats
	if cfg.UseWindow {
		passed, s := ex.deps.Window.CheckCondition(ex.deps.Source.ID, node.ID, ts, cfg.WindowSeconds, toAlertWindowMode(cfg.WindowMode), cfg.WindowThreshold)
		stats = s
		if !passed {
			logc.Add(LogEntry{NodeID: node.ID, Level: LogSkip, Content: "window condition not satisfied"})
			return
		}
	}

	notSuppressed, info := ex.deps.Window.CheckSuppression(ex.deps.Source.ID, node.ID, ts, cfg.CooldownSeconds)
	if !notSuppressed {
		logc.Add(LogEntry{NodeID: node.ID, Level: LogSkip, Content: fmt.Sprintf("suppressed, %.1fs remaining", info.CooldownRemaining)})
		return
	}

	ex.deps.Window.RecordTrigger(ex.deps.Source.ID, node.ID, ts)
	logc.Add(LogEntry{NodeID: node.ID, Level: LogTrigger, Content: "alert triggered", Ts: ts})

	if testMode {
		return
	}

	// Evidence images from the window; synthesize one from the current
	// frame if nothing was recorded (e.g. an alert fired on absence of
	// detection).
	images := ex.deps.Window.DetectionImages(ex.deps.Source.ID, node.ID, ts, cfg.WindowSeconds)
	if len(images) == 0 && imagePath == "" {
		if p, pOri, err := ex.saveFrameEvidence(frame, cfg.AlertType, ts, detections); err == nil {
			imagePath, imagePathOri = p, pOri
		}
	}
	if len(images) == 0 && imagePath != "" {
		images = []string{imagePath}
	}

	message := ex.composeMessage(ctx, cfg, logc)

	statsJSON, _ := json.Marshal(stats)
	imagesJSON, _ := json.Marshal(images)

	alert := &model.Alert{
		VideoSourceID:   ex.deps.Source.ID,
		WorkflowID:      &ex.deps.Workflow.ID,
		AlertTime:       time.Unix(int64(ts), 0).UTC(),
		AlertType:       cfg.AlertType,
		AlertLevel:      cfg.AlertLevel,
		AlertMessage:    message,
		AlertImage:      imagePath,
		AlertImageOri:   imagePathOri,
		DetectionCount:  len(detections),
		WindowStats:     string(statsJSON),
		DetectionImages: string(imagesJSON),
	}
	if err := ex.deps.Store.CreateAlert(alert); err != nil {
		log.Printf("[workflow] persist alert failed: %v", err)
		return
	}

	if ex.deps.RecordingEnabled && cfg.RecordingEnabled {
		if relPath, err := ex.rec.StartRecording(ex.deps.Source.ID, alert.ID, ts, cfg.PreSeconds, cfg.PostSeconds); err == nil {
			go ex.awaitRecording(alert.ID, relPath)
		}
	}

	ex.publish(alert)
}

func (ex *Executor) awaitRecording(alertID uint, relPath string) {
	for i := 0; i < 600; i++ { // bounded poll, ~5 min at 500ms
		time.Sleep(500 * time.Millisecond)
		task, ok := ex.rec.GetTask(alertID)
		if !ok {
			return
		}
		if task.Status == recorder.StatusCompleted {
			if err := ex.deps.Store.UpdateAlertVideo(alertID, relPath); err != nil {
				log.Printf("[workflow] update alert video failed: %v", err)
			}
			return
		}
		if task.Status == recorder.StatusFailed {
			return
		}
	}
}

func (ex *Executor) publish(alert *model.Alert) {
	wfName := ex.deps.Workflow.Name
	env := broker.AlertEnvelope{
		AlertID:       alert.ID,
		SourceID:      ex.deps.Source.ID,
		SourceName:    ex.deps.Source.SourceCode,
		SourceCode:    ex.deps.Source.SourceCode,
		WorkflowID:    alert.WorkflowID,
		WorkflowName:  &wfName,
		AlertTime:     alert.AlertTime.Format(time.RFC3339),
		AlertType:     alert.AlertType,
		AlertLevel:    alert.AlertLevel,
		AlertMessage:  alert.AlertMessage,
		AlertImage:    alert.AlertImage,
		AlertImageOri: alert.AlertImageOri,
		AlertVideo:    alert.AlertVideo,
		Timestamp:     float64(alert.AlertTime.Unix()),
		Source:        "video-ba-pipe",
	}
	ex.deps.Broker.Publish(env)
}

func (ex *Executor) composeMessage(ctx context.Context, cfg *AlertConfig, logc *LogCollector) string {
	if cfg.MessageFormat == FormatSummary && ex.deps.Summarizer != nil {
		if msg, err := ex.deps.Summarizer.Summarize(ctx, ex.deps.Source.SourceCode, logc.Entries()); err == nil {
			return msg
		}
	}
	return logc.Compose(cfg.MessageFormat)
}

// saveFrameEvidence persists an annotated still plus the raw frame under
// {frames_root}/{source_code}/{alert_type}/frame_{yyyyMMdd_HHmmss}.jpg with
// a sibling *.ori.jpg. Returned paths are relative to FramesRoot.
func (ex *Executor) saveFrameEvidence(frame []byte, alertType string, ts float64, detections []Detection) (string, string, error) {
	boxes := make([]cvutil.Box, len(detections))
	for i, d := range detections {
		boxes[i] = d.Box
	}
	annotated, err := cvutil.Annotate(frame, ex.shape.Width, ex.shape.Height, boxes, nil)
	if err != nil {
		return "", "", err
	}

	stamp := time.Unix(int64(ts), 0).UTC().Format("20060102_150405")
	dir := filepath.Join(ex.deps.FramesRoot, ex.deps.Source.SourceCode, alertType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	relName := fmt.Sprintf("frame_%s.jpg", stamp)
	origFrame, err := cvutil.FrameToMat(frame, ex.shape.Width, ex.shape.Height)
	if err != nil {
		return "", "", err
	}
	origBytes, err := cvutil.MatToJPEGBytes(origFrame)
	origFrame.Close()
	if err != nil {
		return "", "", err
	}

	if err := os.WriteFile(filepath.Join(dir, relName), annotated, 0o644); err != nil {
		return "", "", err
	}
	oriName := fmt.Sprintf("frame_%s.ori.jpg", stamp)
	if err := os.WriteFile(filepath.Join(dir, oriName), origBytes, 0o644); err != nil {
		return "", "", err
	}

	return filepath.Join(ex.deps.Source.SourceCode, alertType, relName),
		filepath.Join(ex.deps.Source.SourceCode, alertType, oriName), nil
}

func toAlertWindowMode(m WindowMode) alertwindow.Mode {
	switch m {
	case WindowRatio:
		return alertwindow.ModeRatio
	case WindowConsecutive:
		return alertwindow.ModeConsecutive
	default:
		return alertwindow.ModeCount
	}
}
