// Command workflow-executor runs one workflow's DAG against its video
// source's ring buffer:
//
//	workflow-executor --workflow-id <int>
//
// It loads the workflow's DAG, attaches to the source's ring buffer, and
// drives the per-frame execution loop until SIGINT/SIGTERM, draining the
// in-flight frame before exiting.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/videoba/pipe/internal/alertwindow"
	"github.com/videoba/pipe/internal/broker"
	"github.com/videoba/pipe/internal/config"
	"github.com/videoba/pipe/internal/store"
	"github.com/videoba/pipe/internal/workflow"
)

func main() {
	workflowID := flag.Uint("workflow-id", 0, "workflow id to execute")
	flag.Parse()

	if *workflowID == 0 {
		log.Fatalf("[workflow-executor] --workflow-id is required")
	}

	cfg := config.Load()

	st, err := store.Open(store.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("[workflow-executor] open store: %v", err)
	}
	defer st.Close()

	wf, err := st.GetWorkflow(*workflowID)
	if err != nil {
		log.Fatalf("[workflow-executor] load workflow %d: %v", *workflowID, err)
	}

	graph, err := workflow.Load(wf, st)
	if err != nil {
		log.Fatalf("[workflow-executor] load graph for workflow %d: %v", *workflowID, err)
	}
	sourceID, ok := graph.SourceVideoSourceID()
	if !ok {
		log.Fatalf("[workflow-executor] workflow %d's source node has no dataId", *workflowID)
	}
	source, err := st.GetVideoSource(sourceID)
	if err != nil {
		log.Fatalf("[workflow-executor] load source %d: %v", sourceID, err)
	}

	var summarizer workflow.Summarizer
	if s := workflow.NewOpenAISummarizer(cfg.OpenAIAPIKey); s != nil {
		// Assigned only when non-nil: a bare (*OpenAISummarizer)(nil) stored
		// directly in the Summarizer interface field would make the
		// interface itself non-nil, defeating composeMessage's nil check.
		summarizer = s
	}

	pub := broker.New(broker.Config{
		Enabled:      cfg.BrokerEnabled,
		Host:         cfg.BrokerHost,
		Port:         cfg.BrokerPort,
		VHost:        cfg.BrokerVHost,
		User:         cfg.BrokerUser,
		Password:     cfg.BrokerPassword,
		ExchangeName: cfg.ExchangeName,
		ExchangeType: broker.ExchangeType(cfg.ExchangeType),
		RoutingKey:   cfg.RoutingKey,
	})
	defer pub.Close()

	ex, err := workflow.NewFromGraph(graph, workflow.Deps{
		Store:                    st,
		Window:                   alertwindow.New(),
		Broker:                   pub,
		Registry:                 workflow.NewRegistry(),
		Summarizer:               summarizer,
		Source:                   *source,
		Workflow:                 *wf,
		FramesRoot:               cfg.FramesRoot,
		VideosRoot:               cfg.VideosRoot,
		RecordingEnabled:         cfg.RecordingEnabled,
		RecordingFPS:             float64(cfg.RecordingFPS),
		AlertSuppressionDuration: cfg.AlertSuppressionDuration.Seconds(),
		RingBufferDuration:       cfg.RingBufferDuration.Seconds(),
		MaxParallelLayerWidth:    cfg.MaxParallelLayerWidth,
	})
	if err != nil {
		log.Fatalf("[workflow-executor] construct executor: %v", err)
	}
	defer ex.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ex.Run(ctx); err != nil {
		log.Fatalf("[workflow-executor] run: %v", err)
	}
}
