// Package model defines the persisted entities: video sources, workflows,
// algorithms, and alerts.
package model

import "time"

// SourceStatus is the lifecycle state of a VideoSource.
type SourceStatus string

const (
	SourceStopped SourceStatus = "STOPPED"
	SourceRunning SourceStatus = "RUNNING"
	SourceFailed  SourceStatus = "FAILED"
)

// VideoSource is the identity of an enrolled stream. The orchestrator
// mutates Status and DecoderPID; everything else is set externally and the
// row is never auto-deleted.
type VideoSource struct {
	ID         uint   `gorm:"primaryKey"`
	SourceCode string `gorm:"uniqueIndex;size:128;not null"`
	SourceURL  string `gorm:"size:2048;not null"`

	Width  int     `gorm:"not null"`
	Height int     `gorm:"not null"`
	FPS    float64 `gorm:"not null"`

	BufferName string `gorm:"uniqueIndex;size:128;not null"`

	Enabled bool         `gorm:"not null;default:true"`
	Status  SourceStatus `gorm:"size:16;not null;default:STOPPED"`

	DecoderPID *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name so renaming the Go type never migrates the
// schema out from under existing rows.
func (VideoSource) TableName() string { return "video_sources" }

// NodeType enumerates the workflow DAG node variants.
type NodeType string

const (
	NodeSource    NodeType = "source"
	NodeROI       NodeType = "roi"
	NodeAlgorithm NodeType = "algorithm"
	NodeFunction  NodeType = "function"
	NodeCondition NodeType = "condition"
	NodeAlert     NodeType = "alert"
)

// EdgeCondition enumerates the allowed connection conditions. The zero
// value represents "null" (pass unconditionally).
type EdgeCondition string

const (
	EdgeUnconditional EdgeCondition = ""
	EdgeTrue          EdgeCondition = "true"
	EdgeYes           EdgeCondition = "yes"
	EdgeFalse         EdgeCondition = "false"
	EdgeNo            EdgeCondition = "no"
)

// WorkflowNode is one entry of the workflow JSON's nodes[] array.
type WorkflowNode struct {
	ID     string                 `json:"id"`
	Type   NodeType               `json:"type"`
	DataID *int                   `json:"dataId,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// WorkflowConnection is one entry of the workflow JSON's connections[] array.
type WorkflowConnection struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	Condition EdgeCondition `json:"condition,omitempty"`
}

// WorkflowGraph is the deserialized form of Workflow.Data.
type WorkflowGraph struct {
	Nodes       []WorkflowNode       `json:"nodes"`
	Connections []WorkflowConnection `json:"connections"`
}

// Workflow is a persisted DAG. Data holds the serialized graph as JSON
// text; the workflow package parses it at load time.
type Workflow struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"size:256;not null"`
	IsActive bool   `gorm:"not null;default:true"`
	Data     string `gorm:"type:text;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Workflow) TableName() string { return "workflows" }

// Algorithm is a detector descriptor referenced by algorithm nodes.
type Algorithm struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:256;not null"`
	ScriptPath   string `gorm:"size:1024;not null"`
	ScriptConfig string `gorm:"type:text"` // free-form JSON

	IntervalSeconds float64 `gorm:"not null;default:1"`
	RuntimeTimeout  float64 `gorm:"not null;default:5"`
	MemoryLimitMB   int     `gorm:"not null;default:512"`
	LabelName       string  `gorm:"size:128"`
	LabelColor      string  `gorm:"size:16"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Algorithm) TableName() string { return "algorithms" }

// Alert is an emitted event with attached evidence.
type Alert struct {
	ID uint `gorm:"primaryKey"`

	VideoSourceID uint `gorm:"index;not null"`
	WorkflowID    *uint

	AlertTime    time.Time `gorm:"not null"`
	AlertType    string    `gorm:"size:128;not null"`
	AlertLevel   string    `gorm:"size:32;not null"`
	AlertMessage string    `gorm:"type:text"`

	AlertImage    string `gorm:"size:1024"`
	AlertImageOri string `gorm:"size:1024"`
	AlertVideo    string `gorm:"size:1024"`

	DetectionCount int
	WindowStats    string `gorm:"type:text"` // JSON-encoded window stats snapshot

	DetectionImages string `gorm:"type:text"` // JSON-encoded []string

	CreatedAt time.Time
}

func (Alert) TableName() string { return "alerts" }
