package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// RunMode selects between a full refresh and a watermark-bounded run.
type RunMode int

const (
	ModeIncremental RunMode = iota
	ModeFull
)

func (m RunMode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// ParseRunMode parses "full" or "incremental" (case-insensitive).
func ParseRunMode(s string) (RunMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return ModeFull, nil
	case "incremental", "":
		return ModeIncremental, nil
	}
	return ModeIncremental, eris.Errorf("model: unknown run mode %q", s)
}

// Layer names a pipeline layer.
type Layer string

const (
	LayerRaw        Layer = "raw"
	LayerStructured Layer = "structured"
	LayerCurated    Layer = "curated"
	LayerAccess     Layer = "access"
)

// Layers lists every layer in execution order.
var Layers = []Layer{LayerRaw, LayerStructured, LayerCurated, LayerAccess}

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Layers {
		if l == known {
			return l, nil
		}
	}
	return "", eris.Errorf("model: unknown layer %q", s)
}

// RunStatus is the state of a layer run in the run log.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusSkipped  RunStatus = "skipped"
	RunStatusFailed   RunStatus = "failed"
)

// ProcessRun is one entry of the run log.
type ProcessRun struct {
	ID               string          `json:"run_id"`
	Layer            Layer           `json:"layer"`
	Mode             string          `json:"mode"`
	Status           RunStatus       `json:"status"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	RecordsProcessed int64           `json:"records_processed"`
	RecordsInserted  int64           `json:"records_inserted"`
	RecordsUpdated   int64           `json:"records_updated"`
	DurationSeconds  float64         `json:"duration_seconds"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// RunStats is what a layer reports when it completes.
type RunStats struct {
	Processed int64
	Inserted  int64
	Updated   int64
	Metadata  map[string]any
}

// File ingestion statuses.
const (
	FileStatusCompleted = "completed"
	FileStatusFailed    = "failed"
)

// FileIngestion records one landing file that was (or failed to be) loaded.
type FileIngestion struct {
	ID           string
	Path         string
	Name         string
	Type         string
	Hash         string
	SizeBytes    int64
	RowCount     int64
	IngestedAt   time.Time
	Status       string
	ErrorMessage string
}

// SchemaVersion tracks the column set observed for a raw table.
type SchemaVersion struct {
	ID                string
	TableName         string
	Version           int
	Columns           []string
	DetectedAt        time.Time
	PreviousVersionID string
	ChangeDescription string
}
