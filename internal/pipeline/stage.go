package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stage identifies one phase of the formalization pipeline. Stages are
// totally ordered; each one consumes the persisted output of its
// predecessor.
type Stage int

const (
	StageInit Stage = iota
	StageTableDependency
	StageTableFormalization
	StageAPITableDependency
	StageAPIDependency
	StageAPIFormalization
	StageCompleted
)

var stageNames = [...]string{
	StageInit:               "init",
	StageTableDependency:    "table_dependency",
	StageTableFormalization: "table_formalization",
	StageAPITableDependency: "api_table_dependency",
	StageAPIDependency:      "api_dependency",
	StageAPIFormalization:   "api_formalization",
	StageCompleted:          "completed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage maps a stage name back to its Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// checkpointFile is overwritten after every completed stage, making the
// run resumable from the last stage whose output reached disk.
const checkpointFile = "pipeline_state.json"

// Checkpoint records the last completed stage of a run.
type Checkpoint struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

func checkpointPath(dir string) string {
	return filepath.Join(dir, checkpointFile)
}

// LoadCheckpoint reads the checkpoint in dir. A missing file is not an
// error: it reports a run that never started.
func LoadCheckpoint(dir string) (*Checkpoint, error) {
	data, err := os.ReadFile(checkpointPath(dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

func saveCheckpoint(dir string, stage Stage) error {
	cp := Checkpoint{Stage: stage, Timestamp: time.Now().UTC()}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(checkpointPath(dir), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
