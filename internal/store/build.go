package store

type StageStatus string

const (
	StagePending     StageStatus = "PENDING"
	StageInProgress  StageStatus = "IN_PROGRESS"
	StageSuccess     StageStatus = "SUCCESS"
	StageFailed      StageStatus = "FAILED"
	StageAborted     StageStatus = "ABORTED"
	StageNotExecuted StageStatus = "NOT_EXECUTED"
)

// StageRecord is one named step of a build. Logs are appended, never edited.
type StageRecord struct {
	Name           string      `json:"name"`
	Status         StageStatus `json:"status"`
	DurationMillis int64       `json:"duration_millis"`
	NodeID         string      `json:"node_id,omitempty"`
	Logs           []string    `json:"logs"`
}

// BuildRecord is one execution of a pipeline. It is terminal once Building
// is false.
type BuildRecord struct {
	BuildID                 int64         `json:"build_id"`
	Building                bool          `json:"building"`
	Result                  string        `json:"result,omitempty"`
	Stages                  []StageRecord `json:"stages"`
	EstimatedDurationMillis int64         `json:"estimated_duration_millis"`
	DurationMillis          int64         `json:"duration_millis"`
	Timestamp               int64         `json:"timestamp"`
}

// HasLogs reports whether any stage carries at least one log line.
func (b *BuildRecord) HasLogs() bool {
	for _, s := range b.Stages {
		if len(s.Logs) > 0 {
			return true
		}
	}
	return false
}

func (b *BuildRecord) StageNames() []string {
	names := make([]string, len(b.Stages))
	for i, s := range b.Stages {
		names[i] = s.Name
	}
	return names
}
