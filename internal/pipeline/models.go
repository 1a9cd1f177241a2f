package pipeline

import "time"

// TaskID uniquely identifies one end-to-end processing job.
type TaskID string

// Status is the lifecycle state of a processing task.
// Transitions are forward-only: pending -> processing -> {complete | error}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Stage labels the pipeline step a task is currently in. Labels are for
// observability only; the orchestrator never branches on them.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageTranscoding Stage = "transcoding"
	StageSegmenting  Stage = "segmenting"
	StageManifest    Stage = "building manifest"
	StageUploading   Stage = "uploading"
	StageFinalizing  Stage = "finalizing"
)

// TrackInput is the immutable description of what a task processes.
// SourceArtifactID and Title are required; the rest is optional metadata.
type TrackInput struct {
	SourceArtifactID string `json:"sourceArtifactId"`
	Title            string `json:"title"`
	Genre            string `json:"genre,omitempty"`
	CoverArtifactID  string `json:"coverArtifactId,omitempty"`
}

// ErrorInfo is the machine-usable error payload recorded on a failed task.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// TaskDetails carries the free-form progress record updated at each step.
type TaskDetails struct {
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Stage     Stage      `json:"stage,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// TaskResult references every artifact produced by a completed task.
type TaskResult struct {
	SourceArtifactID     string   `json:"sourceArtifactId"`
	TranscodedArtifactID string   `json:"transcodedArtifactId"`
	SegmentArtifactIDs   []string `json:"segmentArtifactIds"`
	ManifestArtifactID   string   `json:"manifestArtifactId"`
	CoverArtifactID      string   `json:"coverArtifactId,omitempty"`
	SegmentCount         int      `json:"segmentCount"`
	DurationSeconds      float64  `json:"durationSeconds"`
}

// Task is the unit of work tracked by the registry. Input is write-once at
// creation; all other fields change only through Registry.Update.
type Task struct {
	ID        TaskID      `json:"taskId"`
	Status    Status      `json:"status"`
	Progress  int         `json:"progress"`
	Stage     Stage       `json:"stage"`
	Details   TaskDetails `json:"details"`
	Input     TrackInput  `json:"input"`
	Result    *TaskResult `json:"result,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Segment is one fixed-duration slice of the transcoded audio.
// ArtifactID is set only after the segment has been uploaded.
type Segment struct {
	Index           int
	Path            string
	SizeBytes       int64
	DurationSeconds float64
	ArtifactID      string
}

// EventType classifies progress stream events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one progress snapshot pushed to a waiting client.
type Event struct {
	Type     EventType   `json:"type"`
	TaskID   TaskID      `json:"taskId"`
	Status   Status      `json:"status"`
	Progress int         `json:"progress"`
	Stage    Stage       `json:"stage,omitempty"`
	Details  TaskDetails `json:"details"`
	Result   *TaskResult `json:"result,omitempty"`
}
