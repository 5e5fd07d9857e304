package models

// VideoStatus is the lifecycle state of an ingestion job.
// processing is the only non-terminal state.
type VideoStatus string

const (
	StatusProcessing VideoStatus = "processing"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
)

func (s VideoStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chunk is an ordered slice of a transcript. Start and End are rune offsets.
type Chunk struct {
	Index   int
	Content string
	Start   int
	End     int
}

// MediaSource identifies where an ingestion job reads its video from.
// Exactly one of URL and LocalPath is set.
type MediaSource struct {
	URL       string
	LocalPath string
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}
