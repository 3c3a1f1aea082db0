package domain

import (
	"time"
)

// JobState is the lifecycle state of an extraction job.
type JobState string

const (
	StatePending  JobState = "PENDING"
	StateProgress JobState = "PROGRESS"
	StateSuccess  JobState = "SUCCESS"
	StateFailure  JobState = "FAILURE"
)

// Terminal reports whether no further transition can leave the state.
func (s JobState) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Progress percentages reported at each pipeline stage.
const (
	ProgressUploaded   = 10
	ProgressExtracting = 30
	ProgressExtracted  = 50
	ProgressLLM        = 75
	ProgressDone       = 100
)

// Status texts that accompany the progress percentages.
const (
	StatusPending    = "Task is pending..."
	StatusUploaded   = "File uploaded successfully"
	StatusExtracting = "Extracting text from the document"
	StatusCacheHit   = "Text loaded from cache"
	StatusExtracted  = "Text extracted"
	StatusLLM        = "Processing extracted text with LLM"
	StatusStoring    = "Saving result to storage"
	StatusDone       = "Processing done!"
)

// JobRecord is the snapshot a polling client sees. Each transition replaces
// the whole record.
type JobRecord struct {
	TaskID        string    `json:"task_id"`
	State         JobState  `json:"state"`
	Progress      int       `json:"progress"`
	Status        string    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	ElapsedTime   float64   `json:"elapsed_time"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	Result        string    `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorType     ErrorType `json:"error_type,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobRequest is everything a worker needs to run one job.
type JobRequest struct {
	TaskID          string `json:"task_id"`
	Content         []byte `json:"content"`
	Filename        string `json:"filename,omitempty"`
	MIMEType        string `json:"mime_type,omitempty"`
	Strategy        string `json:"strategy"`
	Prompt          string `json:"prompt,omitempty"`
	Model           string `json:"model,omitempty"`
	Language        string `json:"language,omitempty"`
	Cache           bool   `json:"cache"`
	StorageProfile  string `json:"storage_profile,omitempty"`
	StorageFilename string `json:"storage_filename,omitempty"`
}
