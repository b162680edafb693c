package progress

import (
	"fmt"
	"time"
)

// Event types.
const (
	EventPing         = "ping"
	EventStart        = "start"
	EventProgress     = "progress"
	EventDetail       = "detail"
	EventFileComplete = "file_complete"
	EventComplete     = "complete"
	EventError        = "error"
)

// Per-file statuses carried on progress and file_complete events.
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusReview     = "review"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Event is one message on a run's progress stream. Only the fields relevant
// to the event type are set.
type Event struct {
	Type             string   `json:"type"`
	Message          string   `json:"message,omitempty"`
	CurrentFile      int      `json:"current_file,omitempty"`
	TotalFiles       int      `json:"total_files,omitempty"`
	Filenames        []string `json:"filenames,omitempty"`
	Filename         string   `json:"filename,omitempty"`
	Status           string   `json:"status,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	Result           string   `json:"result,omitempty"`
	Detail           string   `json:"detail,omitempty"`
	ProcessedCount   *int     `json:"processed_count,omitempty"`
	ReviewQueueCount *int     `json:"review_queue_count,omitempty"`
	FailedCount      *int     `json:"failed_count,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Terminal reports whether no further events follow this one on a run.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func Ping(message string) Event {
	return Event{Type: EventPing, Message: message}
}

func Start(filenames []string) Event {
	return Event{Type: EventStart, TotalFiles: len(filenames), Filenames: filenames}
}

func Progress(current, total int, filename string) Event {
	return Event{
		Type:        EventProgress,
		CurrentFile: current,
		TotalFiles:  total,
		Filename:    filename,
		Status:      StatusProcessing,
	}
}

func Detail(filename, detail string) Event {
	return Event{Type: EventDetail, Filename: filename, Detail: detail}
}

func FileComplete(current, total int, filename, status, reason, result string) Event {
	return Event{
		Type:        EventFileComplete,
		CurrentFile: current,
		TotalFiles:  total,
		Filename:    filename,
		Status:      status,
		Reason:      reason,
		Result:      result,
	}
}

func Complete(processed, review, failed int) Event {
	return Event{
		Type:             EventComplete,
		ProcessedCount:   &processed,
		ReviewQueueCount: &review,
		FailedCount:      &failed,
	}
}

// Error ends a run early. The counts describe the files handled before the
// run stopped.
func Error(err error, status string, processed, review, failed int) Event {
	return Event{
		Type:             EventError,
		Status:           status,
		Error:            err.Error(),
		ProcessedCount:   &processed,
		ReviewQueueCount: &review,
		FailedCount:      &failed,
	}
}

// RunKey identifies a batch run. A caller that reconnects uses the same key to
// pick the stream back up.
type RunKey struct {
	Contributor string
	StartedAt   time.Time
}

func NewRunKey(contributor string, startedAt time.Time) RunKey {
	return RunKey{Contributor: contributor, StartedAt: startedAt.UTC().Truncate(time.Microsecond)}
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s@%d", k.Contributor, k.StartedAt.UnixMicro())
}
