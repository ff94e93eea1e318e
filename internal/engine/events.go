package engine

import "time"

// EventType captures high level lifecycle notifications emitted by the job
// runner.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeStarted  EventType = "started"
	EventTypeExited   EventType = "exited"
	EventTypeFailed   EventType = "failed"
	EventTypeLog      EventType = "log"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Job       string
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	// Code is the subprocess exit status for exited events.
	Code int
}

const (
	SourceSystem = "system"
	SourceMux    = "mux"
)

func sendEvent(events chan<- Event, job string, t EventType, level, message string, err error, code int) {
	if events == nil {
		return
	}
	events <- Event{
		Timestamp: time.Now(),
		Job:       job,
		Type:      t,
		Message:   message,
		Level:     level,
		Source:    SourceSystem,
		Err:       err,
		Code:      code,
	}
}
