package ports

import "time"

// Event is a domain event emitted while a request is processed. The stream
// for one request is finite and ends with a DoneEvent or an ErrorEvent.
type Event interface {
	EventType() string
	Timestamp() time.Time
	GetWorker() string
}

// EventListener consumes events (CLI printer, SSE stream, websocket fan-out).
type EventListener interface {
	OnEvent(event Event)
}

type baseEvent struct {
	Worker string    `json:"worker,omitempty"`
	At     time.Time `json:"at"`
}

func (e baseEvent) Timestamp() time.Time { return e.At }
func (e baseEvent) GetWorker() string    { return e.Worker }

// StatusEvent reports a worker status transition.
type StatusEvent struct {
	baseEvent
	Status WorkerStatus `json:"status"`
}

func (StatusEvent) EventType() string { return "status" }

// NewStatusEvent builds a StatusEvent stamped with the current time.
func NewStatusEvent(worker string, status WorkerStatus) StatusEvent {
	return StatusEvent{baseEvent: baseEvent{Worker: worker, At: time.Now()}, Status: status}
}

// ChunkEvent carries an incremental completion text delta.
type ChunkEvent struct {
	baseEvent
	Content string `json:"content"`
}

func (ChunkEvent) EventType() string { return "chunk" }

// NewChunkEvent builds a ChunkEvent stamped with the current time.
func NewChunkEvent(worker, content string) ChunkEvent {
	return ChunkEvent{baseEvent: baseEvent{Worker: worker, At: time.Now()}, Content: content}
}

// ToolEvent reports one tool execution outcome.
type ToolEvent struct {
	baseEvent
	Tool       string `json:"tool"`
	CallID     string `json:"call_id,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (ToolEvent) EventType() string { return "tool" }

// NewToolEvent builds a ToolEvent from an execution result.
func NewToolEvent(worker string, req ToolCallRequest, res ToolExecutionResult) ToolEvent {
	return ToolEvent{
		baseEvent:  baseEvent{Worker: worker, At: time.Now()},
		Tool:       req.Name,
		CallID:     req.CallID,
		Success:    res.Success,
		Error:      res.Error,
		DurationMs: res.ExecutionTime.Milliseconds(),
	}
}

// SummaryEvent closes a request with aggregate quality counts.
type SummaryEvent struct {
	baseEvent
	Content  string `json:"content"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
}

func (SummaryEvent) EventType() string { return "summary" }

// NewSummaryEvent builds a SummaryEvent stamped with the current time.
func NewSummaryEvent(content string, errors, warnings int) SummaryEvent {
	return SummaryEvent{baseEvent: baseEvent{At: time.Now()}, Content: content, Errors: errors, Warnings: warnings}
}

// ErrorEvent terminates a request stream with a sanitized failure message.
type ErrorEvent struct {
	baseEvent
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return "error" }

// NewErrorEvent builds an ErrorEvent stamped with the current time.
func NewErrorEvent(worker, message string) ErrorEvent {
	return ErrorEvent{baseEvent: baseEvent{Worker: worker, At: time.Now()}, Message: message}
}

// DoneEvent is the explicit end-of-stream marker.
type DoneEvent struct {
	baseEvent
}

func (DoneEvent) EventType() string { return "done" }

// NewDoneEvent builds a DoneEvent stamped with the current time.
func NewDoneEvent() DoneEvent {
	return DoneEvent{baseEvent: baseEvent{At: time.Now()}}
}
