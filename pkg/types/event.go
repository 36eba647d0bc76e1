package types

// CoreEventKind tags the variant carried by a CoreEvent.
type CoreEventKind string

const (
	EventToken      CoreEventKind = "token"
	EventToolCall   CoreEventKind = "toolCall"
	EventToolResult CoreEventKind = "toolResult"
	EventUsage      CoreEventKind = "usage"
	EventPlanning   CoreEventKind = "planning"
	EventStepDone   CoreEventKind = "stepComplete"
	EventStatus     CoreEventKind = "status"
	EventError      CoreEventKind = "error"
	EventDone       CoreEventKind = "done"
)

// CoreEvent is the tagged union the AgentDriver Adapter (C6) emits and the
// MessageService (C7) consumes. Exactly one of the payload fields is
// meaningful for a given Kind; the others are zero.
type CoreEvent struct {
	Kind CoreEventKind

	Token      *TokenPayload
	ToolCall   *ToolCallPayload
	ToolResult *ToolResultPayload
	Usage      *UsagePayload
	Planning   *PlanningPayload
	StepDone   *StepCompletePayload
	Status     *StatusPayload
	Error      *ErrorPayload
}

type TokenPayload struct {
	Content string `json:"content"`
}

type ToolCallPayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	ID   string         `json:"id"`
}

type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	ExitCode   int    `json:"exit_code"`
}

type UsagePayload struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	EstimatedCost  float64 `json:"estimated_cost"`
	Provider       string  `json:"provider,omitempty"`
	Model          string  `json:"model,omitempty"`
}

type PlanningPayload struct {
	Todos []string `json:"todos"`
}

type StepCompletePayload struct {
	StepNumber  int    `json:"step_number"`
	TotalSteps  int    `json:"total_steps"`
	Description string `json:"description"`
}

type StatusPayload struct {
	Status string `json:"status"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StreamEventType is the wire-level event name used in SSE `event:` frames.
type StreamEventType string

const (
	WireToken        StreamEventType = "token"
	WireToolCall     StreamEventType = "toolCall"
	WireToolResult   StreamEventType = "toolResult"
	WireError        StreamEventType = "error"
	WireDone         StreamEventType = "done"
	WireUsage        StreamEventType = "usage"
	WirePlanning     StreamEventType = "planning"
	WireStepComplete StreamEventType = "stepComplete"
	WireStatus       StreamEventType = "status"
	WireReconnected  StreamEventType = "reconnected"
)

// StreamEvent is one framed wire event, buffered for resume.
type StreamEvent struct {
	EventID   string          `json:"eventID"`
	EventType StreamEventType `json:"eventType"`
	Data      any             `json:"data"`
}

// ReconnectedPayload is the synthetic event emitted on a successful resume.
type ReconnectedPayload struct {
	LastEventID string `json:"last_event_id"`
	Resumed     bool   `json:"resumed"`
}
