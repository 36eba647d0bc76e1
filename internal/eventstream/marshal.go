package eventstream

import (
	"encoding/json"

	"github.com/cognition-sh/cognition/pkg/types"
)

// marshalCoreEvent and unmarshalCoreEvent serialize CoreEvents for transit
// over the in-process gochannel bus. This is purely an internal transport
// encoding, distinct from the public wire format ToWireEvent produces.
func marshalCoreEvent(event *types.CoreEvent) ([]byte, error) {
	return json.Marshal(event)
}

func unmarshalCoreEvent(data []byte) (*types.CoreEvent, error) {
	var event types.CoreEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ToWireEvent converts a CoreEvent into the public SSE wire shape described
// in the external interface: one JSON-serializable payload per event type,
// keyed by its wire field names.
func ToWireEvent(event *types.CoreEvent) (eventType string, data any) {
	switch event.Kind {
	case types.EventToken:
		return string(types.WireToken), event.Token
	case types.EventToolCall:
		return string(types.WireToolCall), event.ToolCall
	case types.EventToolResult:
		return string(types.WireToolResult), event.ToolResult
	case types.EventUsage:
		return string(types.WireUsage), event.Usage
	case types.EventPlanning:
		return string(types.WirePlanning), event.Planning
	case types.EventStepDone:
		return string(types.WireStepComplete), event.StepDone
	case types.EventStatus:
		return string(types.WireStatus), event.Status
	case types.EventError:
		return string(types.WireError), event.Error
	case types.EventDone:
		return string(types.WireDone), struct{}{}
	default:
		return string(types.WireError), types.ErrorPayload{Message: "unknown event kind"}
	}
}
