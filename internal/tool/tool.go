// Package tool defines the interface MCP-backed tools implement so the
// AgentDriver adapter (C6) can resolve and describe them to a model without
// depending on any particular tool source. Execution of the sandbox's own
// built-in tools (bash, file read/write, search) happens behind the opaque
// sandbox handle the driver receives at session creation, not here — this
// package only covers pluggable tools the core itself registers, namely MCP
// servers.
package tool

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Tool is something the driver can list to a model and invoke by name.
type Tool interface {
	ID() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
	EinoTool() einotool.InvokableTool
}

// Context carries per-call identity for tools that need it (metadata
// callbacks, cancellation).
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	AbortCh   <-chan struct{}

	OnMetadata func(title string, meta map[string]any)
}

// SetMetadata reports a title/metadata update for the in-flight call.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c != nil && c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// IsAborted reports whether the call's context has been cancelled.
func (c *Context) IsAborted() bool {
	if c == nil || c.AbortCh == nil {
		return false
	}
	select {
	case <-c.AbortCh:
		return true
	default:
		return false
	}
}

// Result is the output of a tool call.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// parseJSONSchemaToParams converts a JSON Schema document to Eino's
// ParameterInfo map, shared by every EinoTool() adapter in this package.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var doc struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil
	}

	required := make(map[string]bool, len(doc.Required))
	for _, r := range doc.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(doc.Properties))
	for name, prop := range doc.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: required[name],
		}
	}
	return params
}
