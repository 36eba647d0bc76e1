// Package agentdriver implements the AgentDriver Adapter (C6): it wraps the
// Eino-backed provider for a single turn, resolving the model, assembling
// the system prompt, driving the completion stream, and translating native
// stream chunks into the core's CoreEvent vocabulary. The adapter carries no
// state across turns — all conversational continuity lives in the stored
// message history keyed by the session's threadID, not in the Driver value.
package agentdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/cognition-sh/cognition/internal/permission"
	"github.com/cognition-sh/cognition/internal/provider"
	"github.com/cognition-sh/cognition/internal/tool"
	"github.com/cognition-sh/cognition/pkg/types"
)

const (
	// DefaultMaxSteps bounds the number of model round-trips a single turn
	// may take before the driver forces a Done, matching the teacher's
	// agentic loop ceiling.
	DefaultMaxSteps = 50

	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
	retryMaxAttempts     = 3
)

// PlanningToolName is the tool whose invocation the adapter additionally
// surfaces as a Planning CoreEvent, alongside the usual ToolCall.
const PlanningToolName = "todowrite"

// Driver wraps a provider.Registry and tool.Registry to run turns. One
// Driver instance is shared across turns; it holds no per-turn state.
type Driver struct {
	providers       *provider.Registry
	tools           *tool.Registry
	perms           *permission.Checker
	bashPermissions map[string]permission.PermissionAction
	doomLoop        *permission.DoomLoopDetector
	costs           CostTable
	maxSteps        int
}

// New creates a Driver. costs may be nil, in which case DefaultCostTable()
// is used. bashPermissions configures the pattern table
// consulted before any ToolCall named "bash" is executed; nil means every
// bash command falls back to ActionAllow instead of being matched against a
// configured pattern. perms may be nil, which disables both the bash gate
// and doom-loop detection (used by tests that don't care about either).
func New(providers *provider.Registry, tools *tool.Registry, perms *permission.Checker, bashPermissions map[string]permission.PermissionAction, costs CostTable) *Driver {
	if costs == nil {
		costs = DefaultCostTable()
	}
	var doomLoop *permission.DoomLoopDetector
	if perms != nil {
		doomLoop = permission.NewDoomLoopDetector()
	}
	return &Driver{providers: providers, tools: tools, perms: perms, bashPermissions: bashPermissions, doomLoop: doomLoop, costs: costs, maxSteps: DefaultMaxSteps}
}

// Request is the input to a single turn.
type Request struct {
	Session  *types.Session
	History  []*types.Message // prior messages, oldest first
	Content  string           // the new user message
	ThreadID string
}

// Cancel stops an in-flight turn. The next native event the driver would
// have yielded is discarded; the driver instead emits Error{Cancelled} then
// Done. Calling Cancel more than once is safe.
type Cancel func()

// Run starts a turn and returns a channel of CoreEvents plus a Cancel
// handle. The channel is closed after the terminal Done event is sent.
func (d *Driver) Run(ctx context.Context, req Request) (<-chan *types.CoreEvent, Cancel, error) {
	prov, model, err := d.resolveModel(req.Session)
	if err != nil {
		return nil, nil, err
	}

	turnCtx, cancelFn := context.WithCancel(ctx)
	var cancelled atomic.Bool
	cancel := Cancel(func() {
		cancelled.Store(true)
		cancelFn()
	})

	events := make(chan *types.CoreEvent, 16)

	go func() {
		defer close(events)
		defer cancelFn()
		d.runTurn(turnCtx, req, prov, model, events, &cancelled)
	}()

	return events, cancel, nil
}

func (d *Driver) resolveModel(session *types.Session) (provider.Provider, *types.Model, error) {
	providerID := ""
	modelID := ""
	if session != nil {
		if session.Config.Provider != nil {
			providerID = *session.Config.Provider
		}
		if session.Config.Model != nil {
			modelID = *session.Config.Model
		}
	}

	if providerID == "" && modelID == "" {
		model, err := d.providers.DefaultModel()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve default model: %w", err)
		}
		prov, err := d.providers.Get(model.ProviderID)
		if err != nil {
			return nil, nil, err
		}
		return prov, model, nil
	}

	if providerID == "" {
		providerID, modelID = provider.ParseModelString(modelID)
	}

	prov, err := d.providers.Get(providerID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve provider %q: %w", providerID, err)
	}
	model, err := d.providers.GetModel(providerID, modelID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve model %q/%q: %w", providerID, modelID, err)
	}
	return prov, model, nil
}

// systemPrompt assembles the turn's system message: the session's override
// if set, otherwise a default, plus a planning-tool addendum when the
// driver's tool registry carries one.
func (d *Driver) systemPrompt(session *types.Session) string {
	var prompt string
	if session != nil && session.Config.SystemPrompt != nil && *session.Config.SystemPrompt != "" {
		prompt = *session.Config.SystemPrompt
	} else {
		prompt = "You are a helpful assistant collaborating inside a coding session. Use the available tools when they help complete the user's request."
	}

	if _, ok := d.tools.Get(PlanningToolName); ok {
		prompt += "\n\nWhen a task has multiple steps, call " + PlanningToolName + " to record and update a todo list before proceeding."
	}
	return prompt
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts), ctx)
}

// runTurn drives the agentic loop: build a request, stream the completion,
// translate chunks to CoreEvents, execute any tool calls the registry
// knows about, and repeat until the model stops requesting tools or the
// step ceiling is hit.
func (d *Driver) runTurn(ctx context.Context, req Request, prov provider.Provider, model *types.Model, events chan<- *types.CoreEvent, cancelled *atomic.Bool) {
	acc := &usageAccumulator{}

	messages := provider.ConvertToEinoMessages(req.History)
	messages = append([]*schema.Message{{Role: schema.System, Content: d.systemPrompt(req.Session)}}, messages...)
	messages = append(messages, &schema.Message{Role: schema.User, Content: req.Content})

	maxTokens := model.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	var temperature float64 = 0.7
	if req.Session != nil && req.Session.Config.Temperature != nil {
		temperature = *req.Session.Config.Temperature
	}

	lastToolCallID := ""

	for step := 0; step < d.maxSteps; step++ {
		select {
		case <-ctx.Done():
			d.emitCancelled(events, cancelled)
			return
		default:
		}

		compReq := &provider.CompletionRequest{
			Model:       model.ID,
			Messages:    messages,
			Tools:       d.tools.ToolInfos(),
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}
		acc.addInputChars(promptCharCount(messages))

		stream, err := d.callWithRetry(ctx, prov, compReq)
		if err != nil {
			if ctx.Err() != nil {
				d.emitCancelled(events, cancelled)
				return
			}
			d.emitError(events, "provider_error", err.Error())
			return
		}

		assistantMsg, finishReason, toolCalls, err := d.consumeStream(ctx, stream, events, acc, &lastToolCallID)
		stream.Close()
		if err != nil {
			if ctx.Err() != nil {
				d.emitCancelled(events, cancelled)
				return
			}
			d.emitError(events, "stream_error", err.Error())
			return
		}

		messages = append(messages, assistantMsg)

		if len(toolCalls) == 0 || finishReason == "stop" || finishReason == "end_turn" {
			break
		}

		// Execute each requested tool call against the registry (MCP-backed
		// tools only — the sandbox's own built-ins are out of this
		// adapter's scope) and feed results back as tool messages.
		for _, tc := range toolCalls {
			result := d.executeToolCall(ctx, req, tc)
			events <- &types.CoreEvent{
				Kind: types.EventToolResult,
				ToolResult: &types.ToolResultPayload{
					ToolCallID: tc.ID,
					Output:     result,
				},
			}
			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	events <- &types.CoreEvent{
		Kind: types.EventUsage,
		Usage: &types.UsagePayload{
			InputTokens:   acc.input,
			OutputTokens:  acc.output,
			EstimatedCost: d.costs.Estimate(prov.ID(), acc.input, acc.output),
			Provider:      prov.ID(),
			Model:         model.ID,
		},
	}
	events <- &types.CoreEvent{Kind: types.EventDone}
}

func (d *Driver) callWithRetry(ctx context.Context, prov provider.Provider, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	var stream *provider.CompletionStream
	op := func() error {
		s, err := prov.CreateCompletion(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}
	if err := backoff.Retry(op, newRetryBackoff(ctx)); err != nil {
		return nil, err
	}
	return stream, nil
}

type pendingToolCall struct {
	ID        string
	Name      string
	ArgsJSON  strings.Builder
	announced bool
}

// consumeStream reads chunks until EOF, emitting Token/ToolCall/Planning
// events as they arrive, and returns the accumulated assistant message plus
// the finish reason and fully-resolved tool calls for the caller to execute.
func (d *Driver) consumeStream(ctx context.Context, stream *provider.CompletionStream, events chan<- *types.CoreEvent, acc *usageAccumulator, lastToolCallID *string) (*schema.Message, string, []resolvedToolCall, error) {
	var content strings.Builder
	var finishReason string
	pending := make(map[int]*pendingToolCall)
	var order []int

	for {
		select {
		case <-ctx.Done():
			return nil, "", nil, ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", nil, err
		}

		if msg.Content != "" {
			content.WriteString(msg.Content)
			acc.addOutputChars(len(msg.Content))
			events <- &types.CoreEvent{Kind: types.EventToken, Token: &types.TokenPayload{Content: msg.Content}}
		}

		for _, tc := range msg.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			p, ok := pending[idx]
			if !ok {
				p = &pendingToolCall{}
				pending[idx] = p
				order = append(order, idx)
			}
			if tc.ID != "" && !p.announced {
				p.ID = tc.ID
			}
			if tc.Function.Name != "" {
				p.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				p.ArgsJSON.WriteString(tc.Function.Arguments)
			}

			if !p.announced && p.Name != "" {
				p.announced = true
				if p.ID == "" {
					p.ID = uuid.NewString()
				}
				*lastToolCallID = p.ID

				var args map[string]any
				_ = json.Unmarshal([]byte(p.ArgsJSON.String()), &args)
				events <- &types.CoreEvent{
					Kind:     types.EventToolCall,
					ToolCall: &types.ToolCallPayload{Name: p.Name, Args: args, ID: p.ID},
				}
				if p.Name == PlanningToolName {
					events <- &types.CoreEvent{Kind: types.EventPlanning, Planning: &types.PlanningPayload{Todos: extractTodos(args)}}
				}
			}
		}

		if msg.ResponseMeta != nil {
			if msg.ResponseMeta.Usage != nil {
				acc.input = msg.ResponseMeta.Usage.PromptTokens
				acc.output = msg.ResponseMeta.Usage.CompletionTokens
			}
			if msg.ResponseMeta.FinishReason != "" {
				finishReason = normalizeFinishReason(msg.ResponseMeta.FinishReason)
			}
		}
	}

	var calls []resolvedToolCall
	var schemaCalls []schema.ToolCall
	for _, idx := range order {
		p := pending[idx]
		if p.ID == "" || p.Name == "" {
			continue
		}
		var args map[string]any
		_ = json.Unmarshal([]byte(p.ArgsJSON.String()), &args)
		calls = append(calls, resolvedToolCall{ID: p.ID, Name: p.Name, Args: args})
		schemaCalls = append(schemaCalls, schema.ToolCall{ID: p.ID, Function: schema.FunctionCall{Name: p.Name, Arguments: p.ArgsJSON.String()}})
	}

	if finishReason == "" {
		if len(calls) > 0 {
			finishReason = "tool-calls"
		} else {
			finishReason = "stop"
		}
	}

	assistantMsg := &schema.Message{Role: schema.Assistant, Content: content.String(), ToolCalls: schemaCalls}
	return assistantMsg, finishReason, calls, nil
}

type resolvedToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// executeToolCall invokes a registered (MCP-backed) tool, classifying bash
// calls through the permission checker's pattern matcher first and rejecting
// any call the doom-loop detector flags as a repeat of the last two. Unknown
// tools, doom loops, and permission rejections surface as a stringified
// error the model can react to, rather than aborting the turn.
func (d *Driver) executeToolCall(ctx context.Context, req Request, tc resolvedToolCall) string {
	sessionID := ""
	if req.Session != nil {
		sessionID = req.Session.ID
	}

	if d.doomLoop != nil && d.doomLoop.Check(sessionID, tc.Name, tc.Args) {
		return "doom loop detected: this exact tool call has repeated too many times in a row"
	}

	if tc.Name == "bash" && d.perms != nil {
		if deniedMsg := d.checkBashPermission(ctx, sessionID, tc); deniedMsg != "" {
			return deniedMsg
		}
	}

	t, ok := d.tools.Get(tc.Name)
	if !ok {
		return fmt.Sprintf("tool not found: %s", tc.Name)
	}

	argsJSON, err := json.Marshal(tc.Args)
	if err != nil {
		return fmt.Sprintf("failed to marshal tool input: %v", err)
	}

	toolCtx := &tool.Context{SessionID: sessionID, CallID: tc.ID, AbortCh: ctx.Done()}

	result, err := t.Execute(ctx, argsJSON, toolCtx)
	if err != nil {
		return fmt.Sprintf("tool error: %v", err)
	}
	return result.Output
}

// checkBashPermission parses the call's command argument, classifies each
// parsed command against bashPermissions, and runs the classification
// through the Checker. Ask is handled without blocking: the core has no
// synchronous approval UI (the sandbox's confirmation path is out of scope),
// so an ask-classified command is allowed to run and reported through
// OnRequired for an observer (e.g. a status CoreEvent) to see. It returns a
// non-empty denial message only when a command is actually denied.
func (d *Driver) checkBashPermission(ctx context.Context, sessionID string, tc resolvedToolCall) string {
	cmd, ok := tc.Args["command"].(string)
	if !ok {
		return ""
	}

	parsed, err := permission.ParseBashCommand(cmd)
	if err != nil {
		return ""
	}

	for _, c := range parsed {
		action := permission.ActionAllow
		if d.bashPermissions != nil {
			action = permission.MatchBashPermission(c, d.bashPermissions)
		}

		req := permission.Request{
			Type:      permission.PermBash,
			Pattern:   []string{permission.BuildPattern(c)},
			SessionID: sessionID,
			CallID:    tc.ID,
			Title:     cmd,
		}

		switch action {
		case permission.ActionAsk:
			if d.perms.OnRequired != nil {
				d.perms.OnRequired(req)
			}
		default:
			if err := d.perms.Check(ctx, req, action); err != nil {
				return fmt.Sprintf("permission denied: %v", err)
			}
		}
	}
	return ""
}

func (d *Driver) emitError(events chan<- *types.CoreEvent, code, message string) {
	events <- &types.CoreEvent{Kind: types.EventError, Error: &types.ErrorPayload{Code: code, Message: message}}
	events <- &types.CoreEvent{Kind: types.EventDone}
}

func (d *Driver) emitCancelled(events chan<- *types.CoreEvent, cancelled *atomic.Bool) {
	if cancelled.Load() {
		events <- &types.CoreEvent{Kind: types.EventError, Error: &types.ErrorPayload{Code: "cancelled", Message: "turn cancelled"}}
	}
	events <- &types.CoreEvent{Kind: types.EventDone}
}

func normalizeFinishReason(reason string) string {
	if reason == "tool_use" {
		return "tool-calls"
	}
	return reason
}

func extractTodos(args map[string]any) []string {
	raw, ok := args["todos"].([]any)
	if !ok {
		return nil
	}
	todos := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			todos = append(todos, v)
		case map[string]any:
			if content, ok := v["content"].(string); ok {
				todos = append(todos, content)
			}
		}
	}
	return todos
}

// usageAccumulator tracks token usage for the turn, falling back to a
// length-derived estimate when the provider never reports ResponseMeta.Usage.
type usageAccumulator struct {
	mu     sync.Mutex
	input  int
	output int
}

func (a *usageAccumulator) addOutputChars(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output += n / 4
}

// addInputChars overwrites rather than accumulates: it is called once per
// model round-trip with the full prompt length, and a fallback estimate
// should reflect the latest (largest) prompt, not the sum across retries.
func (a *usageAccumulator) addInputChars(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input = n / 4
}

func promptCharCount(messages []*schema.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}
