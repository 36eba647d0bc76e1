package message

import (
	"context"
	"strings"

	"github.com/cognition-sh/cognition/internal/eventstream"
	"github.com/cognition-sh/cognition/internal/logging"
	"github.com/cognition-sh/cognition/pkg/types"
)

// runProducer is the turn's fan-out step: it is the single reader of the
// driver's CoreEvent channel, persisting a replayable row per relevant event
// and republishing every event onto bus for whichever HTTP response (the
// original request, or a later reconnect) is currently subscribed.
func (s *Service) runProducer(ctx context.Context, sessionID string, sess *types.Session, events <-chan *types.CoreEvent, bus *eventstream.Bus) {
	defer bus.Close()

	var content strings.Builder
	var toolCalls []types.ToolCall
	var errored bool
	messageCount := sess.MessageCount + 1 // the user message already persisted

	for ev := range events {
		if err := bus.Publish(sessionID, ev); err != nil {
			logging.Logger.Warn().Err(err).Str("sessionID", sessionID).Msg("publish turn event")
		}

		switch ev.Kind {
		case types.EventToken:
			if ev.Token != nil {
				content.WriteString(ev.Token.Content)
			}

		case types.EventToolCall:
			if ev.ToolCall == nil {
				continue
			}
			toolCalls = append(toolCalls, types.ToolCall{ID: ev.ToolCall.ID, Name: ev.ToolCall.Name, Args: ev.ToolCall.Args})
			row := &types.Message{
				ID:         NewMessageID(),
				SessionID:  sessionID,
				Role:       types.RoleAssistant,
				ToolCalls:  []types.ToolCall{{ID: ev.ToolCall.ID, Name: ev.ToolCall.Name, Args: ev.ToolCall.Args}},
				ToolCallID: ev.ToolCall.ID,
			}
			if _, err := s.backend.CreateMessage(ctx, row); err != nil {
				logging.Logger.Error().Err(err).Str("sessionID", sessionID).Msg("persist tool call row")
				continue
			}
			messageCount++

		case types.EventToolResult:
			if ev.ToolResult == nil {
				continue
			}
			row := &types.Message{
				ID:         NewMessageID(),
				SessionID:  sessionID,
				Role:       types.RoleTool,
				Content:    ev.ToolResult.Output,
				ToolCallID: ev.ToolResult.ToolCallID,
			}
			if _, err := s.backend.CreateMessage(ctx, row); err != nil {
				logging.Logger.Error().Err(err).Str("sessionID", sessionID).Msg("persist tool result row")
				continue
			}
			messageCount++

		case types.EventError:
			errored = true
			msg := "turn failed"
			code := "error"
			if ev.Error != nil {
				msg = ev.Error.Message
				code = ev.Error.Code
			}
			// A cancelled/aborted turn (Service.Abort, Shutdown, or client
			// disconnect) is recorded as interrupted rather than errored:
			// the turn didn't fail, it was stopped from outside.
			status := "error"
			if code == "cancelled" {
				status = "interrupted"
			}
			row := &types.Message{
				ID:        NewMessageID(),
				SessionID: sessionID,
				Role:      types.RoleAssistant,
				Content:   content.String(),
				ToolCalls: toolCalls,
				Metadata:  map[string]any{"status": status, "errorCode": code, "errorMessage": msg},
			}
			if _, err := s.backend.CreateMessage(ctx, row); err != nil {
				logging.Logger.Error().Err(err).Str("sessionID", sessionID).Msg("persist error turn row")
				continue
			}
			messageCount++
			if err := s.backend.UpdateMessageCount(ctx, sessionID, messageCount); err != nil {
				logging.Logger.Warn().Err(err).Str("sessionID", sessionID).Msg("update message count after error")
			}

		case types.EventDone:
			// A turn that already wrote an error row (EventError always
			// precedes Done) has nothing further to persist here. Otherwise
			// a turn always ends with exactly one assistant row, even an
			// empty one (e.g. a turn that only ever emitted tool calls).
			if errored {
				continue
			}
			row := &types.Message{
				ID:        NewMessageID(),
				SessionID: sessionID,
				Role:      types.RoleAssistant,
				Content:   content.String(),
				ToolCalls: toolCalls,
			}
			if _, err := s.backend.CreateMessage(ctx, row); err != nil {
				logging.Logger.Error().Err(err).Str("sessionID", sessionID).Msg("persist final assistant row")
				continue
			}
			messageCount++
			if err := s.backend.UpdateMessageCount(ctx, sessionID, messageCount); err != nil {
				logging.Logger.Warn().Err(err).Str("sessionID", sessionID).Msg("update message count after done")
			}
		}
	}
}
