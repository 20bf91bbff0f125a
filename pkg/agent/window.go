package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gardenista/beanbot/pkg/checkpoint"
	"github.com/gardenista/beanbot/pkg/config"
	"github.com/gardenista/beanbot/pkg/logger"
	"github.com/gardenista/beanbot/pkg/providers"
)

// WindowPolicy controls how stored turns are condensed when assembling
// the model context.
type WindowPolicy struct {
	TokenBudget       int
	KeepRecentTurns   int
	ToolResultRunes   int
	UserTruncateAbove int
	UserTruncateTo    int
}

func PolicyFromConfig(cfg config.ContextConfig) WindowPolicy {
	p := WindowPolicy{
		TokenBudget:       cfg.TokenBudget,
		KeepRecentTurns:   cfg.KeepRecentTurns,
		ToolResultRunes:   cfg.ToolResultRunes,
		UserTruncateAbove: cfg.UserTruncateAbove,
		UserTruncateTo:    cfg.UserTruncateTo,
	}
	if p.TokenBudget <= 0 {
		p.TokenBudget = 24000
	}
	if p.KeepRecentTurns <= 0 {
		p.KeepRecentTurns = 4
	}
	if p.ToolResultRunes <= 0 {
		p.ToolResultRunes = 200
	}
	if p.UserTruncateAbove <= 0 {
		p.UserTruncateAbove = 500
	}
	if p.UserTruncateTo <= 0 {
		p.UserTruncateTo = 300
	}
	return p
}

// EstimateTokens approximates the token cost of a string. Good enough
// for budget decisions without shipping a tokenizer.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s) * 2 / 5
	if n < 8 {
		return 8
	}
	return n
}

// WindowManager turns stored history plus the live turn into the
// message list sent to the model. Older turns are condensed and, when
// the budget is still exceeded, dropped whole, oldest first. The live
// turn is passed through untouched.
type WindowManager struct {
	policy WindowPolicy
}

func NewWindowManager(policy WindowPolicy) *WindowManager {
	return &WindowManager{policy: policy}
}

func (w *WindowManager) Policy() WindowPolicy {
	return w.policy
}

// Build assembles system + history + current into one message list.
// History turns beyond the recent window are condensed; whole turns are
// then dropped oldest-first until the estimate fits the budget. The
// current slice is appended as-is.
func (w *WindowManager) Build(system []providers.Message, history []checkpoint.Turn, current []providers.Message) []providers.Message {
	return w.build(system, history, current, w.policy.KeepRecentTurns)
}

// BuildTightened is Build with a smaller intact window, used when the
// backend rejects a request for context length.
func (w *WindowManager) BuildTightened(system []providers.Message, history []checkpoint.Turn, current []providers.Message) []providers.Message {
	keep := w.policy.KeepRecentTurns / 2
	if keep < 1 {
		keep = 1
	}
	return w.build(system, history, current, keep)
}

func (w *WindowManager) build(system []providers.Message, history []checkpoint.Turn, current []providers.Message, keepRecent int) []providers.Message {
	fixed := 0
	for _, m := range system {
		fixed += EstimateTokens(flattenContent(m.Content))
	}
	for _, m := range current {
		fixed += EstimateTokens(flattenContent(m.Content))
	}

	rendered := make([][]providers.Message, len(history))
	costs := make([]int, len(history))
	total := fixed
	for i, turn := range history {
		condense := i < len(history)-keepRecent
		msgs := w.renderTurn(turn, condense)
		cost := 0
		for _, m := range msgs {
			cost += EstimateTokens(flattenContent(m.Content))
		}
		rendered[i] = msgs
		costs[i] = cost
		total += cost
	}

	drop := 0
	for total > w.policy.TokenBudget && drop < len(history) {
		total -= costs[drop]
		drop++
	}
	if drop > 0 {
		logger.DebugCF("agent", "Dropped oldest turns to fit context budget",
			map[string]interface{}{
				"dropped": drop,
				"kept":    len(history) - drop,
				"budget":  w.policy.TokenBudget,
			})
	}

	out := make([]providers.Message, 0, len(system)+len(current)+8)
	out = append(out, system...)
	for _, msgs := range rendered[drop:] {
		out = append(out, msgs...)
	}
	out = append(out, current...)
	return dropOrphanedToolMessages(out)
}

// renderTurn replays one stored turn as provider messages. Assistant
// events that requested tools carry their call payloads in metadata so
// the tool-role replies stay paired on replay.
func (w *WindowManager) renderTurn(turn checkpoint.Turn, condense bool) []providers.Message {
	msgs := make([]providers.Message, 0, len(turn.Events))
	for _, ev := range turn.Events {
		switch ev.Role {
		case "user":
			content := ev.Content
			if condense && utf8.RuneCountInString(content) > w.policy.UserTruncateAbove {
				content = string([]rune(content)[:w.policy.UserTruncateTo]) + " [...]"
			}
			msgs = append(msgs, providers.TextMessage("user", content))
		case "assistant":
			if calls := decodeToolCalls(ev.Metadata); len(calls) > 0 {
				msgs = append(msgs, providers.AssistantToolCallMessage(ev.Content, calls))
			} else {
				msgs = append(msgs, providers.TextMessage("assistant", ev.Content))
			}
		case "tool":
			content := ev.Content
			if condense && utf8.RuneCountInString(content) > w.policy.ToolResultRunes {
				content = fmt.Sprintf("[tool result: %s, %d runes omitted]",
					ev.ToolName, utf8.RuneCountInString(ev.Content))
			}
			msgs = append(msgs, providers.ToolResultMessage(ev.ToolCallID, ev.ToolName, content))
		}
	}
	return msgs
}

// encodeToolCalls serializes requested tool calls into event metadata
// for faithful history replay.
func encodeToolCalls(calls []providers.ToolCall) map[string]string {
	if len(calls) == 0 {
		return nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return nil
	}
	return map[string]string{"tool_calls": string(data)}
}

func decodeToolCalls(metadata map[string]string) []providers.ToolCall {
	raw, ok := metadata["tool_calls"]
	if !ok || raw == "" {
		return nil
	}
	var calls []providers.ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil
	}
	return calls
}

// dropOrphanedToolMessages removes tool-role messages that lost their
// preceding assistant tool-call message, which providers reject.
func dropOrphanedToolMessages(messages []providers.Message) []providers.Message {
	out := messages[:0]
	pending := map[string]bool{}
	for _, m := range messages {
		if m.Role == "tool" {
			if !pending[m.ToolCallID] {
				continue
			}
			delete(pending, m.ToolCallID)
		} else {
			for _, call := range m.ToolCalls {
				pending[call.ID] = true
			}
		}
		out = append(out, m)
	}
	return out
}

func flattenContent(content interface{}) string {
	switch typed := content.(type) {
	case string:
		return typed
	case nil:
		return ""
	default:
		var sb strings.Builder
		if parts, ok := content.([]interface{}); ok {
			for _, part := range parts {
				if m, ok := part.(map[string]interface{}); ok {
					if text, ok := m["text"].(string); ok {
						sb.WriteString(text)
					}
				}
			}
			return sb.String()
		}
		return fmt.Sprintf("%v", content)
	}
}
