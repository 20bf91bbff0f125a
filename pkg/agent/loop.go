package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gardenista/beanbot/pkg/bus"
	"github.com/gardenista/beanbot/pkg/checkpoint"
	"github.com/gardenista/beanbot/pkg/config"
	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/logger"
	"github.com/gardenista/beanbot/pkg/providers"
	"github.com/gardenista/beanbot/pkg/tools"
)

// turnState names the phase a turn is in. States are logged, not
// exposed; a turn either commits whole at done or leaves no trace.
type turnState string

const (
	stateReasoning    turnState = "reasoning"
	stateToolDispatch turnState = "tool_dispatch"
	stateSynthesizing turnState = "synthesizing"
	stateDone         turnState = "done"
	stateFailed       turnState = "failed"
)

const defaultResponse = "I've finished, but I have nothing further to add."

// Loop consumes inbound messages and drives each one through a turn:
// reasoning, sequential tool dispatch, and synthesis. A newer message
// on the same thread cancels the in-flight turn; cancelled and failed
// turns are never checkpointed.
type Loop struct {
	bus           *bus.MessageBus
	provider      providers.LLMProvider
	library       *knowledge.Library
	store         *checkpoint.Store
	tools         *tools.ToolRegistry
	window        *WindowManager
	prompts       *PromptBuilder
	model         string
	maxTokens     int
	temperature   float64
	maxToolRounds int
	historyTurns  int
	running       atomic.Bool
	wg            sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*inflightTurn
}

type inflightTurn struct {
	id     string
	cancel context.CancelFunc
}

func NewLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider, library *knowledge.Library, store *checkpoint.Store) *Loop {
	registry := tools.NewToolRegistry()
	tools.RegisterGardenTools(registry, library)

	timezone, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		logger.WarnCF("agent", "Invalid timezone, using local",
			map[string]interface{}{"timezone": cfg.Agent.Timezone})
		timezone = time.Local
	}

	maxRounds := cfg.Agent.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}
	historyTurns := cfg.Checkpoints.MaxTurnsPerThread
	if historyTurns <= 0 {
		historyTurns = 20
	}

	return &Loop{
		bus:           msgBus,
		provider:      provider,
		library:       library,
		store:         store,
		tools:         registry,
		window:        NewWindowManager(PolicyFromConfig(cfg.Context)),
		prompts:       NewPromptBuilder(library, registry, timezone),
		model:         cfg.Agent.Model,
		maxTokens:     cfg.Agent.MaxTokens,
		temperature:   cfg.Agent.Temperature,
		maxToolRounds: maxRounds,
		historyTurns:  historyTurns,
		inflight:      make(map[string]*inflightTurn),
	}
}

func (l *Loop) Tools() *tools.ToolRegistry {
	return l.tools
}

// Run consumes the inbound bus until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	for l.running.Load() {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		l.dispatch(ctx, msg)
	}
	l.wg.Wait()
	return nil
}

func (l *Loop) Stop() {
	l.running.Store(false)
	l.mu.Lock()
	for _, turn := range l.inflight {
		turn.cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
	if err := l.tools.Close(); err != nil {
		logger.WarnCF("agent", "Tool close failures", map[string]interface{}{"error": err.Error()})
	}
}

// dispatch starts a turn for the message, cancelling any turn already
// running on the same thread. Thread order is kept by the store's
// per-thread lock.
func (l *Loop) dispatch(ctx context.Context, msg bus.InboundMessage) {
	threadID, err := resolveThreadID(msg.SessionKey, msg.Channel, msg.ChatID)
	if err != nil {
		logger.ErrorCF("agent", "Cannot resolve thread for message",
			map[string]interface{}{"channel": msg.Channel, "error": err.Error()})
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turn := &inflightTurn{id: uuid.NewString(), cancel: cancel}
	l.mu.Lock()
	if prev, ok := l.inflight[threadID]; ok {
		logger.InfoCF("agent", "Superseding in-flight turn",
			map[string]interface{}{"thread": threadID})
		prev.cancel()
	}
	l.inflight[threadID] = turn
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			cancel()
			l.mu.Lock()
			if current, ok := l.inflight[threadID]; ok && current.id == turn.id {
				delete(l.inflight, threadID)
			}
			l.mu.Unlock()
		}()

		unlock := l.store.LockThread(threadID)
		defer unlock()

		response, err := l.processMessage(turnCtx, threadID, msg)
		if err != nil {
			if turnCtx.Err() != nil && ctx.Err() == nil {
				// Superseded by a newer message; stay quiet.
				return
			}
			response = userFacingError(err)
		}
		if response != "" {
			l.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: response,
			})
		}
	}()
}

// ProcessDirect runs one message synchronously, for the CLI REPL.
func (l *Loop) ProcessDirect(ctx context.Context, content, threadID string) (string, error) {
	return l.processMessage(ctx, threadID, bus.InboundMessage{
		Channel:    "cli",
		SenderID:   "local-user",
		ChatID:     "direct",
		Content:    content,
		SessionKey: threadID,
	})
}

// ProcessEphemeral runs a system-generated prompt on a dated thread
// with no prior history. Scheduled jobs use it; rerunning the same job
// on the same day appends to the same thread.
func (l *Loop) ProcessEphemeral(ctx context.Context, threadID, prompt string) (string, error) {
	unlock := l.store.LockThread(threadID)
	defer unlock()
	return l.runTurn(ctx, turnRequest{
		ThreadID:  threadID,
		Channel:   "system",
		ChatID:    threadID,
		SenderID:  "scheduler",
		Content:   prompt,
		NoHistory: true,
	})
}

func (l *Loop) processMessage(ctx context.Context, threadID string, msg bus.InboundMessage) (string, error) {
	preview := msg.Content
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, preview),
		map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"thread":  threadID,
		})

	if response, handled := l.handleCommand(msg); handled {
		return response, nil
	}

	content := msg.Content
	if name, ok := l.library.MemberNameByChatID(msg.SenderID); ok {
		content = name + ": " + content
	}
	if guidance := msg.Metadata["guidance"]; guidance != "" {
		content += "\n\n(" + guidance + ")"
	}

	return l.runTurn(ctx, turnRequest{
		ThreadID: threadID,
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Content:  content,
		Media:    msg.Media,
	})
}

type turnRequest struct {
	ThreadID  string
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Media     []bus.MediaAttachment
	NoHistory bool
}

// runTurn drives one turn to completion. The whole turn is saved in a
// single checkpoint write at done; a cancelled or failed turn leaves
// the store untouched.
func (l *Loop) runTurn(ctx context.Context, req turnRequest) (string, error) {
	now := time.Now()
	system := l.prompts.SystemMessages(now)

	var history []checkpoint.Turn
	if !req.NoHistory {
		var err error
		history, err = l.store.History(ctx, req.ThreadID, l.historyTurns)
		if err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}
	}

	current := []providers.Message{buildUserMessage(req)}
	// Image bytes stay out of the checkpoint; only the text is durable.
	events := []checkpoint.Event{{
		ID:      "evt-" + uuid.NewString(),
		Role:    "user",
		Content: req.Content,
		Metadata: map[string]string{
			"channel":   req.Channel,
			"chat_id":   req.ChatID,
			"sender_id": req.SenderID,
		},
	}}

	messages := l.window.Build(system, history, current)
	state := stateReasoning
	tightened := false
	var finalContent string

	for round := 0; state != stateDone; round++ {
		if ctx.Err() != nil {
			logger.InfoCF("agent", "Turn cancelled", map[string]interface{}{"thread": req.ThreadID, "round": round})
			return "", ctx.Err()
		}

		if round >= l.maxToolRounds {
			// Out of tool budget: one last call without tools so the
			// model reports what it managed to do.
			logger.WarnCF("agent", "Tool round limit reached, forcing synthesis",
				map[string]interface{}{"thread": req.ThreadID, "rounds": round})
			messages = append(messages, providers.TextMessage("user",
				"You have used all available tool calls for this request. Summarize what you did and what remains, then stop."))
			resp, err := l.callModel(ctx, messages, nil)
			if err != nil {
				return "", err
			}
			finalContent = strings.TrimSpace(resp.Content)
			state = stateDone
			break
		}

		logger.DebugCF("agent", "Turn state", map[string]interface{}{
			"thread": req.ThreadID,
			"state":  string(state),
			"round":  round,
		})

		resp, err := l.callModel(ctx, messages, l.tools.ToProviderDefs())
		if err != nil {
			if providers.IsContextLengthError(err) && !tightened {
				tightened = true
				logger.WarnCF("agent", "Context length rejected, tightening window",
					map[string]interface{}{"thread": req.ThreadID})
				messages = l.window.BuildTightened(system, history, current)
				continue
			}
			logger.DebugCF("agent", "Turn state", map[string]interface{}{
				"thread": req.ThreadID,
				"state":  string(stateFailed),
			})
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			logger.DebugCF("agent", "Turn state", map[string]interface{}{
				"thread": req.ThreadID,
				"state":  string(stateSynthesizing),
			})
			finalContent = strings.TrimSpace(resp.Content)
			state = stateDone
			break
		}

		logger.DebugCF("agent", "Turn state", map[string]interface{}{
			"thread": req.ThreadID,
			"state":  string(stateToolDispatch),
			"tools":  len(resp.ToolCalls),
		})
		// The in-turn exchange accumulates in current so a tightened
		// rebuild keeps every message of the live turn.
		assistantMsg := providers.AssistantToolCallMessage(resp.Content, resp.ToolCalls)
		current = append(current, assistantMsg)
		messages = append(messages, assistantMsg)
		events = append(events, checkpoint.Event{
			ID:       "evt-" + uuid.NewString(),
			Role:     "assistant",
			Content:  resp.Content,
			Metadata: encodeToolCalls(resp.ToolCalls),
		})

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			result := l.tools.ExecuteWithContext(ctx, call.Name, call.Arguments, req.Channel, req.ChatID, req.SenderID)
			if errors.Is(result.Err, tools.ErrUnknownTool) {
				return "", fmt.Errorf("model requested unknown tool %q", call.Name)
			}

			contentForLLM := result.ForLLM
			if contentForLLM == "" && result.Err != nil {
				contentForLLM = result.Err.Error()
			}
			toolMsg := providers.ToolResultMessage(call.ID, call.Name, contentForLLM)
			current = append(current, toolMsg)
			messages = append(messages, toolMsg)
			events = append(events, checkpoint.Event{
				ID:         "evt-" + uuid.NewString(),
				Role:       "tool",
				Content:    contentForLLM,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	if finalContent == "" {
		finalContent = defaultResponse
	}

	events = append(events, checkpoint.Event{
		ID:      "evt-" + uuid.NewString(),
		Role:    "assistant",
		Content: finalContent,
	})
	if _, err := l.store.SaveTurn(ctx, req.ThreadID, events); err != nil {
		return "", fmt.Errorf("save turn: %w", err)
	}

	logger.InfoCF("agent", "Turn complete", map[string]interface{}{
		"thread":       req.ThreadID,
		"events":       len(events),
		"final_length": len(finalContent),
	})
	return finalContent, nil
}

// callModel calls the backend with up to three attempts and doubling
// backoff. Quota and context-length errors are returned immediately so
// the caller can handle them.
func (l *Loop) callModel(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
	opts := map[string]interface{}{
		"temperature": l.temperature,
	}
	if l.maxTokens > 0 {
		opts["max_tokens"] = l.maxTokens
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := l.provider.Chat(ctx, messages, defs, l.model, opts)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if providers.IsQuotaError(err) || providers.IsContextLengthError(err) {
			return nil, err
		}
		lastErr = err
		logger.WarnCF("agent", "Model call failed, retrying",
			map[string]interface{}{"attempt": attempt + 1, "error": err.Error()})
	}
	return nil, fmt.Errorf("model call failed after retries: %w", lastErr)
}

func buildUserMessage(req turnRequest) providers.Message {
	if len(req.Media) == 0 {
		return providers.TextMessage("user", req.Content)
	}
	images := make([]providers.ImageAttachment, 0, len(req.Media))
	for _, m := range req.Media {
		if strings.HasPrefix(m.MimeType, "image/") {
			images = append(images, providers.ImageAttachment{MimeType: m.MimeType, Data: m.Data})
		}
	}
	return providers.UserMessageWithImages(req.Content, images)
}

// userFacingError maps internal failures to something worth sending to
// a chat.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return ""
	case providers.IsQuotaError(err):
		return "The model is over its usage quota right now. Please try again in a few minutes."
	case providers.IsContextLengthError(err):
		return "This conversation has grown too large for the model even after trimming. Try starting a fresh question."
	default:
		return fmt.Sprintf("Something went wrong handling that: %v", err)
	}
}

func (l *Loop) handleCommand(msg bus.InboundMessage) (string, bool) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}
	parts := strings.Fields(content)
	if len(parts) == 0 {
		return "", false
	}

	switch parts[0] {
	case "/tasks":
		open, err := l.library.OpenTasks()
		if err != nil {
			return fmt.Sprintf("Failed to read tasks: %v", err), true
		}
		if len(open) == 0 {
			return "No open tasks.", true
		}
		return "Open tasks:\n" + strings.Join(open, "\n"), true

	case "/members":
		names := l.library.MemberNames()
		if len(names) == 0 {
			return "No members registered yet.", true
		}
		return "Members: " + strings.Join(names, ", "), true

	case "/model":
		return fmt.Sprintf("Current model: %s", l.model), true

	case "/help":
		return strings.Join([]string{
			"Commands:",
			"/tasks - list open tasks",
			"/members - list registered members",
			"/model - show the configured model",
			"Anything else is sent to the assistant.",
		}, "\n"), true
	}

	return "", false
}
