package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenista/beanbot/pkg/bus"
	"github.com/gardenista/beanbot/pkg/checkpoint"
	"github.com/gardenista/beanbot/pkg/config"
	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/providers"
)

// scriptedProvider replays canned responses in order.
type scriptedProvider struct {
	mu        sync.Mutex
	script    []func(tools []providers.ToolDefinition) (*providers.LLMResponse, error)
	calls     int
	lastTools []providers.ToolDefinition
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTools = tools
	i := p.calls
	p.calls++
	if i < len(p.script) {
		return p.script[i](tools)
	}
	return &providers.LLMResponse{Content: "all done"}, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "scripted" }

func reply(content string) func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
	return func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
		return &providers.LLMResponse{Content: content}, nil
	}
}

func callTool(id, name string, args map[string]interface{}) func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
	return func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
		return &providers.LLMResponse{ToolCalls: []providers.ToolCall{{
			ID:        id,
			Type:      "function",
			Name:      name,
			Arguments: args,
		}}}, nil
	}
}

func newTestLoop(t *testing.T, provider providers.LLMProvider) (*Loop, *knowledge.Library, *checkpoint.Store) {
	t.Helper()
	dir := t.TempDir()
	library, err := knowledge.NewLibrary(filepath.Join(dir, "data"))
	require.NoError(t, err)
	store, err := checkpoint.Open(filepath.Join(dir, "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultConfig()
	cfg.Agent.MaxToolRounds = 4
	loop := NewLoop(cfg, bus.NewMessageBus(), provider, library, store)
	return loop, library, store
}

func TestTurnWithToolCallCommitsWhole(t *testing.T) {
	provider := &scriptedProvider{script: []func([]providers.ToolDefinition) (*providers.LLMResponse, error){
		callTool("call-1", "append_journal", map[string]interface{}{"entry": "planted the beans"}),
		reply("Logged it to the journal."),
	}}
	loop, library, store := newTestLoop(t, provider)

	response, err := loop.ProcessDirect(context.Background(), "note that I planted the beans", "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, "Logged it to the journal.", response)

	log, err := library.Read("garden_log.md")
	require.NoError(t, err)
	assert.Contains(t, log, "planted the beans")

	turns, err := store.History(context.Background(), "cli:direct", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	// user, assistant tool call, tool result, final assistant
	require.Len(t, turns[0].Events, 4)
	assert.Equal(t, "user", turns[0].Events[0].Role)
	assert.Equal(t, "tool", turns[0].Events[2].Role)
	assert.Equal(t, "Logged it to the journal.", turns[0].Events[3].Content)
}

func TestFailedTurnLeavesStoreUnchanged(t *testing.T) {
	provider := &scriptedProvider{script: []func([]providers.ToolDefinition) (*providers.LLMResponse, error){
		func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
			return nil, errors.New("backend unavailable status=500")
		},
		func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
			return nil, errors.New("backend unavailable status=500")
		},
		func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
			return nil, errors.New("backend unavailable status=500")
		},
	}}
	loop, _, store := newTestLoop(t, provider)

	_, err := loop.ProcessDirect(context.Background(), "hello", "cli:direct")
	require.Error(t, err)

	count, err := store.TurnCount(context.Background(), "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCancelledTurnLeavesStoreUnchanged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedProvider{script: []func([]providers.ToolDefinition) (*providers.LLMResponse, error){
		func([]providers.ToolDefinition) (*providers.LLMResponse, error) {
			cancel()
			return &providers.LLMResponse{ToolCalls: []providers.ToolCall{{
				ID: "call-1", Type: "function", Name: "append_journal",
				Arguments: map[string]interface{}{"entry": "should not persist"},
			}}}, nil
		},
	}}
	loop, _, store := newTestLoop(t, provider)

	_, err := loop.ProcessDirect(ctx, "hello", "cli:direct")
	require.Error(t, err)

	count, err := store.TurnCount(context.Background(), "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestToolRoundLimitForcesSynthesis(t *testing.T) {
	var script []func([]providers.ToolDefinition) (*providers.LLMResponse, error)
	for i := 0; i < 4; i++ {
		script = append(script, callTool(fmt.Sprintf("call-%d", i), "list_files", map[string]interface{}{}))
	}
	// The forced synthesis call comes without tool definitions.
	script = append(script, func(tools []providers.ToolDefinition) (*providers.LLMResponse, error) {
		if len(tools) != 0 {
			return nil, errors.New("expected no tools on the synthesis call")
		}
		return &providers.LLMResponse{Content: "I listed the files several times and stopped."}, nil
	})
	provider := &scriptedProvider{script: script}
	loop, _, store := newTestLoop(t, provider)

	response, err := loop.ProcessDirect(context.Background(), "keep listing files", "cli:direct")
	require.NoError(t, err)
	assert.Contains(t, response, "stopped")
	assert.Equal(t, 5, provider.calls)

	count, err := store.TurnCount(context.Background(), "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAmbiguousCompletionSurfacesCandidates(t *testing.T) {
	provider := &scriptedProvider{script: []func([]providers.ToolDefinition) (*providers.LLMResponse, error){
		callTool("call-1", "complete_task", map[string]interface{}{"snippet": "carrot"}),
		reply("Two tasks mention carrots. Which one did you finish: weeding the rows, or thinning the seedlings?"),
	}}
	loop, library, _ := newTestLoop(t, provider)

	for _, desc := range []string{"Weed the carrot rows", "Thin the carrot seedlings"} {
		_, err := library.AddTask(desc, knowledge.AddTaskOptions{SkipDuplicateCheck: true})
		require.NoError(t, err)
	}

	response, err := loop.ProcessDirect(context.Background(), "I finished the carrot job", "cli:direct")
	require.NoError(t, err)
	assert.Contains(t, response, "Which one")

	// Neither task was completed.
	tasks, err := library.OpenTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

// recordingProvider scripts responses against the message list of each
// call instead of the tool definitions.
type recordingProvider struct {
	mu     sync.Mutex
	script []func(messages []providers.Message) (*providers.LLMResponse, error)
	calls  int
}

func (p *recordingProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.script) {
		return p.script[i](messages)
	}
	return &providers.LLMResponse{Content: "all done"}, nil
}

func (p *recordingProvider) GetDefaultModel() string { return "recording" }

func TestTightenedRebuildKeepsCurrentTurnExchange(t *testing.T) {
	var sawToolResult, sawAssistantCall bool
	provider := &recordingProvider{script: []func([]providers.Message) (*providers.LLMResponse, error){
		func([]providers.Message) (*providers.LLMResponse, error) {
			return &providers.LLMResponse{ToolCalls: []providers.ToolCall{{
				ID: "call-1", Type: "function", Name: "append_journal",
				Arguments: map[string]interface{}{"entry": "mulched the beds"},
			}}}, nil
		},
		func([]providers.Message) (*providers.LLMResponse, error) {
			return nil, errors.New("maximum context length exceeded")
		},
		func(messages []providers.Message) (*providers.LLMResponse, error) {
			for _, m := range messages {
				if m.Role == "tool" && m.ToolCallID == "call-1" {
					sawToolResult = true
				}
				for _, call := range m.ToolCalls {
					if call.ID == "call-1" {
						sawAssistantCall = true
					}
				}
			}
			return &providers.LLMResponse{Content: "Noted the mulching."}, nil
		},
	}}
	loop, library, _ := newTestLoop(t, provider)

	response, err := loop.ProcessDirect(context.Background(), "note that I mulched the beds", "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, "Noted the mulching.", response)

	// The tightened rebuild kept the live turn's tool exchange, so the
	// journal entry was not re-executed.
	assert.True(t, sawAssistantCall, "assistant tool-call message missing after tightening")
	assert.True(t, sawToolResult, "tool result missing after tightening")

	log, err := library.Read("garden_log.md")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(log, "mulched the beds"))
}

func TestUnknownToolFailsTurn(t *testing.T) {
	provider := &scriptedProvider{script: []func([]providers.ToolDefinition) (*providers.LLMResponse, error){
		callTool("call-1", "launch_rockets", map[string]interface{}{}),
	}}
	loop, _, store := newTestLoop(t, provider)

	_, err := loop.ProcessDirect(context.Background(), "do something odd", "cli:direct")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")

	count, err := store.TurnCount(context.Background(), "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEphemeralThreadTurn(t *testing.T) {
	provider := &scriptedProvider{script: []func([]providers.ToolDefinition) (*providers.LLMResponse, error){
		reply("Good morning, nothing is due today."),
	}}
	loop, _, store := newTestLoop(t, provider)

	response, err := loop.ProcessEphemeral(context.Background(), "daily_report_2026-08-30", "Prepare the morning briefing.")
	require.NoError(t, err)
	assert.Contains(t, response, "Good morning")

	threads, err := store.Threads(context.Background(), "ephemeral")
	require.NoError(t, err)
	assert.Contains(t, threads, "daily_report_2026-08-30")
}

func TestHandleCommands(t *testing.T) {
	provider := &scriptedProvider{}
	loop, library, _ := newTestLoop(t, provider)

	_, err := library.AddTask("Water the beds", knowledge.AddTaskOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)

	response, handled := loop.handleCommand(bus.InboundMessage{Content: "/tasks"})
	assert.True(t, handled)
	assert.Contains(t, response, "Water the beds")

	response, handled = loop.handleCommand(bus.InboundMessage{Content: "/members"})
	assert.True(t, handled)
	assert.Contains(t, response, "No members")

	_, handled = loop.handleCommand(bus.InboundMessage{Content: "just a question"})
	assert.False(t, handled)

	// The model is never consulted for commands.
	assert.Equal(t, 0, provider.calls)
}

func TestUserFacingErrors(t *testing.T) {
	assert.Contains(t, userFacingError(errors.New("chat request failed status=429")), "quota")
	assert.Contains(t, userFacingError(errors.New("maximum context length exceeded")), "too large")
	assert.Equal(t, "", userFacingError(context.Canceled))
}
