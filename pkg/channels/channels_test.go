package channels

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenista/beanbot/pkg/bus"
	"github.com/gardenista/beanbot/pkg/config"
)

func TestIsAllowed(t *testing.T) {
	msgBus := bus.NewMessageBus()

	open := NewBaseChannel("discord", msgBus, nil)
	assert.True(t, open.IsAllowed("anyone"))

	restricted := NewBaseChannel("discord", msgBus, []string{"12345", "@ana"})
	assert.True(t, restricted.IsAllowed("12345"))
	assert.True(t, restricted.IsAllowed("12345|ana"))
	assert.True(t, restricted.IsAllowed("99999|ana"))
	assert.False(t, restricted.IsAllowed("99999"))
	assert.False(t, restricted.IsAllowed("99999|george"))
}

func TestHandleMessagePublishesInbound(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch := NewBaseChannel("discord", msgBus, nil)

	ch.HandleMessage("42", "chat-1", "the beans sprouted", nil, map[string]string{
		"guidance": journalGuidance,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "discord", msg.Channel)
	assert.Equal(t, "discord:chat-1", msg.SessionKey)
	assert.Equal(t, "the beans sprouted", msg.Content)
	assert.Equal(t, journalGuidance, msg.Metadata["guidance"])
}

func TestHandleMessageDropsDisallowedSender(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch := NewBaseChannel("discord", msgBus, []string{"12345"})

	ch.HandleMessage("99999", "chat-1", "let me in", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok := msgBus.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestSplitMessageShortContent(t *testing.T) {
	chunks := splitMessage("hello", 1500)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	content := strings.Repeat("a", 1400) + "\n" + strings.Repeat("b", 400)
	chunks := splitMessage(content, 1500)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 1400), chunks[0])
	assert.Equal(t, strings.Repeat("b", 400), chunks[1])
}

func TestSplitMessageExtendsForStraddlingCodeBlock(t *testing.T) {
	// The block crosses the limit but fits the extension buffer, so the
	// whole message goes out as one oversized chunk.
	block := "```\n" + strings.Repeat("code line\n", 30) + "```"
	content := strings.Repeat("intro text ", 130) + "\n" + block

	chunks := splitMessage(content, 1500)

	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0])
}

func TestSplitMessageBreaksBeforeOversizedCodeBlock(t *testing.T) {
	// The block is too big for the extension buffer, so the split lands
	// before the opening fence and the block ships whole in the next chunk.
	block := "```\n" + strings.Repeat("code line\n", 89) + "```"
	content := strings.Repeat("x", 1400) + "\n" + block

	chunks := splitMessage(content, 1500)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 1400), chunks[0])
	assert.Equal(t, block, chunks[1])
	for _, chunk := range chunks {
		fences := strings.Count(chunk, "```")
		assert.Equal(t, 0, fences%2, "chunk must not end inside a code block: %q", chunk)
	}
}

func TestFindLastUnclosedCodeBlock(t *testing.T) {
	assert.Equal(t, -1, findLastUnclosedCodeBlock("no fences here"))
	assert.Equal(t, -1, findLastUnclosedCodeBlock("```go\nx := 1\n```"))
	assert.Equal(t, 5, findLastUnclosedCodeBlock("text\n```go\nx := 1"))
}

func TestIsImageAttachment(t *testing.T) {
	assert.True(t, isImageAttachment("image/jpeg", "photo.bin"))
	assert.True(t, isImageAttachment("", "tomatoes.PNG"))
	assert.False(t, isImageAttachment("application/pdf", "soil_report.pdf"))
}

func TestWatchedChannel(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch, err := NewDiscordChannel(config.DiscordConfig{
		Token:            "test-token",
		QuestionsChannel: "q-chan",
		JournalChannel:   "j-chan",
	}, msgBus)
	require.NoError(t, err)

	assert.True(t, ch.watchedChannel("q-chan"))
	assert.True(t, ch.watchedChannel("j-chan"))
	assert.False(t, ch.watchedChannel("random-chan"))

	assert.Equal(t, questionsGuidance, ch.channelGuidance("q-chan"))
	assert.Equal(t, journalGuidance, ch.channelGuidance("j-chan"))
	assert.Equal(t, "", ch.channelGuidance("random-chan"))

	unrestricted, err := NewDiscordChannel(config.DiscordConfig{Token: "test-token"}, msgBus)
	require.NoError(t, err)
	assert.True(t, unrestricted.watchedChannel("anything"))
}

func TestManagerRequiresDiscordToken(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := NewManager(cfg, bus.NewMessageBus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token")
}

func TestIsInternalChannel(t *testing.T) {
	assert.True(t, isInternalChannel("cli"))
	assert.True(t, isInternalChannel("system"))
	assert.True(t, isInternalChannel("direct"))
	assert.False(t, isInternalChannel("discord"))
}
