package checkpoint

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIsEphemeralThread(t *testing.T) {
	assert.True(t, IsEphemeralThread("daily_report_2026-08-30"))
	assert.True(t, IsEphemeralThread("debrief_2026-08-30"))
	assert.True(t, IsEphemeralThread("recap_2026-08-30"))
	assert.True(t, IsEphemeralThread("consolidate_2026-08-30"))
	assert.False(t, IsEphemeralThread("discord:12345"))
	assert.False(t, IsEphemeralThread("cli:default"))
}

func TestSaveTurnAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turnID, err := store.SaveTurn(ctx, "cli:default", []Event{
		{Role: "user", Content: "How deep do I plant garlic?"},
		{Role: "assistant", Content: "About 2 inches, pointy end up.", Metadata: map[string]string{"model": "test"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, turnID)

	_, err = store.SaveTurn(ctx, "cli:default", []Event{
		{Role: "user", Content: "And how far apart?"},
		{Role: "tool", Content: "garlic.md snippet", ToolCallID: "call_1", ToolName: "search_knowledge"},
		{Role: "assistant", Content: "Six inches between cloves."},
	})
	require.NoError(t, err)

	turns, err := store.History(ctx, "cli:default", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, int64(1), turns[0].Seq)
	assert.Equal(t, int64(2), turns[1].Seq)
	require.Len(t, turns[0].Events, 2)
	assert.Equal(t, "user", turns[0].Events[0].Role)
	assert.Equal(t, map[string]string{"model": "test"}, turns[0].Events[1].Metadata)

	require.Len(t, turns[1].Events, 3)
	assert.Equal(t, "search_knowledge", turns[1].Events[1].ToolName)
	assert.Equal(t, "call_1", turns[1].Events[1].ToolCallID)
	assert.Nil(t, turns[1].Events[0].Metadata)
}

func TestHistoryLimitReturnsNewestOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.SaveTurn(ctx, "cli:default", []Event{
			{Role: "user", Content: "message"},
		})
		require.NoError(t, err)
	}

	turns, err := store.History(ctx, "cli:default", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, int64(4), turns[0].Seq)
	assert.Equal(t, int64(5), turns[1].Seq)
}

func TestSaveTurnValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveTurn(ctx, "", []Event{{Role: "user", Content: "x"}})
	require.Error(t, err)

	_, err = store.SaveTurn(ctx, "cli:default", nil)
	require.Error(t, err)

	count, err := store.TurnCount(ctx, "cli:default")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestThreadsByKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveTurn(ctx, "discord:111", []Event{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	_, err = store.SaveTurn(ctx, "daily_report_2026-08-30", []Event{{Role: "assistant", Content: "briefing"}})
	require.NoError(t, err)

	persistent, err := store.Threads(ctx, "persistent")
	require.NoError(t, err)
	assert.Equal(t, []string{"discord:111"}, persistent)

	ephemeral, err := store.Threads(ctx, "ephemeral")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily_report_2026-08-30"}, ephemeral)

	all, err := store.Threads(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTurnCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.SaveTurn(ctx, "discord:222", []Event{{Role: "user", Content: "x"}})
		require.NoError(t, err)
	}

	count, err := store.TurnCount(ctx, "discord:222")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestConcurrentSaveTurnAssignsUniqueSeqs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := store.LockThread("discord:333")
			defer release()
			_, err := store.SaveTurn(ctx, "discord:333", []Event{{Role: "user", Content: "x"}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns, err := store.History(ctx, "discord:333", 0)
	require.NoError(t, err)
	require.Len(t, turns, 8)
	for i, turn := range turns {
		assert.Equal(t, int64(i+1), turn.Seq)
	}
}

func TestLockThreadSerializes(t *testing.T) {
	store := newTestStore(t)

	release := store.LockThread("discord:444")
	acquired := make(chan struct{})
	go func() {
		r := store.LockThread("discord:444")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	assert.Equal(t, "{}", encodeMeta(nil))
	assert.Nil(t, decodeMeta("{}"))
	assert.Nil(t, decodeMeta(""))
	assert.Nil(t, decodeMeta("not json"))

	meta := map[string]string{"channel": "discord", "user_id": "42"}
	assert.Equal(t, meta, decodeMeta(encodeMeta(meta)))
}
