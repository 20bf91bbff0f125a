package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockExpressions(t *testing.T) {
	expr, err := DailyAt("08:00")
	require.NoError(t, err)
	assert.Equal(t, "0 8 * * *", expr)

	expr, err = WeeklyAt("20:30", 0)
	require.NoError(t, err)
	assert.Equal(t, "30 20 * * 0", expr)

	expr, err = EveryHours(6)
	require.NoError(t, err)
	assert.Equal(t, "0 */6 * * *", expr)

	_, err = DailyAt("25:00")
	assert.Error(t, err)
	_, err = DailyAt("8am")
	assert.Error(t, err)
	_, err = WeeklyAt("08:00", 7)
	assert.Error(t, err)
	_, err = EveryHours(0)
	assert.Error(t, err)
}

func TestAddRejectsInvalidExpression(t *testing.T) {
	svc := NewService(time.UTC)
	err := svc.Add("bad", "not a cron expr", func(ctx context.Context) error { return nil })
	assert.Error(t, err)

	err = svc.Add("briefing", "0 8 * * *", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Len(t, svc.Jobs(), 1)
}

func TestFireRunsDueJobs(t *testing.T) {
	svc := NewService(time.UTC)
	ran := make(chan string, 2)

	require.NoError(t, svc.Add("due", "0 8 * * *", func(ctx context.Context) error {
		ran <- "due"
		return nil
	}))
	require.NoError(t, svc.Add("not-due", "0 9 * * *", func(ctx context.Context) error {
		ran <- "not-due"
		return nil
	}))

	svc.fire(context.Background(), time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC))
	svc.wg.Wait()

	close(ran)
	var fired []string
	for name := range ran {
		fired = append(fired, name)
	}
	assert.Equal(t, []string{"due"}, fired)
}
