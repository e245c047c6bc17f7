package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcycle/internal/storage"
	"taskcycle/internal/task"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04", value, time.UTC)
	require.NoError(t, err)
	return parsed
}

func ptr(v time.Time) *time.Time { return &v }

func newService(t *testing.T) (*Service, *storage.MemoryTaskStore) {
	t.Helper()
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	store := storage.NewMemoryTaskStore()
	svc := NewService(store, zerolog.Nop(),
		WithIDFunc(ids),
		WithGenerator(task.NewGenerator(task.WithIDFunc(ids))),
	)
	return svc, store
}

func TestCreateNormalizesRule(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	now := at(t, "2024-01-01 08:00")

	created, err := svc.Create(ctx, task.Task{
		Title:     "Review",
		DueDate:   ptr(at(t, "2024-01-05 09:00")),
		Recurring: "rrule:byday=fr;freq=weekly;interval=1",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "id-1", created.ID)
	assert.Equal(t, "id-1", created.TrackingID)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;BYDAY=FR", created.Recurring)
	assert.Equal(t, task.ModeDueDate, created.RecurringMode)
	assert.Equal(t, now, created.CreatedAt)
	assert.Equal(t, 1, store.Count())
}

func TestCreateRejectsInvalidRule(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	_, err := svc.Create(ctx, task.Task{Title: "bad", Recurring: "RRULE:FREQ=WEEKLY;COUNT=3;UNTIL=20240101"}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COUNT")

	_, err = svc.Create(ctx, task.Task{Title: "bad", Recurring: "RRULE:FREQ=HOURLY"}, time.Now())
	assert.Error(t, err)

	_, err = svc.Create(ctx, task.Task{Title: "bad", RecurringMode: "sometimes"}, time.Now())
	assert.Error(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestUpdateRequiresExistingTask(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	err := svc.Update(ctx, task.Task{ID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompleteDueDateMode(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	require.NoError(t, store.Put(ctx, task.Task{
		ID:         "t1",
		TrackingID: "lineage",
		Title:      "Weekly report",
		DueDate:    ptr(at(t, "2024-01-05 09:00")),
		Recurring:  "RRULE:FREQ=WEEKLY;BYDAY=FR;COUNT=3",
	}))
	now := at(t, "2024-01-04 17:00")

	c, err := svc.Complete(ctx, "t1", now)
	require.NoError(t, err)
	assert.True(t, c.Completed.Completed)
	require.NotNil(t, c.Completed.CompletedAt)
	assert.Equal(t, now, *c.Completed.CompletedAt)

	next, ok := c.Next.Get()
	require.True(t, ok)
	assert.Equal(t, at(t, "2024-01-12 09:00"), *next.DueDate)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;COUNT=2;BYDAY=FR", next.Recurring)
	assert.Equal(t, "lineage", next.TrackingID)

	stored, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	_, err = store.Get(ctx, next.ID)
	assert.NoError(t, err)

	_, err = svc.Complete(ctx, "t1", now)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestCompleteCompletedAtMode(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	require.NoError(t, store.Put(ctx, task.Task{
		ID:            "t1",
		DueDate:       ptr(at(t, "2024-01-01 09:00")),
		Recurring:     "RRULE:FREQ=DAILY;INTERVAL=3",
		RecurringMode: task.ModeCompletedAt,
	}))

	c, err := svc.Complete(ctx, "t1", at(t, "2024-01-05 14:00"))
	require.NoError(t, err)
	next, ok := c.Next.Get()
	require.True(t, ok)
	assert.Equal(t, at(t, "2024-01-08 14:00"), *next.DueDate)
}

func TestCompleteAutoRolloverRecordsEffectiveDate(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	require.NoError(t, store.Put(ctx, task.Task{
		ID:            "t1",
		DueDate:       ptr(at(t, "2024-01-01 09:00")),
		Recurring:     "RRULE:FREQ=WEEKLY;BYDAY=MO",
		RecurringMode: task.ModeAutoRollover,
	}))

	c, err := svc.Complete(ctx, "t1", at(t, "2024-01-17 10:00"))
	require.NoError(t, err)
	assert.Equal(t, at(t, "2024-01-22 09:00"), *c.Completed.DueDate)

	next, ok := c.Next.Get()
	require.True(t, ok)
	assert.Equal(t, at(t, "2024-01-29 09:00"), *next.DueDate)
}

func TestCompleteNonRecurring(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	require.NoError(t, store.Put(ctx, task.Task{ID: "t1", DueDate: ptr(at(t, "2024-01-01 09:00"))}))

	c, err := svc.Complete(ctx, "t1", at(t, "2024-01-02 09:00"))
	require.NoError(t, err)
	assert.True(t, c.Next.IsAbsent())
	assert.Equal(t, 1, store.Count())

	_, err = svc.Complete(ctx, "nope", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpcomingAndOverdue(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	now := at(t, "2024-01-17 10:00")
	for _, tk := range []task.Task{
		{ID: "rolled", DueDate: ptr(at(t, "2024-01-01 09:00")), Recurring: "RRULE:FREQ=WEEKLY;BYDAY=MO", RecurringMode: task.ModeAutoRollover},
		{ID: "late", DueDate: ptr(at(t, "2024-01-10 09:00")), Recurring: "RRULE:FREQ=WEEKLY", RecurringMode: task.ModeDueDate},
		{ID: "soon", DueDate: ptr(at(t, "2024-01-18 09:00"))},
		{ID: "far", DueDate: ptr(at(t, "2024-03-01 09:00"))},
		{ID: "done", DueDate: ptr(at(t, "2024-01-18 08:00")), Completed: true},
		{ID: "undated"},
	} {
		require.NoError(t, store.Put(ctx, tk))
	}

	upcoming, err := svc.Upcoming(ctx, now, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, "soon", upcoming[0].Task.ID)
	assert.Equal(t, "rolled", upcoming[1].Task.ID)
	assert.Equal(t, at(t, "2024-01-22 09:00"), upcoming[1].Effective)

	overdue, err := svc.Overdue(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "late", overdue[0].Task.ID)
}
