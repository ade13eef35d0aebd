package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/memory"
)

func TestTimelineRepository_AppendAndList(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: domain.EventPaymentSucceeded, Occurred: base.Add(time.Minute)}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderCreated, Occurred: base}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-2", Type: domain.EventOrderCreated}))

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventOrderCreated, events[0].Type)
	require.Equal(t, domain.EventPaymentSucceeded, events[1].Type)

	other, err := repo.List(ctx, "o-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	require.False(t, other[0].Occurred.IsZero())

	empty, err := repo.List(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestTimelineRepository_SameTimeKeepsAppendOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, eventType := range []string{domain.EventOrderCreated, domain.EventPaymentFailed, domain.EventPaymentSucceeded} {
		require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: eventType, Occurred: at}))
	}

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, domain.EventOrderCreated, events[0].Type)
	require.Equal(t, domain.EventPaymentFailed, events[1].Type)
	require.Equal(t, domain.EventPaymentSucceeded, events[2].Type)

	events[0].Type = "mutated"
	again, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, domain.EventOrderCreated, again[0].Type)
}
