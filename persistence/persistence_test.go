package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelactor/kestrel/persistence"
)

func TestWriteThenReadEventsInRange(t *testing.T) {
	j := persistence.NewInMemory()
	ctx := context.Background()

	require.NoError(t, j.WriteEvents(ctx, "counter-1", []persistence.Event{
		{SeqNr: 1, Payload: "a"},
		{SeqNr: 2, Payload: "b"},
		{SeqNr: 3, Payload: "c"},
	}))

	events, err := j.ReadEvents(ctx, "counter-1", 2, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "b", events[0].Payload)

	// to <= 0 means "to the end"
	all, err := j.ReadEvents(ctx, "counter-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestSnapshotRoundTrip(t *testing.T) {
	j := persistence.NewInMemory()
	ctx := context.Background()

	_, ok, err := j.ReadLatestSnapshot(ctx, "counter-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, j.WriteSnapshot(ctx, "counter-1", 41, 7))
	require.NoError(t, j.WriteSnapshot(ctx, "counter-1", 42, 9))

	snap, ok, err := j.ReadLatestSnapshot(ctx, "counter-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), snap.SeqNr)
	require.Equal(t, 42, snap.State)
}

func TestUnknownPersistenceIDYieldsNothing(t *testing.T) {
	j := persistence.NewInMemory()

	events, err := j.ReadEvents(context.Background(), "never-written", 0, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}
