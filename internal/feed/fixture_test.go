package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixtureClient_PagesAndExhausts(t *testing.T) {
	c := NewFixtureClient(FixtureConfig{Seed: 7, PagesPerRegion: 2, ItemsPerPage: 20}, nil).
		WithClock(func() time.Time { return collected })

	first, err := c.Fetch(context.Background(), "us", nil)
	require.NoError(t, err)
	require.Equal(t, 20, first.RawCount)
	// items 9 and 19 carry no post time
	require.Equal(t, 2, first.Dropped)
	require.Len(t, first.Records, 18)
	require.NotNil(t, first.Next)
	require.Equal(t, FixtureStrategy, first.Next.Strategy)

	second, err := c.Fetch(context.Background(), "us", first.Next)
	require.NoError(t, err)
	require.Nil(t, second.Next)
	require.NotEqual(t, first.Records[0].VideoID, second.Records[0].VideoID)
}

func TestFixtureClient_Deterministic(t *testing.T) {
	clock := func() time.Time { return collected }
	a := NewFixtureClient(FixtureConfig{Seed: 3, ItemsPerPage: 10}, nil).WithClock(clock)
	b := NewFixtureClient(FixtureConfig{Seed: 3, ItemsPerPage: 10}, nil).WithClock(clock)

	pa, err := a.Fetch(context.Background(), "jp", nil)
	require.NoError(t, err)
	pb, err := b.Fetch(context.Background(), "jp", nil)
	require.NoError(t, err)
	require.Equal(t, pa.Records, pb.Records)
}

func TestFixtureClient_UsesGate(t *testing.T) {
	var waits int
	gate := GateFunc(func(ctx context.Context) error {
		waits++
		return nil
	})
	c := NewFixtureClient(FixtureConfig{ItemsPerPage: 1}, gate)

	require.NoError(t, c.Verify(context.Background()))
	_, err := c.Fetch(context.Background(), "us", nil)
	require.NoError(t, err)
	require.Equal(t, 2, waits)
}
