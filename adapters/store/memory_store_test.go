package store

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/sigkey/core"
)

func TestMemoryStoreInvalidation(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryStore(clk)
	ctx := context.Background()

	invalid, err := s.IsTokenInvalidated(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, invalid)

	require.NoError(t, s.InvalidateToken(ctx, "t1", time.Minute))
	invalid, err = s.IsTokenInvalidated(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, invalid)

	clk.Add(time.Minute + time.Second)
	invalid, err = s.IsTokenInvalidated(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, invalid)
}

func TestMemoryChallengeRepository(t *testing.T) {
	repo := NewMemoryChallengeRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "0xabc")
	assert.ErrorIs(t, err, core.ErrNotFound)

	first := &core.Challenge{WalletAddress: "0xabc", Value: "one", CreatedAt: time.Unix(1, 0)}
	stored, created, err := repo.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "one", stored.Value)

	stored, created, err = repo.CreateIfAbsent(ctx, &core.Challenge{WalletAddress: "0xabc", Value: "two"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "one", stored.Value)

	got, err := repo.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}
