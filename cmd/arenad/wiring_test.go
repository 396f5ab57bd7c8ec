package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/varchess/arena"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestRatingField(t *testing.T) {
	require.Equal(t, "rating:classic:blitz",
		ratingField(arena.VariantClassic, arena.SubClassicBlitz))
	require.Equal(t, "rating:classic:standard",
		ratingField(arena.VariantClassic, arena.SubClassicStandard))
	require.Equal(t, "rating:decay", ratingField(arena.VariantDecay, ""))
	require.Equal(t, "rating:crazyhouse",
		ratingField(arena.VariantCrazyhouse, arena.SubCrazyhouseWithTimer))
}

func TestDirectoryRatingPerSubvariant(t *testing.T) {
	rdb, _ := newTestClient(t)
	ctx := context.Background()
	dir := &redisDirectory{rdb: rdb}

	require.NoError(t, rdb.HSet(ctx, "user:u1",
		"rating:classic:blitz", "1710",
		"rating:classic:bullet", "1450",
		"rating:decay", "1600").Err())

	r, err := dir.Rating("u1", arena.VariantClassic, arena.SubClassicBlitz)
	require.NoError(t, err)
	require.Equal(t, 1710, r)

	r, err = dir.Rating("u1", arena.VariantClassic, arena.SubClassicBullet)
	require.NoError(t, err)
	require.Equal(t, 1450, r)

	r, err = dir.Rating("u1", arena.VariantDecay, "")
	require.NoError(t, err)
	require.Equal(t, 1600, r)
}

func TestDirectoryRatingMissingIsError(t *testing.T) {
	rdb, _ := newTestClient(t)
	ctx := context.Background()
	dir := &redisDirectory{rdb: rdb}

	// a blitz rating does not stand in for standard
	require.NoError(t, rdb.HSet(ctx, "user:u1", "rating:classic:blitz", "1710").Err())

	_, err := dir.Rating("u1", arena.VariantClassic, arena.SubClassicStandard)
	require.Error(t, err)
	_, err = dir.Rating("u2", arena.VariantDecay, "")
	require.Error(t, err)
}

func TestDirectoryName(t *testing.T) {
	rdb, _ := newTestClient(t)
	ctx := context.Background()
	dir := &redisDirectory{rdb: rdb}

	require.NoError(t, rdb.HSet(ctx, "user:u1", "name", "alice").Err())
	require.Equal(t, "alice", dir.Name("u1"))
	require.Equal(t, "u2", dir.Name("u2"))
}

func TestProbeAlive(t *testing.T) {
	rdb, mr := newTestClient(t)
	probe := &redisProbe{rdb: rdb}

	require.False(t, probe.Alive("c1"))
	require.NoError(t, mr.Set("conn:c1", "1"))
	require.True(t, probe.Alive("c1"))
}
