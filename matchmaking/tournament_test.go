package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/varchess/arena"
)

func newTournamentHarness(t *testing.T, ratings map[string]int, capacity int) (*harness, *Tournament) {
	t.Helper()
	h := newHarness(t, ratings)
	tr := NewTournament(h.rdb, h.queue, h.probe, h.dir, h.events, capacity, zap.NewNop())
	return h, tr
}

// assignedPair reads back the variant the pool assigned to a participant.
func assignedPair(t *testing.T, h *harness, tid, userID string) (string, string) {
	t.Helper()
	fields, err := h.rdb.HGetAll(context.Background(), tEntryKey(tid, userID)).Result()
	require.NoError(t, err)
	require.NotEmpty(t, fields)
	return fields["variant"], fields["subvariant"]
}

// seedParticipant plants a waiter directly so tests control the variant pair.
func seedParticipant(t *testing.T, h *harness, tid, userID, connID, variant, subvariant string, rank int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UnixMilli()
	e := &tEntry{
		entry: entry{
			UserID:     userID,
			ConnID:     connID,
			Rank:       rank,
			Variant:    variant,
			Subvariant: subvariant,
			JoinTime:   now,
			Status:     StatusWaiting,
		},
		TournamentID: tid,
	}
	_, err := h.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, participantsKey(tid), userID)
		pipe.HSet(ctx, tEntryKey(tid, userID), e.fieldsT())
		pipe.ZAdd(ctx, tournamentQueueKey, redis.Z{
			Score: score(rank, now), Member: userID})
		return nil
	})
	require.NoError(t, err)
}

func TestJoinTournamentCreatesActive(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500}, 0)
	ctx := context.Background()

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))

	h.events.mu.Lock()
	created := append([]string(nil), h.events.active...)
	joined := append([]string(nil), h.events.joined...)
	h.events.mu.Unlock()
	require.Len(t, created, 1)
	require.Equal(t, []string{"t1:" + StatusWaiting}, joined)

	details, err := tr.ActiveDetails(ctx)
	require.NoError(t, err)
	require.NotNil(t, details)
	require.Equal(t, created[0], details.ID)
	require.Equal(t, DefaultTournamentCapacity, details.Capacity)
	require.Equal(t, 1, details.Participants)

	variant, subvariant := assignedPair(t, h, details.ID, "t1")
	require.True(t, arena.KnownVariant(variant, subvariant))
}

func TestTournamentParticipantsMatchEachOther(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500, "t2": 1520}, 0)
	ctx := context.Background()

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))
	tid, err := tr.activeID(ctx)
	require.NoError(t, err)
	variant, subvariant := assignedPair(t, h, tid, "t1")

	seedParticipant(t, h, tid, "t2", "conn-t2", variant, subvariant, 1520)
	matched, err := tr.TryMatch(ctx, "t2")
	require.NoError(t, err)
	require.True(t, matched)

	matches := h.events.matches()
	require.Len(t, matches, 2)
	require.Equal(t, matches[0].sessionID, matches[1].sessionID)
	for _, m := range matches {
		require.True(t, m.tournament)
		require.Equal(t, variant, m.variant)
	}

	sess, err := h.store.GetSession(ctx, matches[0].sessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, SourceTournament, sess.Metadata.Source["t1"])
	require.Equal(t, SourceTournament, sess.Metadata.Source["t2"])

	members, err := h.rdb.ZRange(ctx, tournamentQueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Empty(t, members)
	require.False(t, h.mr.Exists(tEntryKey(tid, "t1")))
	require.False(t, h.mr.Exists(tEntryKey(tid, "t2")))
	require.True(t, h.mr.Exists("cooldown:t1"))
	require.True(t, h.mr.Exists("cooldown:t2"))
}

func TestTournamentCrossQueueMatch(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500, "r1": 1490}, 0)
	ctx := context.Background()

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))
	tid, err := tr.activeID(ctx)
	require.NoError(t, err)
	variant, subvariant := assignedPair(t, h, tid, "t1")

	// a regular waiter in the assigned variant's queue
	require.NoError(t, h.queue.JoinQueue(ctx, "r1", "conn-r1", variant, subvariant))
	require.Empty(t, h.events.matches())

	matched, err := tr.TryMatch(ctx, "t1")
	require.NoError(t, err)
	require.True(t, matched)

	matches := h.events.matches()
	require.Len(t, matches, 2)
	byUser := map[string]matchedEvent{}
	for _, m := range matches {
		byUser[m.userID] = m
	}
	require.True(t, byUser["t1"].tournament)
	require.False(t, byUser["r1"].tournament)

	sess, err := h.store.GetSession(ctx, matches[0].sessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, SourceTournament, sess.Metadata.Source["t1"])
	require.Equal(t, SourceMatchmaking, sess.Metadata.Source["r1"])

	// both queues are drained and entries gone
	tms, err := h.rdb.ZRange(ctx, tournamentQueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Empty(t, tms)
	qms, err := h.rdb.ZRange(ctx, queueKey(variant), 0, -1).Result()
	require.NoError(t, err)
	require.Empty(t, qms)
	require.False(t, h.mr.Exists(tEntryKey(tid, "t1")))
	require.False(t, h.mr.Exists("queueuser:r1"))
}

func TestJoinTournamentClearsRegularQueueEntry(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500}, 0)
	ctx := context.Background()

	require.NoError(t, h.queue.JoinQueue(ctx, "t1", "conn-t1", arena.VariantDecay, ""))
	require.True(t, h.mr.Exists("queueuser:t1"))

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))

	// the tournament entry is now the only live one
	require.False(t, h.mr.Exists("queueuser:t1"))
	decay, err := h.rdb.ZRange(ctx, queueKey(arena.VariantDecay), 0, -1).Result()
	require.NoError(t, err)
	require.Empty(t, decay)

	tid, err := tr.activeID(ctx)
	require.NoError(t, err)
	require.True(t, h.mr.Exists(tEntryKey(tid, "t1")))
}

func TestJoinQueueClearsTournamentEntry(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500}, 0)
	ctx := context.Background()

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))
	tid, err := tr.activeID(ctx)
	require.NoError(t, err)
	require.True(t, h.mr.Exists(tEntryKey(tid, "t1")))

	require.NoError(t, h.queue.JoinQueue(ctx, "t1", "conn-t1", arena.VariantDecay, ""))

	// the regular entry is now the only live one
	require.False(t, h.mr.Exists(tEntryKey(tid, "t1")))
	tms, err := h.rdb.ZRange(ctx, tournamentQueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Empty(t, tms)
	require.True(t, h.mr.Exists("queueuser:t1"))
}

func TestInitiateMatchYieldsToRivalMatcher(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500}, 0)
	ctx := context.Background()

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))
	tid, err := tr.activeID(ctx)
	require.NoError(t, err)
	variant, subvariant := assignedPair(t, h, tid, "t1")
	seedParticipant(t, h, tid, "t2", "conn-t2", variant, subvariant, 1520)

	caller, err := tr.loadEntry(ctx, tid, "t1")
	require.NoError(t, err)
	cand, err := tr.loadEntry(ctx, tid, "t2")
	require.NoError(t, err)

	// a rival matcher claims the candidate after our snapshot
	require.NoError(t, h.rdb.HSet(ctx, tEntryKey(tid, "t2"), "status", StatusMatched).Err())

	ok, err := tr.initiateMatch(ctx, caller, cand, nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.Empty(t, h.events.matches())
	status, err := h.rdb.HGet(ctx, tEntryKey(tid, "t1"), "status").Result()
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, status)
	require.False(t, h.mr.Exists("cooldown:t1"))
}

func TestTournamentCapacity(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500, "t2": 1500}, 1)
	ctx := context.Background()

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))
	err := tr.JoinTournament(ctx, "t2", "conn-t2")
	require.ErrorIs(t, err, ErrTournamentFull)

	h.events.mu.Lock()
	errs := append([]string(nil), h.events.errors...)
	h.events.mu.Unlock()
	require.Contains(t, errs, "t2:tournament")

	details, err := tr.ActiveDetails(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, details.Participants)
}

func TestTournamentHandleDisconnect(t *testing.T) {
	h, tr := newTournamentHarness(t, map[string]int{"t1": 1500}, 0)
	ctx := context.Background()

	require.NoError(t, tr.JoinTournament(ctx, "t1", "conn-t1"))
	tid, err := tr.activeID(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.HandleDisconnect(ctx, "t1"))

	members, err := h.rdb.ZRange(ctx, tournamentQueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Empty(t, members)
	require.False(t, h.mr.Exists(tEntryKey(tid, "t1")))
	count, err := h.rdb.SCard(ctx, participantsKey(tid)).Result()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestActiveDetailsWithoutTournament(t *testing.T) {
	_, tr := newTournamentHarness(t, nil, 0)

	details, err := tr.ActiveDetails(context.Background())
	require.NoError(t, err)
	require.Nil(t, details)
}
