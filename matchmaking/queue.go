/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/varchess/arena"
	"github.com/varchess/arena/store"
)

const (
	StatusWaiting = "waiting"
	StatusMatched = "matched"

	// per-user match context recorded on the created session
	SourceMatchmaking = "matchmaking"
	SourceTournament  = "tournament"
)

const (
	cooldownDur      = 10 * time.Second
	fallbackDelay    = 10 * time.Second
	cleanupInterval  = 60 * time.Second
	idleThreshold    = 5 * time.Minute
	rankWindow       = 100
	rankWindowCrowd  = 50
	crowdedQueueSize = 1000
	windowDoubleWait = 5 * time.Second
)

var ErrUnknownVariant = errors.New("matchmaking: unknown variant")

// ConnProbe answers whether a connection id is still alive. Dead connections
// are evicted wherever the matcher meets them.
type ConnProbe interface {
	Alive(connID string) bool
}

// Directory resolves player names and per-variant ratings from whatever user
// storage backs the platform.
type Directory interface {
	Name(userID string) string
	Rating(userID, variant, subvariant string) (int, error)
}

// Events delivers queue outcomes to the transport layer.
type Events interface {
	Cooldown(userID string, until int64)
	Matched(userID, sessionID string, opponent store.PlayerSummary,
		variant, subvariant string, state *arena.Board, tournament bool)
	QueueError(userID, code, message string)
}

// entry is one waiter, stored as a hash under queueuser:{userId}.
type entry struct {
	UserID     string
	ConnID     string
	Rank       int
	Variant    string
	Subvariant string
	JoinTime   int64
	Status     string
}

// Queue is the rank-windowed matchmaking queue: one ordered set per variant,
// scored by rank plus a join-time tiebreak, with two-stage matching (closest
// rank first, then time order after the fallback delay).
type Queue struct {
	rdb    *redis.Client
	store  *store.Store
	probe  ConnProbe
	dir    Directory
	events Events
	log    *zap.Logger

	mu        sync.Mutex
	fallbacks map[string]*time.Timer
}

func NewQueue(rdb *redis.Client, st *store.Store, probe ConnProbe,
	dir Directory, events Events, log *zap.Logger) *Queue {

	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		rdb:       rdb,
		store:     st,
		probe:     probe,
		dir:       dir,
		events:    events,
		log:       log,
		fallbacks: make(map[string]*time.Timer),
	}
}

func queueKey(variant string) string   { return "queue:" + variant }
func entryKey(userID string) string    { return "queueuser:" + userID }
func cooldownKey(userID string) string { return "cooldown:" + userID }

func allVariants() []string {
	return []string{arena.VariantClassic, arena.VariantCrazyhouse,
		arena.VariantDecay, arena.VariantSixPointer}
}

// score orders waiters by rank with join time as a fractional tiebreak.
func score(rank int, joinMs int64) float64 {
	return float64(rank) + float64(joinMs)/1e13
}

// JoinQueue enqueues the user and attempts an immediate rank match; when
// none is found a fallback attempt in time order is scheduled.
func (q *Queue) JoinQueue(ctx context.Context, userID, connID, variant, subvariant string) error {
	if !arena.KnownVariant(variant, subvariant) {
		q.events.QueueError(userID, arena.CodeInvalidInput,
			fmt.Sprintf("unknown variant %v/%v", variant, subvariant))
		return fmt.Errorf("%w: %v/%v", ErrUnknownVariant, variant, subvariant)
	}

	if until, ok := q.cooldownUntil(ctx, userID); ok {
		q.events.Cooldown(userID, until)
		return nil
	}

	// a fresh join supersedes any stale entry in any variant queue
	if err := q.removeEverywhere(ctx, userID); err != nil {
		return err
	}

	rank, err := q.dir.Rating(userID, variant, subvariant)
	if err != nil {
		q.events.QueueError(userID, arena.CodeInvalidInput, "no rating for variant")
		return fmt.Errorf("matchmaking: rating lookup: %w", err)
	}

	now := time.Now().UnixMilli()
	e := &entry{
		UserID:     userID,
		ConnID:     connID,
		Rank:       rank,
		Variant:    variant,
		Subvariant: subvariant,
		JoinTime:   now,
		Status:     StatusWaiting,
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, queueKey(variant), redis.Z{
			Score: score(rank, now), Member: userID})
		pipe.HSet(ctx, entryKey(userID), e.fields())
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: join: %w", err)
	}

	matched, err := q.TryMatch(ctx, userID, variant, true)
	if err != nil {
		return err
	}
	if !matched {
		q.scheduleFallback(userID, variant)
	}
	return nil
}

// LeaveQueue removes the user's entry; leaving while still waiting costs the
// usual cooldown.
func (q *Queue) LeaveQueue(ctx context.Context, userID string) error {
	q.cancelFallback(userID)
	e, err := q.loadEntry(ctx, userID)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, queueKey(e.Variant), userID)
		pipe.Del(ctx, entryKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: leave: %w", err)
	}
	if e.Status == StatusWaiting {
		q.setCooldown(ctx, userID)
	}
	return nil
}

// TryMatch runs one matching attempt for userID. byRank restricts candidates
// to the rank window; the fallback pass takes the earliest waiter instead.
func (q *Queue) TryMatch(ctx context.Context, userID, variant string, byRank bool) (bool, error) {
	caller, err := q.loadEntry(ctx, userID)
	if err != nil {
		return false, err
	}
	if caller == nil || caller.Status != StatusWaiting {
		return false, nil
	}
	if !q.probe.Alive(caller.ConnID) {
		return false, q.Evict(ctx, userID)
	}

	best, err := q.pickCandidate(ctx, caller, variant, byRank)
	if err != nil || best == nil {
		return false, err
	}

	// both must still be connected at match time
	if !q.probe.Alive(best.ConnID) {
		return false, q.Evict(ctx, best.UserID)
	}
	if !q.probe.Alive(caller.ConnID) {
		return false, q.Evict(ctx, caller.UserID)
	}

	return q.concludeMatch(ctx, caller, best)
}

func (q *Queue) pickCandidate(ctx context.Context, caller *entry, variant string, byRank bool) (*entry, error) {
	var members []string
	var err error
	if byRank {
		window := q.windowFor(ctx, caller, variant)
		members, err = q.rdb.ZRangeByScore(ctx, queueKey(variant), &redis.ZRangeBy{
			Min: strconv.Itoa(caller.Rank - window),
			Max: strconv.Itoa(caller.Rank + window + 1),
		}).Result()
	} else {
		members, err = q.rdb.ZRange(ctx, queueKey(variant), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("matchmaking: candidate scan: %w", err)
	}

	var best *entry
	for _, uid := range members {
		if uid == caller.UserID {
			continue
		}
		cand, err := q.loadEntry(ctx, uid)
		if err != nil {
			return nil, err
		}
		if cand == nil || cand.Status != StatusWaiting {
			continue
		}
		if !q.probe.Alive(cand.ConnID) {
			if err := q.Evict(ctx, uid); err != nil {
				return nil, err
			}
			continue
		}
		if caller.Variant == arena.VariantClassic && cand.Subvariant != caller.Subvariant {
			continue
		}
		if best == nil || q.better(caller, cand, best, byRank) {
			best = cand
		}
	}
	return best, nil
}

func (q *Queue) better(caller, cand, best *entry, byRank bool) bool {
	if !byRank {
		return cand.JoinTime < best.JoinTime
	}
	cd, bd := absDiff(cand.Rank, caller.Rank), absDiff(best.Rank, caller.Rank)
	if cd != bd {
		return cd < bd
	}
	return cand.JoinTime < best.JoinTime
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	} // else
	return b - a
}

func (q *Queue) windowFor(ctx context.Context, caller *entry, variant string) int {
	window := rankWindow
	if size, err := q.rdb.ZCard(ctx, queueKey(variant)).Result(); err == nil &&
		size > crowdedQueueSize {
		window = rankWindowCrowd
	}
	waited := time.Now().UnixMilli() - caller.JoinTime
	if waited > windowDoubleWait.Milliseconds() {
		window *= 2
	}
	return window
}

// errMatchConflict aborts a conclusion whose waiter a concurrent matcher
// already claimed.
var errMatchConflict = errors.New("matchmaking: waiter already taken")

// concludeMatch claims both waiters under WATCH so two racing matchers can
// never conclude against the same entry, then applies cooldowns, creates the
// session and notifies both sides. Returns false when a rival matcher won.
func (q *Queue) concludeMatch(ctx context.Context, a, b *entry) (bool, error) {
	until := time.Now().Add(cooldownDur).UnixMilli()
	txn := func(tx *redis.Tx) error {
		for _, e := range []*entry{a, b} {
			fields, err := tx.HGetAll(ctx, entryKey(e.UserID)).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 || fields["status"] != StatusWaiting {
				return errMatchConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, queueKey(a.Variant), a.UserID)
			pipe.ZRem(ctx, queueKey(b.Variant), b.UserID)
			pipe.HSet(ctx, entryKey(a.UserID), "status", StatusMatched)
			pipe.HSet(ctx, entryKey(b.UserID), "status", StatusMatched)
			pipe.Set(ctx, cooldownKey(a.UserID), strconv.FormatInt(until, 10), cooldownDur)
			pipe.Set(ctx, cooldownKey(b.UserID), strconv.FormatInt(until, 10), cooldownDur)
			return nil
		})
		return err
	}
	err := q.rdb.Watch(ctx, txn, entryKey(a.UserID), entryKey(b.UserID))
	if errors.Is(err, errMatchConflict) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("matchmaking: conclude: %w", err)
	}
	q.cancelFallback(a.UserID)
	q.cancelFallback(b.UserID)

	err = q.createAndAnnounce(ctx, matchSide{entry: a, source: SourceMatchmaking},
		matchSide{entry: b, source: SourceMatchmaking}, a.Variant, a.Subvariant)

	if derr := q.rdb.Del(ctx, entryKey(a.UserID), entryKey(b.UserID)).Err(); derr != nil {
		q.log.Warn("queue entry cleanup failed", zap.Error(derr))
	}
	return true, err
}

type matchSide struct {
	*entry
	source string
}

func (q *Queue) createAndAnnounce(ctx context.Context, a, b matchSide,
	variant, subvariant string) error {

	pa := store.PlayerSummary{UserID: a.UserID, Name: q.dir.Name(a.UserID), Rating: a.Rank}
	pb := store.PlayerSummary{UserID: b.UserID, Name: q.dir.Name(b.UserID), Rating: b.Rank}
	md := store.Metadata{Source: map[string]string{
		a.UserID: a.source,
		b.UserID: b.source,
	}}

	sess, err := q.store.CreateSession(ctx, pa, pb, variant, subvariant, md)
	if err != nil {
		q.events.QueueError(a.UserID, arena.CodeInternalError, "match could not be created")
		q.events.QueueError(b.UserID, arena.CodeInternalError, "match could not be created")
		return fmt.Errorf("matchmaking: create session: %w", err)
	}

	q.log.Info("match made",
		zap.String("sessionId", sess.ID),
		zap.String("variant", variant),
		zap.String("subvariant", subvariant),
		zap.String("userA", a.UserID),
		zap.String("userB", b.UserID))

	q.events.Matched(a.UserID, sess.ID, pb, variant, subvariant, sess.State,
		a.source == SourceTournament)
	q.events.Matched(b.UserID, sess.ID, pa, variant, subvariant, sess.State,
		b.source == SourceTournament)
	return nil
}

// Evict drops a waiter without cooldown: dead connection or idle timeout.
func (q *Queue) Evict(ctx context.Context, userID string) error {
	q.cancelFallback(userID)
	e, err := q.loadEntry(ctx, userID)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, queueKey(e.Variant), userID)
		pipe.Del(ctx, entryKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: evict: %w", err)
	}
	q.log.Debug("waiter evicted", zap.String("userId", userID))
	return nil
}

// Run drives the periodic idle cleanup until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.cancelAllFallbacks()
			return
		case <-ticker.C:
			if err := q.CleanupIdleUsers(ctx); err != nil {
				q.log.Error("idle cleanup failed", zap.Error(err))
			}
		}
	}
}

// CleanupIdleUsers drops waiters whose join is older than the idle threshold
// or whose connection died.
func (q *Queue) CleanupIdleUsers(ctx context.Context) error {
	cutoff := time.Now().Add(-idleThreshold).UnixMilli()
	for _, variant := range allVariants() {
		members, err := q.rdb.ZRange(ctx, queueKey(variant), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("matchmaking: cleanup scan: %w", err)
		}
		for _, uid := range members {
			e, err := q.loadEntry(ctx, uid)
			if err != nil {
				return err
			}
			if e == nil {
				// entry hash vanished; drop the dangling member
				if err := q.rdb.ZRem(ctx, queueKey(variant), uid).Err(); err != nil {
					return err
				}
				continue
			}
			if e.JoinTime < cutoff || !q.probe.Alive(e.ConnID) {
				if err := q.Evict(ctx, uid); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (q *Queue) scheduleFallback(userID, variant string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.fallbacks[userID]; ok {
		old.Stop()
	}
	q.fallbacks[userID] = time.AfterFunc(fallbackDelay, func() {
		q.cancelFallback(userID)
		if _, err := q.TryMatch(context.Background(), userID, variant, false); err != nil {
			q.log.Warn("fallback match attempt failed",
				zap.String("userId", userID), zap.Error(err))
		}
	})
}

func (q *Queue) cancelFallback(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if timer, ok := q.fallbacks[userID]; ok {
		timer.Stop()
		delete(q.fallbacks, userID)
	}
}

func (q *Queue) cancelAllFallbacks() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for uid, timer := range q.fallbacks {
		timer.Stop()
		delete(q.fallbacks, uid)
	}
}

func (q *Queue) setCooldown(ctx context.Context, userID string) {
	until := time.Now().Add(cooldownDur).UnixMilli()
	if err := q.rdb.Set(ctx, cooldownKey(userID),
		strconv.FormatInt(until, 10), cooldownDur).Err(); err != nil {
		q.log.Warn("cooldown set failed", zap.String("userId", userID), zap.Error(err))
	}
}

func (q *Queue) cooldownUntil(ctx context.Context, userID string) (int64, bool) {
	val, err := q.rdb.Get(ctx, cooldownKey(userID)).Result()
	if err != nil {
		return 0, false
	}
	until, err := strconv.ParseInt(val, 10, 64)
	if err != nil || until <= time.Now().UnixMilli() {
		return 0, false
	}
	return until, true
}

// removeEverywhere clears the user's entries from every variant queue and,
// when a tournament is active, from the tournament queue as well, so a fresh
// join never leaves a second live entry behind.
func (q *Queue) removeEverywhere(ctx context.Context, userID string) error {
	q.cancelFallback(userID)
	tid, err := q.rdb.Get(ctx, activeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("matchmaking: cross-queue cleanup: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, variant := range allVariants() {
			pipe.ZRem(ctx, queueKey(variant), userID)
		}
		pipe.Del(ctx, entryKey(userID))
		pipe.ZRem(ctx, tournamentQueueKey, userID)
		if tid != "" {
			pipe.Del(ctx, tEntryKey(tid, userID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: cross-queue cleanup: %w", err)
	}
	return nil
}

func (q *Queue) loadEntry(ctx context.Context, userID string) (*entry, error) {
	fields, err := q.rdb.HGetAll(ctx, entryKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("matchmaking: load entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return entryFromFields(fields), nil
}

func (e *entry) fields() map[string]any {
	return map[string]any{
		"userId":     e.UserID,
		"connId":     e.ConnID,
		"rank":       strconv.Itoa(e.Rank),
		"variant":    e.Variant,
		"subvariant": e.Subvariant,
		"joinTime":   strconv.FormatInt(e.JoinTime, 10),
		"status":     e.Status,
	}
}

func entryFromFields(fields map[string]string) *entry {
	rank, _ := strconv.Atoi(fields["rank"])
	joinTime, _ := strconv.ParseInt(fields["joinTime"], 10, 64)
	return &entry{
		UserID:     fields["userId"],
		ConnID:     fields["connId"],
		Rank:       rank,
		Variant:    fields["variant"],
		Subvariant: fields["subvariant"],
		JoinTime:   joinTime,
		Status:     fields["status"],
	}
}
