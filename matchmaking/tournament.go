/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/varchess/arena"
)

const DefaultTournamentCapacity = 64

var ErrTournamentFull = errors.New("matchmaking: tournament full")

// TournamentDetails describes the single active tournament.
type TournamentDetails struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Capacity     int    `json:"capacity"`
	Participants int    `json:"participants"`
	CreatedAt    int64  `json:"createdAt"`
}

// TournamentEvents delivers tournament outcomes to the transport layer.
type TournamentEvents interface {
	TournamentJoined(userID string, details TournamentDetails, status string)
	TournamentNewActive(id, name string)
	TournamentError(userID, message string)
}

// variantPool is the assignment pool for tournament games: every playable
// variant/subvariant pair.
func variantPool() [][2]string {
	return [][2]string{
		{arena.VariantClassic, arena.SubClassicStandard},
		{arena.VariantClassic, arena.SubClassicBlitz},
		{arena.VariantClassic, arena.SubClassicBullet},
		{arena.VariantCrazyhouse, arena.SubCrazyhouseStandard},
		{arena.VariantCrazyhouse, arena.SubCrazyhouseWithTimer},
		{arena.VariantDecay, ""},
		{arena.VariantSixPointer, ""},
	}
}

// Tournament overlays the matchmaking queue: one active tournament at a
// time, a capacity-bounded participant set and a single cross-variant queue.
// Participants match against each other first, then cross-queue against
// regular waiters of their assigned variant.
type Tournament struct {
	rdb      *redis.Client
	queue    *Queue
	probe    ConnProbe
	dir      Directory
	events   TournamentEvents
	log      *zap.Logger
	capacity int
}

func NewTournament(rdb *redis.Client, q *Queue, probe ConnProbe, dir Directory,
	events TournamentEvents, capacity int, log *zap.Logger) *Tournament {

	if capacity <= 0 {
		capacity = DefaultTournamentCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tournament{
		rdb:      rdb,
		queue:    q,
		probe:    probe,
		dir:      dir,
		events:   events,
		log:      log,
		capacity: capacity,
	}
}

const (
	activeKey          = "tournament:active"
	tournamentQueueKey = "tournament:queue"
)

func detailsKey(tid string) string      { return "tournament:" + tid + ":details" }
func participantsKey(tid string) string { return "tournament:" + tid + ":participants" }
func tEntryKey(tid, uid string) string  { return "tournament:" + tid + ":user:" + uid }

// tEntry is a tournament waiter, stored under tournament:{tid}:user:{uid}.
type tEntry struct {
	entry
	TournamentID string
}

// JoinTournament adds the user to the active tournament (creating one when
// none exists), assigns a random variant and attempts a match.
func (t *Tournament) JoinTournament(ctx context.Context, userID, connID string) error {
	tid, err := t.ensureActive(ctx)
	if err != nil {
		return err
	}

	member, err := t.rdb.SIsMember(ctx, participantsKey(tid), userID).Result()
	if err != nil {
		return fmt.Errorf("matchmaking: participant check: %w", err)
	}
	if !member {
		count, err := t.rdb.SCard(ctx, participantsKey(tid)).Result()
		if err != nil {
			return fmt.Errorf("matchmaking: participant count: %w", err)
		}
		if count >= int64(t.capacity) {
			t.events.TournamentError(userID, "tournament is full")
			return ErrTournamentFull
		}
	}

	// a fresh tournament join supersedes any entry in the regular queues
	if err := t.queue.removeEverywhere(ctx, userID); err != nil {
		return err
	}

	pool := variantPool()
	assigned := pool[rand.Intn(len(pool))]
	variant, subvariant := assigned[0], assigned[1]

	rank, err := t.dir.Rating(userID, variant, subvariant)
	if err != nil {
		t.events.TournamentError(userID, "no rating available")
		return fmt.Errorf("matchmaking: tournament rating lookup: %w", err)
	}

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
	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, participantsKey(tid), userID)
		pipe.HSet(ctx, tEntryKey(tid, userID), e.fieldsT())
		pipe.ZAdd(ctx, tournamentQueueKey, redis.Z{
			Score: score(rank, now), Member: userID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: tournament join: %w", err)
	}

	details, err := t.ActiveDetails(ctx)
	if err != nil {
		return err
	}
	t.events.TournamentJoined(userID, *details, StatusWaiting)

	_, err = t.TryMatch(ctx, userID)
	return err
}

// LeaveTournament removes the user's queue entry and participant slot.
func (t *Tournament) LeaveTournament(ctx context.Context, userID string) error {
	tid, err := t.activeID(ctx)
	if err != nil || tid == "" {
		return err
	}
	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, tournamentQueueKey, userID)
		pipe.Del(ctx, tEntryKey(tid, userID))
		pipe.SRem(ctx, participantsKey(tid), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: tournament leave: %w", err)
	}
	return nil
}

// HandleDisconnect evicts the connection's user from both the regular queue
// and the tournament, decrementing the participant count.
func (t *Tournament) HandleDisconnect(ctx context.Context, userID string) error {
	if err := t.queue.Evict(ctx, userID); err != nil {
		return err
	}
	return t.LeaveTournament(ctx, userID)
}

// TryMatch searches the tournament queue first (highest score first), then
// cross-queue against the regular queue of the caller's assigned variant.
func (t *Tournament) TryMatch(ctx context.Context, userID string) (bool, error) {
	tid, err := t.activeID(ctx)
	if err != nil || tid == "" {
		return false, err
	}
	caller, err := t.loadEntry(ctx, tid, userID)
	if err != nil {
		return false, err
	}
	if caller == nil || caller.Status != StatusWaiting {
		return false, nil
	}
	if !t.probe.Alive(caller.ConnID) {
		return false, t.evict(ctx, tid, userID)
	}

	members, err := t.rdb.ZRevRange(ctx, tournamentQueueKey, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("matchmaking: tournament scan: %w", err)
	}
	for _, uid := range members {
		if uid == caller.UserID {
			continue
		}
		cand, err := t.loadEntry(ctx, tid, uid)
		if err != nil {
			return false, err
		}
		if cand == nil || cand.Status != StatusWaiting {
			continue
		}
		if cand.TournamentID != tid || cand.Variant != caller.Variant ||
			cand.Subvariant != caller.Subvariant {
			continue
		}
		if !t.probe.Alive(cand.ConnID) {
			if err := t.evict(ctx, tid, uid); err != nil {
				return false, err
			}
			continue
		}
		ok, err := t.initiateMatch(ctx, caller, cand, nil)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		// a rival matcher claimed one of the two, keep scanning
		continue
	}

	// cross-queue: regular waiters of the assigned variant
	regular, err := t.queue.pickCandidate(ctx, &caller.entry, caller.Variant, false)
	if err != nil {
		return false, err
	}
	if regular != nil && t.probe.Alive(regular.ConnID) {
		return t.initiateMatch(ctx, caller, nil, regular)
	}
	return false, nil
}

// initiateMatch pairs the caller with either another tournament participant
// (tp) or a regular waiter (rp). Both entries are claimed under WATCH so a
// racing matcher cannot conclude against the same waiter; removals, matched
// status and cooldowns land in one transaction, then the session is created
// with per-side source metadata. Returns false when a rival matcher won.
func (t *Tournament) initiateMatch(ctx context.Context, caller, tp *tEntry, rp *entry) (bool, error) {
	tid := caller.TournamentID
	until := time.Now().Add(cooldownDur).UnixMilli()

	otherKey := ""
	if tp != nil {
		otherKey = tEntryKey(tid, tp.UserID)
	} else {
		otherKey = entryKey(rp.UserID)
	}
	txn := func(tx *redis.Tx) error {
		for _, key := range []string{tEntryKey(tid, caller.UserID), otherKey} {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 || fields["status"] != StatusWaiting {
				return errMatchConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, tournamentQueueKey, caller.UserID)
			pipe.HSet(ctx, tEntryKey(tid, caller.UserID), "status", StatusMatched)
			pipe.Set(ctx, cooldownKey(caller.UserID), strconv.FormatInt(until, 10), cooldownDur)
			if tp != nil {
				pipe.ZRem(ctx, tournamentQueueKey, tp.UserID)
				pipe.HSet(ctx, tEntryKey(tid, tp.UserID), "status", StatusMatched)
				pipe.Set(ctx, cooldownKey(tp.UserID), strconv.FormatInt(until, 10), cooldownDur)
			} else {
				pipe.ZRem(ctx, queueKey(rp.Variant), rp.UserID)
				pipe.HSet(ctx, entryKey(rp.UserID), "status", StatusMatched)
				pipe.Set(ctx, cooldownKey(rp.UserID), strconv.FormatInt(until, 10), cooldownDur)
			}
			return nil
		})
		return err
	}
	err := t.rdb.Watch(ctx, txn, tEntryKey(tid, caller.UserID), otherKey)
	if errors.Is(err, errMatchConflict) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("matchmaking: tournament match: %w", err)
	}

	a := matchSide{entry: &caller.entry, source: SourceTournament}
	var b matchSide
	if tp != nil {
		b = matchSide{entry: &tp.entry, source: SourceTournament}
	} else {
		t.queue.cancelFallback(rp.UserID)
		b = matchSide{entry: rp, source: SourceMatchmaking}
	}

	err = t.queue.createAndAnnounce(ctx, a, b, caller.Variant, caller.Subvariant)

	_, derr := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tEntryKey(tid, caller.UserID))
		if tp != nil {
			pipe.Del(ctx, tEntryKey(tid, tp.UserID))
		} else {
			pipe.Del(ctx, entryKey(rp.UserID))
		}
		return nil
	})
	if derr != nil {
		t.log.Warn("tournament entry cleanup failed", zap.Error(derr))
	}
	return true, err
}

// ActiveDetails reports the active tournament, or nil when none exists.
func (t *Tournament) ActiveDetails(ctx context.Context) (*TournamentDetails, error) {
	tid, err := t.activeID(ctx)
	if err != nil {
		return nil, err
	}
	if tid == "" {
		return nil, nil
	}
	fields, err := t.rdb.HGetAll(ctx, detailsKey(tid)).Result()
	if err != nil {
		return nil, fmt.Errorf("matchmaking: tournament details: %w", err)
	}
	count, err := t.rdb.SCard(ctx, participantsKey(tid)).Result()
	if err != nil {
		return nil, fmt.Errorf("matchmaking: participant count: %w", err)
	}
	capacity, _ := strconv.Atoi(fields["capacity"])
	createdAt, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	return &TournamentDetails{
		ID:           fields["id"],
		Name:         fields["name"],
		Capacity:     capacity,
		Participants: int(count),
		CreatedAt:    createdAt,
	}, nil
}

// ensureActive returns the active tournament id, creating one when missing.
func (t *Tournament) ensureActive(ctx context.Context) (string, error) {
	tid, err := t.activeID(ctx)
	if err != nil {
		return "", err
	}
	if tid != "" {
		return tid, nil
	}

	tid = uuid.NewString()
	name := "Arena Tournament " + time.Now().Format("2006-01-02")
	now := time.Now().UnixMilli()
	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, detailsKey(tid), map[string]any{
			"id":        tid,
			"name":      name,
			"capacity":  strconv.Itoa(t.capacity),
			"createdAt": strconv.FormatInt(now, 10),
		})
		pipe.Set(ctx, activeKey, tid, 0)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("matchmaking: tournament create: %w", err)
	}

	t.log.Info("tournament created", zap.String("tournamentId", tid), zap.String("name", name))
	t.events.TournamentNewActive(tid, name)
	return tid, nil
}

func (t *Tournament) activeID(ctx context.Context) (string, error) {
	tid, err := t.rdb.Get(ctx, activeKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("matchmaking: active tournament: %w", err)
	}
	return tid, nil
}

func (t *Tournament) evict(ctx context.Context, tid, userID string) error {
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, tournamentQueueKey, userID)
		pipe.Del(ctx, tEntryKey(tid, userID))
		pipe.SRem(ctx, participantsKey(tid), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: tournament evict: %w", err)
	}
	return nil
}

func (t *Tournament) loadEntry(ctx context.Context, tid, userID string) (*tEntry, error) {
	fields, err := t.rdb.HGetAll(ctx, tEntryKey(tid, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("matchmaking: load tournament entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &tEntry{
		entry:        *entryFromFields(fields),
		TournamentID: fields["tournamentId"],
	}, nil
}

func (e *tEntry) fieldsT() map[string]any {
	fields := e.fields()
	fields["tournamentId"] = e.TournamentID
	return fields
}
