/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package store

import (
	"context"
	"encoding/json"
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

// Session status values.
const (
	StatusActive   = "active"
	StatusFinished = "finished"
)

const (
	DefaultSessionTTL = 30 * time.Minute

	// CAS retries against concurrent mutators of the same session
	maxTxRetries = 5
)

var (
	ErrInvalidPlayers   = errors.New("store: invalid players")
	ErrAlreadyInSession = errors.New("store: player already in an active session")
	ErrUnknownVariant   = errors.New("store: unknown variant")
	ErrSessionNotFound  = errors.New("store: session not found")
	ErrSessionFinished  = errors.New("store: session finished")
)

// PlayerSummary identifies one participant of a session.
type PlayerSummary struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Rating int    `json:"rating,omitempty"`
}

// Metadata is auxiliary per-session state: outstanding draw offers keyed by
// color and, per user id, whether the match came from the open queue or a
// tournament.
type Metadata struct {
	DrawOffers map[arena.Color]bool `json:"drawOffers,omitempty"`
	Source     map[string]string    `json:"source,omitempty"`
}

// Session is the live game record.
type Session struct {
	ID           string
	White        PlayerSummary
	Black        PlayerSummary
	Variant      string
	Subvariant   string
	Status       string
	State        *arena.Board
	Metadata     Metadata
	CreatedAt    int64
	LastActivity int64
}

// Archiver receives finished sessions for durable storage outside the core.
type Archiver interface {
	ArchiveSession(ctx context.Context, sess *Session, reason string) error
}

// Store keeps sessions in Redis: a hash per session, a per-user mapping to
// the active session id and a capped move list, all sharing one TTL that is
// refreshed on every mutation.
type Store struct {
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
	arch Archiver
}

func New(rdb *redis.Client, ttl time.Duration, log *zap.Logger, arch Archiver) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{rdb: rdb, ttl: ttl, log: log, arch: arch}
}

func sessionKey(id string) string      { return "session:" + id }
func sessionMovesKey(id string) string { return "session:" + id + ":moves" }
func userSessionKey(uid string) string { return "userSession:" + uid }

// CreateSession brokers two players into a new session. Color assignment is
// uniform random. The session hash, both user mappings and their TTLs are
// written in a single transaction.
func (s *Store) CreateSession(ctx context.Context, p1, p2 PlayerSummary,
	variant, subvariant string, md Metadata) (*Session, error) {

	if p1.UserID == "" || p2.UserID == "" || p1.UserID == p2.UserID {
		return nil, ErrInvalidPlayers
	}
	if !arena.KnownVariant(variant, subvariant) {
		return nil, fmt.Errorf("%w: %v/%v", ErrUnknownVariant, variant, subvariant)
	}
	for _, uid := range []string{p1.UserID, p2.UserID} {
		active, err := s.GetUserActiveSession(ctx, uid)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyInSession, uid)
		}
	}

	white, black := p1, p2
	if rand.Intn(2) == 1 {
		white, black = p2, p1
	}

	board, err := arena.NewBoard(variant, subvariant)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVariant, err)
	}

	now := time.Now().UnixMilli()
	sess := &Session{
		ID:           uuid.NewString(),
		White:        white,
		Black:        black,
		Variant:      variant,
		Subvariant:   subvariant,
		Status:       StatusActive,
		State:        board,
		Metadata:     md,
		CreatedAt:    now,
		LastActivity: now,
	}

	fields, err := sessionFields(sess)
	if err != nil {
		return nil, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(sess.ID), fields)
		pipe.Expire(ctx, sessionKey(sess.ID), s.ttl)
		pipe.Set(ctx, userSessionKey(white.UserID), sess.ID, s.ttl)
		pipe.Set(ctx, userSessionKey(black.UserID), sess.ID, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}

	s.log.Info("session created",
		zap.String("sessionId", sess.ID),
		zap.String("variant", variant),
		zap.String("subvariant", subvariant),
		zap.String("white", white.UserID),
		zap.String("black", black.UserID))

	return sess, nil
}

// GetSession returns nil when no session exists under id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return sessionFromFields(fields)
}

// GetUserActiveSession resolves the user's mapped session, dropping the
// mapping if it points at a session that no longer exists.
func (s *Store) GetUserActiveSession(ctx context.Context, userID string) (*Session, error) {
	id, err := s.rdb.Get(ctx, userSessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: user session lookup: %w", err)
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		// orphaned mapping
		if derr := s.rdb.Del(ctx, userSessionKey(userID)).Err(); derr != nil {
			s.log.Warn("orphan mapping cleanup failed",
				zap.String("userId", userID), zap.Error(derr))
		}
		return nil, nil
	}
	return sess, nil
}

// Mutate applies fn to the session under an optimistic WATCH transaction, so
// concurrent mutators of the same session id are serialized. The stored hash
// and every TTL are refreshed on success.
func (s *Store) Mutate(ctx context.Context, id string,
	fn func(sess *Session) error) (*Session, error) {

	var out *Session
	txn := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, sessionKey(id)).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrSessionNotFound
		}
		sess, err := sessionFromFields(fields)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		sess.LastActivity = time.Now().UnixMilli()
		updated, err := sessionFields(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, sessionKey(id), updated)
			pipe.Expire(ctx, sessionKey(id), s.ttl)
			pipe.Expire(ctx, sessionMovesKey(id), s.ttl)
			pipe.Expire(ctx, userSessionKey(sess.White.UserID), s.ttl)
			pipe.Expire(ctx, userSessionKey(sess.Black.UserID), s.ttl)
			return nil
		})
		if err == nil {
			out = sess
		}
		return err
	}

	for ii := 0; ii < maxTxRetries; ii++ {
		err := s.rdb.Watch(ctx, txn, sessionKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("store: session %v: too many concurrent writers", id)
}

// UpdateSession replaces the game state and refreshes TTLs.
func (s *Store) UpdateSession(ctx context.Context, id string, state *arena.Board) (*Session, error) {
	return s.Mutate(ctx, id, func(sess *Session) error {
		sess.State = state
		return nil
	})
}

// AppendMove records one applied move on the session's move list.
func (s *Store) AppendMove(ctx context.Context, id string, mv arena.HistoryMove) error {
	data, err := json.Marshal(mv)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, sessionMovesKey(id), data)
		pipe.Expire(ctx, sessionMovesKey(id), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: append move: %w", err)
	}
	return nil
}

// Moves returns the recorded move list, oldest first.
func (s *Store) Moves(ctx context.Context, id string) ([]arena.HistoryMove, error) {
	raw, err := s.rdb.LRange(ctx, sessionMovesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: moves: %w", err)
	}
	out := make([]arena.HistoryMove, 0, len(raw))
	for _, item := range raw {
		var mv arena.HistoryMove
		if err := json.Unmarshal([]byte(item), &mv); err != nil {
			return nil, fmt.Errorf("store: moves: %w", err)
		}
		out = append(out, mv)
	}
	return out, nil
}

// EndSession archives the finished session and removes the session hash, the
// move list and both user mappings.
func (s *Store) EndSession(ctx context.Context, id, reason string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	sess.Status = StatusFinished

	if s.arch != nil {
		if aerr := s.arch.ArchiveSession(ctx, sess, reason); aerr != nil {
			// archival is best effort; the session still gets torn down
			s.log.Error("session archive failed",
				zap.String("sessionId", id), zap.Error(aerr))
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		pipe.Del(ctx, sessionMovesKey(id))
		pipe.Del(ctx, userSessionKey(sess.White.UserID))
		pipe.Del(ctx, userSessionKey(sess.Black.UserID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}

	s.log.Info("session ended",
		zap.String("sessionId", id), zap.String("reason", reason))
	return nil
}

func sessionFields(sess *Session) (map[string]any, error) {
	state, err := sess.State.Marshal()
	if err != nil {
		return nil, fmt.Errorf("store: serialize state: %w", err)
	}
	md, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: serialize metadata: %w", err)
	}
	return map[string]any{
		"sessionId":         sess.ID,
		"gameState":         string(state),
		"playerWhiteId":     sess.White.UserID,
		"playerWhiteName":   sess.White.Name,
		"playerWhiteRating": strconv.Itoa(sess.White.Rating),
		"playerBlackId":     sess.Black.UserID,
		"playerBlackName":   sess.Black.Name,
		"playerBlackRating": strconv.Itoa(sess.Black.Rating),
		"variant":           sess.Variant,
		"subvariant":        sess.Subvariant,
		"status":            sess.Status,
		"metadata":          string(md),
		"createdAt":         strconv.FormatInt(sess.CreatedAt, 10),
		"lastActivity":      strconv.FormatInt(sess.LastActivity, 10),
	}, nil
}

func sessionFromFields(fields map[string]string) (*Session, error) {
	board, err := arena.UnmarshalBoard([]byte(fields["gameState"]))
	if err != nil {
		return nil, fmt.Errorf("store: corrupt game state: %w", err)
	}
	var md Metadata
	if raw := fields["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return nil, fmt.Errorf("store: corrupt metadata: %w", err)
		}
	}
	createdAt, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	lastActivity, _ := strconv.ParseInt(fields["lastActivity"], 10, 64)
	whiteRating, _ := strconv.Atoi(fields["playerWhiteRating"])
	blackRating, _ := strconv.Atoi(fields["playerBlackRating"])

	return &Session{
		ID: fields["sessionId"],
		White: PlayerSummary{
			UserID: fields["playerWhiteId"],
			Name:   fields["playerWhiteName"],
			Rating: whiteRating,
		},
		Black: PlayerSummary{
			UserID: fields["playerBlackId"],
			Name:   fields["playerBlackName"],
			Rating: blackRating,
		},
		Variant:      fields["variant"],
		Subvariant:   fields["subvariant"],
		Status:       fields["status"],
		State:        board,
		Metadata:     md,
		CreatedAt:    createdAt,
		LastActivity: lastActivity,
	}, nil
}

// ColorOf derives the caller's color, or "" when the user is not a player.
func (sess *Session) ColorOf(userID string) arena.Color {
	switch userID {
	case sess.White.UserID:
		return arena.White
	case sess.Black.UserID:
		return arena.Black
	}
	return ""
}

// Opponent returns the other player's summary.
func (sess *Session) Opponent(userID string) PlayerSummary {
	if userID == sess.White.UserID {
		return sess.Black
	} // else
	return sess.White
}
