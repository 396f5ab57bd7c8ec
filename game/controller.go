/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/varchess/arena"
	"github.com/varchess/arena/store"
)

// TimerReport is the payload of a timer event: remaining main clocks plus,
// for Crazyhouse-with-timer, the drop windows and derived frozen pocket ids.
type TimerReport struct {
	SessionID       string                   `json:"sessionId"`
	White           int64                    `json:"white"`
	Black           int64                    `json:"black"`
	DropTimers      *arena.DropTimers        `json:"dropTimers,omitempty"`
	FrozenPocketIds map[arena.Color][]string `json:"frozenPocketIds,omitempty"`
	DecayTimers     *arena.DecayTimers       `json:"decayTimers,omitempty"`
}

// Emitter delivers game events to the transport layer. Implementations must
// tolerate dead connections; emission to a vanished peer is a no-op.
type Emitter interface {
	GameMove(sessionID string, mv *arena.MoveInfo, state *arena.Board)
	GameTimer(sessionID string, report TimerReport)
	GameEnd(sessionID string, state *arena.Board)
	GameWarning(sessionID, userID, code, reason string)
	GameError(sessionID, userID, code, message string)
}

// Controller is the session-facing operation surface. All state lives in the
// store; the controller holds no per-session memory, so any number of
// handler goroutines may share one instance.
type Controller struct {
	store *store.Store
	emit  Emitter
	log   *zap.Logger
	lim   *errorLimiter
}

func NewController(st *store.Store, emit Emitter, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		store: st,
		emit:  emit,
		log:   log,
		lim:   newErrorLimiter(),
	}
}

// errSkipWrite aborts a store mutation without failing the operation.
var errSkipWrite = errors.New("game: no state change")

// MakeMove validates and applies a move on behalf of userID. Rule rejects
// come back as warning results; successor states attached to a warning (for
// example an expired drop window) are persisted.
func (c *Controller) MakeMove(ctx context.Context, sessionID, userID string,
	mv arena.Move, timestamp int64) (*arena.Result, error) {

	var res *arena.Result
	_, err := c.store.Mutate(ctx, sessionID, func(sess *store.Session) error {
		if sess.Status != store.StatusActive {
			res = &arena.Result{Valid: false, Warning: true, Code: arena.CodeGameEnded,
				Reason: "session is finished"}
			return errSkipWrite
		}
		color := sess.ColorOf(userID)
		if color == "" {
			res = &arena.Result{Valid: false, Code: arena.CodeNotAPlayer,
				Reason: "user is not a player of this session"}
			return errSkipWrite
		}
		eng, err := arena.ForVariant(sess.Variant, sess.Subvariant)
		if err != nil {
			return err
		}
		res = eng.ValidateAndApply(sess.State, mv, color, timestamp)
		if res.State == nil {
			return errSkipWrite
		}
		sess.State = res.State
		if res.GameEnded {
			sess.Status = store.StatusFinished
		}
		return nil
	})
	if errors.Is(err, store.ErrSessionNotFound) {
		c.emitError(sessionID, userID, arena.CodeGameNotFound, "no such session")
		return &arena.Result{Valid: false, Code: arena.CodeGameNotFound,
			Reason: "no such session"}, nil
	}
	if err != nil && !errors.Is(err, errSkipWrite) {
		c.emitError(sessionID, userID, arena.CodeDBError, "move could not be processed")
		return nil, fmt.Errorf("game: make move: %w", err)
	}

	switch {
	case res.Valid && res.Move != nil:
		last := res.State.MoveHistory[len(res.State.MoveHistory)-1]
		if aerr := c.store.AppendMove(ctx, sessionID, last); aerr != nil {
			c.log.Warn("move list append failed",
				zap.String("sessionId", sessionID), zap.Error(aerr))
		}
		c.emit.GameMove(sessionID, res.Move, res.State)
	case !res.Valid && res.Warning:
		c.emit.GameWarning(sessionID, userID, res.Code, res.Reason)
	case !res.Valid:
		c.emitError(sessionID, userID, res.Code, res.Reason)
	}

	if res.GameEnded {
		c.finalize(ctx, sessionID, res)
	}
	return res, nil
}

// GetPossibleMoves enumerates variant-legal moves from square; for the
// Crazyhouse variants square "pocket" enumerates drops.
func (c *Controller) GetPossibleMoves(ctx context.Context, sessionID, square string) ([]arena.MoveInfo, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, store.ErrSessionNotFound
	}
	eng, err := arena.ForVariant(sess.Variant, sess.Subvariant)
	if err != nil {
		return nil, err
	}
	return eng.LegalMoves(sess.State, square)
}

// Resign ends the session immediately; the opposite color wins.
func (c *Controller) Resign(ctx context.Context, sessionID, userID string, timestamp int64) (*arena.Result, error) {
	var res *arena.Result
	_, err := c.store.Mutate(ctx, sessionID, func(sess *store.Session) error {
		color := sess.ColorOf(userID)
		if color == "" {
			res = &arena.Result{Valid: false, Code: arena.CodeNotAPlayer,
				Reason: "user is not a player of this session"}
			return errSkipWrite
		}
		if sess.Status != store.StatusActive || sess.State.GameEnded {
			res = &arena.Result{Valid: false, Warning: true, Code: arena.CodeGameEnded,
				Reason: "session is finished"}
			return errSkipWrite
		}
		sess.State.GameEnded = true
		sess.State.EndReason = arena.EndResignation
		sess.State.WinnerColor = color.Other()
		sess.State.EndedAt = timestamp
		sess.Status = store.StatusFinished
		res = &arena.Result{Valid: true, State: sess.State, GameEnded: true,
			EndReason: arena.EndResignation, WinnerColor: color.Other()}
		return nil
	})
	if errors.Is(err, store.ErrSessionNotFound) {
		return &arena.Result{Valid: false, Code: arena.CodeGameNotFound,
			Reason: "no such session"}, nil
	}
	if err != nil && !errors.Is(err, errSkipWrite) {
		return nil, fmt.Errorf("game: resign: %w", err)
	}
	if res.GameEnded {
		c.finalize(ctx, sessionID, res)
	}
	return res, nil
}

// OfferDraw records an outstanding draw offer for the caller's color.
func (c *Controller) OfferDraw(ctx context.Context, sessionID, userID string) error {
	_, err := c.store.Mutate(ctx, sessionID, func(sess *store.Session) error {
		color := sess.ColorOf(userID)
		if color == "" {
			return fmt.Errorf("game: %v: not a player", userID)
		}
		if sess.Status != store.StatusActive {
			return store.ErrSessionFinished
		}
		if sess.Metadata.DrawOffers == nil {
			sess.Metadata.DrawOffers = make(map[arena.Color]bool)
		}
		sess.Metadata.DrawOffers[color] = true
		return nil
	})
	return err
}

// AcceptDraw ends the session by mutual agreement, provided the opponent has
// an outstanding offer.
func (c *Controller) AcceptDraw(ctx context.Context, sessionID, userID string, timestamp int64) (*arena.Result, error) {
	var res *arena.Result
	_, err := c.store.Mutate(ctx, sessionID, func(sess *store.Session) error {
		color := sess.ColorOf(userID)
		if color == "" {
			res = &arena.Result{Valid: false, Code: arena.CodeNotAPlayer,
				Reason: "user is not a player of this session"}
			return errSkipWrite
		}
		if sess.Status != store.StatusActive || sess.State.GameEnded {
			res = &arena.Result{Valid: false, Warning: true, Code: arena.CodeGameEnded,
				Reason: "session is finished"}
			return errSkipWrite
		}
		if !sess.Metadata.DrawOffers[color.Other()] {
			res = &arena.Result{Valid: false, Warning: true, Code: arena.CodeInvalidInput,
				Reason: "no outstanding draw offer"}
			return errSkipWrite
		}
		sess.State.GameEnded = true
		sess.State.EndReason = arena.EndMutualAgreement
		sess.State.EndedAt = timestamp
		sess.Status = store.StatusFinished
		res = &arena.Result{Valid: true, State: sess.State, GameEnded: true,
			EndReason: arena.EndMutualAgreement}
		return nil
	})
	if errors.Is(err, store.ErrSessionNotFound) {
		return &arena.Result{Valid: false, Code: arena.CodeGameNotFound,
			Reason: "no such session"}, nil
	}
	if err != nil && !errors.Is(err, errSkipWrite) {
		return nil, fmt.Errorf("game: accept draw: %w", err)
	}
	if res.GameEnded {
		c.finalize(ctx, sessionID, res)
	}
	return res, nil
}

// DeclineDraw clears the opponent's outstanding offer.
func (c *Controller) DeclineDraw(ctx context.Context, sessionID, userID string) error {
	_, err := c.store.Mutate(ctx, sessionID, func(sess *store.Session) error {
		color := sess.ColorOf(userID)
		if color == "" {
			return fmt.Errorf("game: %v: not a player", userID)
		}
		delete(sess.Metadata.DrawOffers, color.Other())
		return nil
	})
	return err
}

// Timers advances the session's clocks without a move, persists any timer
// transition (expired drop windows, decay freezes, passed turns) and emits a
// timer event; a flag fall finalizes the session.
func (c *Controller) Timers(ctx context.Context, sessionID string, now int64) (*arena.Result, error) {
	var res *arena.Result
	_, err := c.store.Mutate(ctx, sessionID, func(sess *store.Session) error {
		if sess.Status != store.StatusActive {
			res = &arena.Result{Valid: true, State: sess.State,
				GameEnded: sess.State.GameEnded,
				EndReason: sess.State.EndReason, WinnerColor: sess.State.WinnerColor}
			return errSkipWrite
		}
		eng, err := arena.ForVariant(sess.Variant, sess.Subvariant)
		if err != nil {
			return err
		}
		res = eng.Tick(sess.State, now)
		if res.State == nil {
			return errSkipWrite
		}
		sess.State = res.State
		if res.GameEnded {
			sess.Status = store.StatusFinished
		}
		return nil
	})
	if errors.Is(err, store.ErrSessionNotFound) {
		return &arena.Result{Valid: false, Code: arena.CodeGameNotFound,
			Reason: "no such session"}, nil
	}
	if err != nil && !errors.Is(err, errSkipWrite) {
		return nil, fmt.Errorf("game: timers: %w", err)
	}

	if res.State != nil {
		c.emit.GameTimer(sessionID, timerReport(sessionID, res.State))
	}
	if res.Warning {
		c.emit.GameWarning(sessionID, "", res.Code, res.Reason)
	}
	if res.GameEnded {
		c.finalize(ctx, sessionID, res)
	}
	return res, nil
}

func timerReport(sessionID string, b *arena.Board) TimerReport {
	report := TimerReport{
		SessionID: sessionID,
		White:     b.WhiteTime,
		Black:     b.BlackTime,
	}
	if b.DropTimers != nil {
		report.DropTimers = b.DropTimers
		report.FrozenPocketIds = map[arena.Color][]string{
			arena.White: b.PocketFrozenIds(arena.White),
			arena.Black: b.PocketFrozenIds(arena.Black),
		}
	}
	if b.DecayTimers != nil {
		report.DecayTimers = b.DecayTimers
	}
	return report
}

// finalize tears the finished session down and emits the end event. The
// session may already be gone when two finalizers race; that is fine.
func (c *Controller) finalize(ctx context.Context, sessionID string, res *arena.Result) {
	if err := c.store.EndSession(ctx, sessionID, res.EndReason); err != nil &&
		!errors.Is(err, store.ErrSessionNotFound) {
		c.log.Error("session teardown failed",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
	c.emit.GameEnd(sessionID, res.State)
}

func (c *Controller) emitError(sessionID, userID, code, message string) {
	if userID != "" && !c.lim.allow(userID) {
		return
	}
	c.emit.GameError(sessionID, userID, code, message)
}
