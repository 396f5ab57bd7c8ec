/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/varchess/arena"
	"github.com/varchess/arena/game"
	"github.com/varchess/arena/matchmaking"
	"github.com/varchess/arena/store"
)

// command is one inbound operation from the gateway, published as JSON on
// the command channel.
type command struct {
	Op         string     `json:"op"`
	UserID     string     `json:"userId"`
	ConnID     string     `json:"connId"`
	SessionID  string     `json:"sessionId"`
	Variant    string     `json:"variant"`
	Subvariant string     `json:"subvariant"`
	Move       arena.Move `json:"move"`
	Square     string     `json:"square"`
	Timestamp  int64      `json:"timestamp"`
}

// bridge consumes gateway commands and dispatches them to the controller,
// queue and tournament. Replies travel back over the event channels.
type bridge struct {
	rdb        *redis.Client
	controller *game.Controller
	queue      *matchmaking.Queue
	tournament *matchmaking.Tournament
	pub        *publisher
	log        *zap.Logger
}

func (b *bridge) run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, commandChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cmd command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				b.log.Warn("malformed command", zap.Error(err))
				continue
			}
			b.dispatch(ctx, &cmd)
		}
	}
}

func (b *bridge) dispatch(ctx context.Context, cmd *command) {
	if cmd.Timestamp == 0 {
		cmd.Timestamp = time.Now().UnixMilli()
	}

	var err error
	switch cmd.Op {
	case "queue.join":
		err = b.queue.JoinQueue(ctx, cmd.UserID, cmd.ConnID, cmd.Variant, cmd.Subvariant)
	case "queue.leave":
		err = b.queue.LeaveQueue(ctx, cmd.UserID)
	case "tournament.join":
		err = b.tournament.JoinTournament(ctx, cmd.UserID, cmd.ConnID)
	case "tournament.leave":
		err = b.tournament.LeaveTournament(ctx, cmd.UserID)
	case "tournament.activeDetails":
		var details *matchmaking.TournamentDetails
		details, err = b.tournament.ActiveDetails(ctx)
		if err == nil {
			b.pub.toUser(cmd.UserID, "tournament.event.details", details)
		}
	case "disconnect":
		err = b.tournament.HandleDisconnect(ctx, cmd.UserID)
	case "game.makeMove":
		_, err = b.controller.MakeMove(ctx, cmd.SessionID, cmd.UserID, cmd.Move, cmd.Timestamp)
	case "game.getPossibleMoves":
		var moves []arena.MoveInfo
		moves, err = b.controller.GetPossibleMoves(ctx, cmd.SessionID, cmd.Square)
		if err == nil {
			b.pub.toUser(cmd.UserID, "game.event.possibleMoves", map[string]any{
				"square": cmd.Square,
				"moves":  moves,
			})
		} else if errors.Is(err, store.ErrSessionNotFound) {
			b.pub.GameError(cmd.SessionID, cmd.UserID, arena.CodeGameNotFound, "no such session")
			err = nil
		}
	case "game.resign":
		_, err = b.controller.Resign(ctx, cmd.SessionID, cmd.UserID, cmd.Timestamp)
	case "game.offerDraw":
		err = b.controller.OfferDraw(ctx, cmd.SessionID, cmd.UserID)
	case "game.acceptDraw":
		_, err = b.controller.AcceptDraw(ctx, cmd.SessionID, cmd.UserID, cmd.Timestamp)
	case "game.declineDraw":
		err = b.controller.DeclineDraw(ctx, cmd.SessionID, cmd.UserID)
	default:
		b.log.Warn("unknown command", zap.String("op", cmd.Op))
		return
	}
	if err != nil {
		b.log.Warn("command failed",
			zap.String("op", cmd.Op),
			zap.String("userId", cmd.UserID),
			zap.Error(err))
	}
}

// runTimerSweep periodically ticks every active session so clock expiry,
// drop windows and decay freezes are observed without waiting for a move.
func runTimerSweep(ctx context.Context, rdb *redis.Client, controller *game.Controller,
	interval time.Duration, log *zap.Logger) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, rdb, controller, log)
		}
	}
}

func sweepOnce(ctx context.Context, rdb *redis.Client, controller *game.Controller,
	log *zap.Logger) {

	now := time.Now().UnixMilli()
	iter := rdb.Scan(ctx, 0, "session:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// session:{id}:moves lists share the prefix
		rest := strings.TrimPrefix(key, "session:")
		if strings.Contains(rest, ":") {
			continue
		}
		if _, err := controller.Timers(ctx, rest, now); err != nil {
			log.Warn("timer sweep failed", zap.String("sessionId", rest), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("timer sweep scan failed", zap.Error(err))
	}
}
