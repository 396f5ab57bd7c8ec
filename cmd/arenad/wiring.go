/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/varchess/arena"
	"github.com/varchess/arena/game"
	"github.com/varchess/arena/matchmaking"
	"github.com/varchess/arena/store"
)

const (
	commandChannel    = "arena:cmd"
	userChannelPrefix = "arena:evt:user:"
	gameChannelPrefix = "arena:evt:session:"
	connKeyPrefix     = "conn:"
	userKeyPrefix     = "user:"
	publishTimeout    = 2 * time.Second
)

// redisProbe treats a connection as alive while the gateway keeps its
// presence key (conn:{connId}) refreshed.
type redisProbe struct {
	rdb *redis.Client
}

func (p *redisProbe) Alive(connID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n, err := p.rdb.Exists(ctx, connKeyPrefix+connID).Result()
	if err != nil {
		// on store trouble assume alive; idle cleanup catches real losses
		return true
	}
	return n > 0
}

// redisDirectory resolves names and ratings from the user:{userId} hash the
// account service maintains. Classic ratings are kept per subvariant; a user
// with no stored rating for the requested pool cannot queue.
type redisDirectory struct {
	rdb *redis.Client
}

func (d *redisDirectory) Name(userID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	name, err := d.rdb.HGet(ctx, userKeyPrefix+userID, "name").Result()
	if err != nil || name == "" {
		return userID
	}
	return name
}

func (d *redisDirectory) Rating(userID, variant, subvariant string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	field := ratingField(variant, subvariant)
	val, err := d.rdb.HGet(ctx, userKeyPrefix+userID, field).Result()
	if err != nil {
		return 0, fmt.Errorf("no %v rating stored for %v: %w", field, userID, err)
	}
	rating, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("unparseable %v rating for %v: %w", field, userID, err)
	}
	return rating, nil
}

func ratingField(variant, subvariant string) string {
	if variant == arena.VariantClassic {
		return "rating:" + variant + ":" + subvariant
	} // else
	return "rating:" + variant
}

// publisher fans events out over redis pub/sub: session events on the
// session channel, queue and tournament events on the user channel.
type publisher struct {
	rdb *redis.Client
	log *zap.Logger
}

func (p *publisher) publish(channel, event string, payload any) {
	body, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
	})
	if err != nil {
		p.log.Error("event marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, channel, body).Err(); err != nil {
		p.log.Warn("event publish failed",
			zap.String("channel", channel), zap.String("event", event), zap.Error(err))
	}
}

func (p *publisher) toSession(sessionID, event string, payload any) {
	p.publish(gameChannelPrefix+sessionID, event, payload)
}

func (p *publisher) toUser(userID, event string, payload any) {
	p.publish(userChannelPrefix+userID, event, payload)
}

func (p *publisher) GameMove(sessionID string, mv *arena.MoveInfo, state *arena.Board) {
	p.toSession(sessionID, "game.event.move", map[string]any{
		"move":      mv,
		"gameState": state,
	})
}

func (p *publisher) GameTimer(sessionID string, report game.TimerReport) {
	p.toSession(sessionID, "game.event.timer", report)
}

func (p *publisher) GameEnd(sessionID string, state *arena.Board) {
	p.toSession(sessionID, "game.event.end", map[string]any{"gameState": state})
}

func (p *publisher) GameWarning(sessionID, userID, code, reason string) {
	p.toSession(sessionID, "game.event.warning", map[string]any{
		"userId": userID,
		"code":   code,
		"reason": reason,
	})
}

func (p *publisher) GameError(sessionID, userID, code, message string) {
	p.toSession(sessionID, "game.event.error", map[string]any{
		"userId":  userID,
		"code":    code,
		"message": message,
	})
}

func (p *publisher) Cooldown(userID string, until int64) {
	p.toUser(userID, "queue.event.cooldown", map[string]any{"until": until})
}

func (p *publisher) Matched(userID, sessionID string, opponent store.PlayerSummary,
	variant, subvariant string, state *arena.Board, tournament bool) {

	p.toUser(userID, "queue.event.matched", map[string]any{
		"sessionId":    sessionID,
		"opponent":     opponent,
		"variant":      variant,
		"subvariant":   subvariant,
		"initialState": state,
		"tournament":   tournament,
	})
}

func (p *publisher) QueueError(userID, code, message string) {
	p.toUser(userID, "queue.event.error", map[string]any{
		"code":    code,
		"message": message,
	})
}

func (p *publisher) TournamentJoined(userID string, details matchmaking.TournamentDetails,
	status string) {

	p.toUser(userID, "tournament.event.joined", map[string]any{
		"details": details,
		"status":  status,
	})
}

func (p *publisher) TournamentNewActive(id, name string) {
	p.publish(userChannelPrefix+"all", "tournament.event.newActive", map[string]any{
		"id":   id,
		"name": name,
	})
}

func (p *publisher) TournamentError(userID, message string) {
	p.toUser(userID, "tournament.event.error", map[string]any{"message": message})
}
