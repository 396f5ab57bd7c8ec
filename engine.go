/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import (
	"fmt"
	"strings"
)

// Move is the client move input. A drop sets Drop/Piece and leaves From
// empty; Piece and Promotion are lowercase letters.
type Move struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	Drop      bool   `json:"drop,omitempty"`
	Piece     string `json:"piece,omitempty"`
}

// Result is the outcome of a move attempt or a timer tick. Rule rejects come
// back with Valid=false and Warning=true and never mutate the caller's board;
// State is the successor state whenever one exists (it may accompany a reject
// when a pre-move timer transition already changed the game).
type Result struct {
	Valid       bool      `json:"valid"`
	Warning     bool      `json:"warning,omitempty"`
	Code        string    `json:"code,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Move        *MoveInfo `json:"move,omitempty"`
	State       *Board    `json:"state,omitempty"`
	GameEnded   bool      `json:"gameEnded,omitempty"`
	EndReason   string    `json:"endReason,omitempty"`
	WinnerColor Color     `json:"winnerColor,omitempty"`
}

// Engine is the per-variant authoritative validator.
type Engine interface {
	// ValidateAndApply runs the full move pipeline against a copy of b.
	ValidateAndApply(b *Board, mv Move, playerColor Color, now int64) *Result
	// Tick advances clocks and variant timers without a move, reporting any
	// terminal or warning transition. Used for standalone timer checks.
	Tick(b *Board, now int64) *Result
	// LegalMoves enumerates variant-legal moves from square; square "pocket"
	// lists Crazyhouse drops.
	LegalMoves(b *Board, square string) ([]MoveInfo, error)
}

// ForVariant returns the engine for a variant/subvariant pair.
func ForVariant(variant, subvariant string) (Engine, error) {
	if !KnownVariant(variant, subvariant) {
		return nil, fmt.Errorf("no engine for variant %q/%q", variant, subvariant)
	}
	switch variant {
	case VariantClassic:
		return &ClassicEngine{Subvariant: subvariant}, nil
	case VariantCrazyhouse:
		if subvariant == SubCrazyhouseWithTimer {
			return &CrazyhouseTimerEngine{}, nil
		}
		return &CrazyhouseEngine{}, nil
	case VariantDecay:
		return &DecayEngine{}, nil
	case VariantSixPointer:
		return &SixPointerEngine{}, nil
	}
	return nil, fmt.Errorf("no engine for variant %q", variant)
}

func reject(code, reason string) *Result {
	return &Result{Valid: false, Warning: true, Code: code, Reason: reason}
}

func rejectWithState(code, reason string, b *Board) *Result {
	r := reject(code, reason)
	r.State = b
	return r
}

func hardError(code, reason string) *Result {
	return &Result{Valid: false, Code: code, Reason: reason}
}

func terminalResult(b *Board) *Result {
	return &Result{
		Valid:       true,
		State:       b,
		GameEnded:   true,
		EndReason:   b.EndReason,
		WinnerColor: b.WinnerColor,
	}
}

// beginMove runs the variant-independent front half of the pipeline on a
// clone of the caller's board: ended check, rehydration, pre-move timer
// advance, FEN parse and turn verification. advance is the variant's timer
// hook and may itself end or re-shape the game (timeout, per-move pass).
func beginMove(b *Board, playerColor Color, now int64,
	advance func(*Board, int64) *Result) (*Board, *Position, *Result) {

	if b == nil {
		return nil, nil, hardError(CodeInvalidInput, "missing board state")
	}
	if playerColor != White && playerColor != Black {
		return nil, nil, hardError(CodeInvalidPlayer, "unknown player color")
	}
	if b.GameEnded {
		return nil, nil, reject(CodeGameEnded, "game already ended")
	}

	work := b.Clone()
	work.ensureDefaults()

	if work.FEN == "" {
		return nil, nil, hardError(CodeMissingFen, "board has no fen")
	}

	if res := advance(work, now); res != nil {
		return nil, nil, res
	}

	pos, err := FromFEN(work.FEN)
	if err != nil {
		return nil, nil, hardError(CodeInvalidFen, "unparseable fen")
	}
	if pos.SideToMove() != playerColor {
		return nil, nil, reject(CodeWrongTurn, "not your turn")
	}

	return work, pos, nil
}

// finishMove runs the back half: fen/activeColor refresh, histories, the
// mover's increment, turn handoff and repetition accounting.
func finishMove(b *Board, pos *Position, applied *MoveInfo, mover Color,
	now int64, repKey string) {

	b.FEN = pos.FEN()
	b.ActiveColor = pos.SideToMove()
	b.MoveHistory = append(b.MoveHistory, HistoryMove{
		San:       applied.San,
		From:      applied.From,
		To:        applied.To,
		Piece:     applied.Piece,
		Color:     mover,
		Captured:  applied.Captured,
		Promotion: applied.Promotion,
		Drop:      applied.Drop,
		Timestamp: now,
	})
	b.PositionHistory = append(b.PositionHistory, b.FEN)
	b.LastMoveTimestamp = now
	if b.Increment > 0 {
		b.setClock(mover, b.clockFor(mover)+b.Increment)
	}
	b.TurnStartTimestamp = now
	b.GameStarted = true

	if repKey == "" {
		repKey = repetitionKey(b.FEN)
	}
	b.RepetitionMap[repKey]++
}

// repetitionKey drops the halfmove/fullmove counters so repeats of the same
// position compare equal.
func repetitionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fen
	}
	return strings.Join(fields[:4], " ")
}

// standardTerminal evaluates the plain-chess terminal ladder: checkmate,
// stalemate, insufficient material, repetition draws and move-rule draws.
// mover is the side that just completed a move.
func standardTerminal(b *Board, pos *Position, mover Color, repKey string) (string, Color, bool) {
	if pos.IsCheckmate() {
		return EndCheckmate, mover, true
	}
	if pos.IsStalemate() {
		return EndStalemate, "", true
	}
	if pos.InsufficientMaterial() {
		return EndInsufficientMaterial, "", true
	}
	if repKey == "" {
		repKey = repetitionKey(b.FEN)
	}
	if n := b.RepetitionMap[repKey]; n >= 5 {
		return EndFivefoldRepetition, "", true
	} else if n >= 3 {
		return EndThreefoldRepetition, "", true
	}
	if hm := pos.HalfMoveClock(); hm >= 150 {
		return EndSeventyFiveMoveRule, "", true
	} else if hm >= 100 {
		return EndFiftyMoveRule, "", true
	}
	return "", "", false
}

// movesFrom filters a position's legal moves to those originating at square.
func movesFrom(pos *Position, square string) []MoveInfo {
	all := pos.LegalMoves()
	if square == "" {
		return all
	}
	out := make([]MoveInfo, 0, 8)
	for _, mv := range all {
		if mv.From == square {
			out = append(out, mv)
		}
	}
	return out
}

// pieceValue is the SixPointer capture scale.
func pieceValue(letter string) int {
	switch strings.ToLower(letter) {
	case "p":
		return 1
	case "n", "b":
		return 3
	case "r":
		return 5
	case "q":
		return 9
	}
	return 0
}
