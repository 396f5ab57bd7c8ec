/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import (
	"fmt"
	"sort"
	"strings"
)

// CrazyhouseEngine adjudicates Crazyhouse-standard: captured pieces join the
// capturer's pocket and may be dropped on empty squares.
type CrazyhouseEngine struct{}

func (e *CrazyhouseEngine) ValidateAndApply(b *Board, mv Move, playerColor Color, now int64) *Result {
	if mv.Drop {
		if mv.Piece == "" || mv.To == "" {
			return hardError(CodeInvalidMove, "drop requires piece and target square")
		}
	} else if mv.From == "" || mv.To == "" {
		return hardError(CodeInvalidMove, "move requires from and to squares")
	}

	work, pos, res := beginMove(b, playerColor, now, e.advance)
	if res != nil {
		return res
	}

	var applied *MoveInfo
	if mv.Drop {
		letter := strings.ToLower(mv.Piece)
		if !pocketContains(e.pocket(work, playerColor), letter) {
			return rejectWithState(CodePieceNotInPocket,
				fmt.Sprintf("no %q in pocket", letter), work)
		}
		applied, res = applyDrop(work, pos, letter, mv.To, playerColor)
		if res != nil {
			return res
		}
		e.removeFromPocket(work, playerColor, letter)
	} else {
		applied = pos.Apply(mv.From, mv.To, mv.Promotion)
		if applied == nil {
			return rejectWithState(CodeIllegalMove, "illegal move", work)
		}
		pocketCrazyCapture(work, applied, playerColor, func(letter string) {
			e.addToPocket(work, playerColor, letter)
		})
	}

	// the position reached by this move keys the repetition count
	repKey := crazyhouseRepKey(pos.FEN(), work.PocketPieces.White, work.PocketPieces.Black)
	finishMove(work, pos, applied, playerColor, now, repKey)

	defenderPocket := e.pocket(work, work.ActiveColor)
	if reason, winner, ended := crazyhouseTerminal(work, pos, playerColor,
		repKey, defenderPocket); ended {
		work.markEnded(reason, winner, now)
		r := terminalResult(work)
		r.Move = applied
		return r
	}

	return &Result{Valid: true, Move: applied, State: work}
}

func (e *CrazyhouseEngine) advance(work *Board, now int64) *Result {
	if advanceMainClock(work, now) {
		work.markEnded(EndTimeout, work.ActiveColor.Other(), now)
		return terminalResult(work)
	}
	return nil
}

func (e *CrazyhouseEngine) Tick(b *Board, now int64) *Result {
	work := b.Clone()
	work.ensureDefaults()
	if work.GameEnded {
		return terminalResult(work)
	}
	if res := e.advance(work, now); res != nil {
		return res
	}
	return &Result{Valid: true, State: work}
}

func (e *CrazyhouseEngine) LegalMoves(b *Board, square string) ([]MoveInfo, error) {
	if b.GameEnded {
		return []MoveInfo{}, nil
	}
	pos, err := FromFEN(b.FEN)
	if err != nil {
		return nil, err
	}
	if square == "pocket" {
		work := b.Clone()
		work.ensureDefaults()
		return dropMoves(pos, distinctLetters(e.pocket(work, pos.SideToMove()))), nil
	}
	return movesFrom(pos, square), nil
}

func (e *CrazyhouseEngine) pocket(b *Board, c Color) []string {
	if b.PocketPieces == nil {
		return nil
	}
	if c == White {
		return b.PocketPieces.White
	} // else
	return b.PocketPieces.Black
}

func (e *CrazyhouseEngine) addToPocket(b *Board, c Color, letter string) {
	if c == White {
		b.PocketPieces.White = append(b.PocketPieces.White, letter)
	} else {
		b.PocketPieces.Black = append(b.PocketPieces.Black, letter)
	}
}

func (e *CrazyhouseEngine) removeFromPocket(b *Board, c Color, letter string) {
	src := e.pocket(b, c)
	out := make([]string, 0, len(src))
	removed := false
	for _, have := range src {
		if !removed && have == letter {
			removed = true
			continue
		}
		out = append(out, have)
	}
	if c == White {
		b.PocketPieces.White = out
	} else {
		b.PocketPieces.Black = out
	}
}

/*
 * Shared Crazyhouse mechanics.
 */

// pocketCrazyCapture routes a capture into the capturer's pocket, reverting
// promoted victims to pawns, and maintains the promoted-square markers.
func pocketCrazyCapture(b *Board, applied *MoveInfo, mover Color, pocket func(letter string)) {
	if applied.Capture && applied.Captured != "" {
		letter := applied.Captured
		// en-passant victims are never promoted and never sit on the target
		if b.PromotedSquares[applied.To] {
			letter = "p"
			delete(b.PromotedSquares, applied.To)
		}
		b.addCapture(mover, applied.Captured)
		pocket(letter)
	}
	if b.PromotedSquares[applied.From] {
		delete(b.PromotedSquares, applied.From)
		b.PromotedSquares[applied.To] = true
	}
	if applied.Promotion != "" {
		b.PromotedSquares[applied.To] = true
	}
}

// applyDrop validates square emptiness, the pawn rank rule and self-check,
// then places the piece and hands the turn over.
func applyDrop(work *Board, pos *Position, letter, to string, mover Color) (*MoveInfo, *Result) {
	if _, _, occupied := pos.PieceAt(to); occupied {
		return nil, rejectWithState(CodeSquareOccupied, "target square occupied", work)
	}
	if letter == "p" && (strings.HasSuffix(to, "1") || strings.HasSuffix(to, "8")) {
		return nil, rejectWithState(CodeInvalidPawnDrop,
			"pawns cannot be dropped on the first or last rank", work)
	}
	if err := pos.Place(letter, mover, to); err != nil {
		return nil, rejectWithState(CodeIllegalMove, "cannot drop there", work)
	}
	if pos.InCheck() {
		return nil, rejectWithState(CodeIllegalMove, "drop leaves king in check", work)
	}
	if err := pos.EndDropTurn(letter == "p"); err != nil {
		return nil, hardError(CodeInternalError, "drop turn handoff failed")
	}
	return &MoveInfo{
		To:    to,
		Piece: letter,
		San:   strings.ToUpper(letter) + "@" + to,
		Drop:  true,
	}, nil
}

// crazyhouseRepKey extends the position key with both pocket compositions,
// sorted, since the same diagram with different pockets is a different game.
func crazyhouseRepKey(fen string, whitePocket, blackPocket []string) string {
	w := append([]string(nil), whitePocket...)
	bk := append([]string(nil), blackPocket...)
	sort.Strings(w)
	sort.Strings(bk)
	return fmt.Sprintf("%v[%v][%v]", repetitionKey(fen),
		strings.Join(w, ""), strings.Join(bk, ""))
}

// crazyhouseTerminal is standardTerminal adjusted for drops: a mate or
// stalemate verdict from the rule engine is overturned when the side to move
// can still drop.
func crazyhouseTerminal(b *Board, pos *Position, mover Color, repKey string,
	defenderPocket []string) (string, Color, bool) {

	letters := distinctLetters(defenderPocket)
	if pos.IsCheckmate() {
		if dropResolvesCheck(pos, letters) {
			return "", "", false
		}
		return EndCheckmate, mover, true
	}
	if pos.IsStalemate() {
		if len(letters) > 0 {
			// stalemated side can still drop
			return "", "", false
		}
		return EndStalemate, "", true
	}
	if len(letters) == 0 && pos.InsufficientMaterial() {
		return EndInsufficientMaterial, "", true
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

// dropResolvesCheck probes whether any pocket piece dropped on any empty
// square lifts the check on the side to move.
func dropResolvesCheck(pos *Position, letters []string) bool {
	if len(letters) == 0 {
		return false
	}
	defender := pos.SideToMove()
	fen := pos.FEN()
	for _, letter := range letters {
		for idx := 0; idx < 64; idx++ {
			sq := algSquare(idx)
			if letter == "p" && (idx < 8 || idx >= 56) {
				continue
			}
			probe, err := FromFEN(fen)
			if err != nil {
				return false
			}
			if _, _, occupied := probe.PieceAt(sq); occupied {
				continue
			}
			if err := probe.Place(letter, defender, sq); err != nil {
				continue
			}
			if !probe.InCheck() {
				return true
			}
		}
	}
	return false
}

// dropMoves enumerates legal drops for the given pocket letters.
func dropMoves(pos *Position, letters []string) []MoveInfo {
	out := make([]MoveInfo, 0)
	inCheck := pos.InCheck()
	mover := pos.SideToMove()
	fen := pos.FEN()
	for _, letter := range letters {
		for idx := 0; idx < 64; idx++ {
			sq := algSquare(idx)
			if letter == "p" && (idx < 8 || idx >= 56) {
				continue
			}
			if _, _, occupied := pos.PieceAt(sq); occupied {
				continue
			}
			if inCheck {
				probe, err := FromFEN(fen)
				if err != nil {
					continue
				}
				if probe.Place(letter, mover, sq) != nil || probe.InCheck() {
					continue
				}
			}
			out = append(out, MoveInfo{
				To:    sq,
				Piece: letter,
				San:   strings.ToUpper(letter) + "@" + sq,
				Drop:  true,
			})
		}
	}
	return out
}

func pocketContains(pocket []string, letter string) bool {
	for _, have := range pocket {
		if have == letter {
			return true
		}
	}
	return false
}

func distinctLetters(pocket []string) []string {
	seen := make(map[string]bool, len(pocket))
	out := make([]string, 0, len(pocket))
	for _, letter := range pocket {
		if !seen[letter] {
			seen[letter] = true
			out = append(out, letter)
		}
	}
	sort.Strings(out)
	return out
}
