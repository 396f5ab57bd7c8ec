/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

// DecayEngine adjudicates the Decay variant. The first queen move arms a
// 25 s decay countdown for that side; each further queen move buys 2 s back.
// A decayed queen is frozen, after which that side's first major-piece move
// (rook, knight or bishop) arms a 20 s countdown tracking that piece's
// square. Frozen pieces may not move for the rest of the game.
type DecayEngine struct{}

func (e *DecayEngine) ValidateAndApply(b *Board, mv Move, playerColor Color, now int64) *Result {
	if mv.From == "" || mv.To == "" {
		return hardError(CodeInvalidMove, "move requires from and to squares")
	}

	work, pos, res := beginMove(b, playerColor, now, e.advance)
	if res != nil {
		return res
	}

	if res := e.frozenPreflight(work, pos, mv, playerColor); res != nil {
		return res
	}

	applied := pos.Apply(mv.From, mv.To, mv.Promotion)
	if applied == nil {
		return rejectWithState(CodeIllegalMove, "illegal move", work)
	}
	if applied.Capture && applied.Captured != "" {
		work.addCapture(playerColor, applied.Captured)
		e.captureCleanup(work, playerColor.Other(), applied)
	}
	e.updateDecay(work, applied, mv, playerColor, now)

	finishMove(work, pos, applied, playerColor, now, "")

	if reason, winner, ended := standardTerminal(work, pos, playerColor, ""); ended {
		work.markEnded(reason, winner, now)
		r := terminalResult(work)
		r.Move = applied
		return r
	}

	return &Result{Valid: true, Move: applied, State: work}
}

// advance runs the main clock and decays both sides' timers. Expiry during
// the opponent's turn freezes the piece before the mover's move is judged.
func (e *DecayEngine) advance(work *Board, now int64) *Result {
	if advanceMainClock(work, now) {
		work.markEnded(EndTimeout, work.ActiveColor.Other(), now)
		return terminalResult(work)
	}
	e.decayTick(work, now)
	return nil
}

func (e *DecayEngine) decayTick(work *Board, now int64) {
	if !work.DecayActive || work.DecayTimers == nil {
		return
	}
	for _, c := range []Color{White, Black} {
		side := e.side(work, c)
		if t := side.Queen; t != nil && t.Active && !t.Frozen {
			if decayRemaining(t, now) <= 0 {
				t.TimeRemaining = 0
				t.Frozen = true
				t.Active = false
				work.addFrozen(c, "queen")
			}
		}
		if t := side.MajorPiece; t != nil && t.Active && !t.Frozen {
			if decayRemaining(t, now) <= 0 {
				t.TimeRemaining = 0
				t.Frozen = true
				t.Active = false
				work.addFrozen(c, t.PieceSquare)
			}
		}
	}
}

// decayRemaining applies the elapsed wall time since the last update.
func decayRemaining(t *DecayTimer, now int64) int64 {
	elapsed := now - t.LastUpdateTimestamp
	if elapsed > 0 {
		t.TimeRemaining -= elapsed
		t.LastUpdateTimestamp = now
	}
	return t.TimeRemaining
}

func (e *DecayEngine) frozenPreflight(work *Board, pos *Position, mv Move, mover Color) *Result {
	letter, pieceColor, ok := pos.PieceAt(mv.From)
	if !ok || pieceColor != mover {
		return rejectWithState(CodeIllegalMove, "no piece of yours there", work)
	}
	frozen := work.frozenFor(mover)
	for _, token := range frozen {
		if token == "queen" && letter == "q" {
			return rejectWithState(CodePieceFrozen, "your queen has decayed", work)
		}
		if token == mv.From {
			return rejectWithState(CodePieceFrozen, "that piece has decayed", work)
		}
	}
	return nil
}

func (e *DecayEngine) updateDecay(work *Board, applied *MoveInfo, mv Move, mover Color, now int64) {
	side := e.side(work, mover)

	if applied.Piece == "q" {
		if side.Queen == nil {
			side.Queen = &DecayTimer{
				Active:              true,
				TimeRemaining:       decayQueenInitialMs,
				MoveCount:           1,
				LastUpdateTimestamp: now,
			}
			work.DecayActive = true
		} else if side.Queen.Active && !side.Queen.Frozen {
			side.Queen.MoveCount++
			side.Queen.TimeRemaining += decayMoveBonusMs
			side.Queen.LastUpdateTimestamp = now
		}
		return
	}

	queenFrozen := side.Queen != nil && side.Queen.Frozen
	if !queenFrozen {
		return
	}
	switch applied.Piece {
	case "r", "n", "b":
	default:
		return
	}

	if side.MajorPiece == nil {
		side.MajorPiece = &DecayTimer{
			Active:              true,
			TimeRemaining:       decayMajorInitialMs,
			MoveCount:           1,
			LastUpdateTimestamp: now,
			PieceType:           applied.Piece,
			PieceSquare:         mv.To,
		}
		return
	}
	t := side.MajorPiece
	if t.Active && !t.Frozen && mv.From == t.PieceSquare {
		t.MoveCount++
		t.TimeRemaining += decayMoveBonusMs
		t.LastUpdateTimestamp = now
		t.PieceSquare = mv.To
	}
}

// captureCleanup deactivates a decay timer whose piece was just taken.
func (e *DecayEngine) captureCleanup(work *Board, victim Color, applied *MoveInfo) {
	side := e.side(work, victim)
	if applied.Captured == "q" && side.Queen != nil && side.Queen.Active {
		side.Queen.Active = false
	}
	if t := side.MajorPiece; t != nil && t.Active && t.PieceSquare == applied.To {
		t.Active = false
	}
}

func (e *DecayEngine) side(b *Board, c Color) *SideDecayTimers {
	if b.DecayTimers == nil {
		b.DecayTimers = &DecayTimers{}
	}
	if c == White {
		return &b.DecayTimers.White
	} // else
	return &b.DecayTimers.Black
}

func (e *DecayEngine) Tick(b *Board, now int64) *Result {
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

func (e *DecayEngine) LegalMoves(b *Board, square string) ([]MoveInfo, error) {
	if b.GameEnded {
		return []MoveInfo{}, nil
	}
	pos, err := FromFEN(b.FEN)
	if err != nil {
		return nil, err
	}
	mover := pos.SideToMove()
	frozen := b.frozenFor(mover)
	moves := movesFrom(pos, square)
	out := make([]MoveInfo, 0, len(moves))
	for _, info := range moves {
		blocked := false
		for _, token := range frozen {
			if (token == "queen" && info.Piece == "q") || token == info.From {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, info)
		}
	}
	return out, nil
}
