/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

// ClassicEngine adjudicates plain chess under the standard, blitz, bullet
// and fischer960 time controls.
type ClassicEngine struct {
	Subvariant string
}

func (e *ClassicEngine) ValidateAndApply(b *Board, mv Move, playerColor Color, now int64) *Result {
	if mv.From == "" || mv.To == "" {
		return hardError(CodeInvalidMove, "move requires from and to squares")
	}

	work, pos, res := beginMove(b, playerColor, now, e.advance)
	if res != nil {
		return res
	}

	applied := pos.Apply(mv.From, mv.To, mv.Promotion)
	if applied == nil {
		return rejectWithState(CodeIllegalMove, "illegal move", work)
	}
	if applied.Capture && applied.Captured != "" {
		work.addCapture(playerColor, applied.Captured)
	}

	finishMove(work, pos, applied, playerColor, now, "")

	if reason, winner, ended := standardTerminal(work, pos, playerColor, ""); ended {
		work.markEnded(reason, winner, now)
		r := terminalResult(work)
		r.Move = applied
		return r
	}

	return &Result{Valid: true, Move: applied, State: work}
}

func (e *ClassicEngine) advance(work *Board, now int64) *Result {
	if advanceMainClock(work, now) {
		work.markEnded(EndTimeout, work.ActiveColor.Other(), now)
		return terminalResult(work)
	}
	return nil
}

func (e *ClassicEngine) Tick(b *Board, now int64) *Result {
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

func (e *ClassicEngine) LegalMoves(b *Board, square string) ([]MoveInfo, error) {
	if b.GameEnded {
		return []MoveInfo{}, nil
	}
	pos, err := FromFEN(b.FEN)
	if err != nil {
		return nil, err
	}
	return movesFrom(pos, square), nil
}
