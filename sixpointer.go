/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

// SixPointerEngine adjudicates SixPointer: a six-move-per-side skirmish from
// a balanced mid-game position, scored by captured-piece value. Each move is
// on a 30 s timer; lapsing costs a point and passes the turn.
type SixPointerEngine struct{}

func (e *SixPointerEngine) ValidateAndApply(b *Board, mv Move, playerColor Color, now int64) *Result {
	if mv.From == "" || mv.To == "" {
		return hardError(CodeInvalidMove, "move requires from and to squares")
	}

	work, pos, res := beginMove(b, playerColor, now, func(w *Board, ts int64) *Result {
		passes, err := e.advance(w, ts)
		if err != nil {
			return hardError(CodeInvalidFen, "unparseable fen")
		}
		if passes > 0 && w.ActiveColor != playerColor {
			// the caller's move timer lapsed while the request was in flight
			r := reject(CodeMoveTimeout, "move timer expired, turn passed")
			r.State = w
			return r
		}
		return nil
	})
	if res != nil {
		return res
	}

	mp := e.moves(work, playerColor)
	if mp >= work.MaxMoves {
		return rejectWithState(CodeMoveLimitExceeded, "move limit reached", work)
	}

	var pick *MoveInfo
	for _, cand := range pos.LegalMoves() {
		if cand.From == mv.From && cand.To == mv.To && cand.Promotion == mv.Promotion {
			c := cand
			pick = &c
			break
		}
	}
	if pick == nil {
		return rejectWithState(CodeIllegalMove, "illegal move", work)
	}
	if pick.Capture && mp+1 == work.MaxMoves &&
		e.moves(work, playerColor.Other()) >= work.MaxMoves {
		return rejectWithState(CodeFoulPlay,
			"capturing on your final move while the opponent is out of moves", work)
	}

	applied := pos.Apply(mv.From, mv.To, mv.Promotion)
	if applied == nil {
		return rejectWithState(CodeIllegalMove, "illegal move", work)
	}
	if applied.Capture && applied.Captured != "" {
		work.addCapture(playerColor, applied.Captured)
		e.addPoints(work, playerColor, pieceValue(applied.Captured))
	}
	e.incMoves(work, playerColor)
	work.WhiteTime = sixPointerPerMoveMs
	work.BlackTime = sixPointerPerMoveMs

	finishMove(work, pos, applied, playerColor, now, "")

	if reason, winner, ended := e.terminal(work, pos, playerColor); ended {
		work.markEnded(reason, winner, now)
		r := terminalResult(work)
		r.Move = applied
		return r
	}

	return &Result{Valid: true, Move: applied, State: work}
}

// advance walks the per-move timer forward, passing the turn for each lapse:
// the lapsing side loses a point (floor zero), both timers reset to 30 s and
// the opponent is to move from the instant the timer ran out. Returns how
// many turns were passed.
func (e *SixPointerEngine) advance(work *Board, now int64) (int, error) {
	if !work.GameStarted {
		if work.TurnStartTimestamp == 0 {
			work.TurnStartTimestamp = now
		}
		return 0, nil
	}
	passes := 0
	for {
		elapsed := now - work.TurnStartTimestamp
		if elapsed < 0 {
			elapsed = 0
		}
		remaining := work.clockFor(work.ActiveColor) - elapsed
		if remaining > 0 {
			work.setClock(work.ActiveColor, remaining)
			work.TurnStartTimestamp = now
			return passes, nil
		}
		lapsedAt := work.TurnStartTimestamp + work.clockFor(work.ActiveColor)
		e.deductPoint(work, work.ActiveColor)

		pos, err := FromFEN(work.FEN)
		if err != nil {
			return passes, err
		}
		if err := pos.PassTurn(); err != nil {
			return passes, err
		}
		work.FEN = pos.FEN()
		work.ActiveColor = work.ActiveColor.Other()
		work.WhiteTime = sixPointerPerMoveMs
		work.BlackTime = sixPointerPerMoveMs
		work.TurnStartTimestamp = lapsedAt
		passes++
	}
}

// terminal extends the plain-chess ladder with the points showdown once both
// sides have spent their six moves.
func (e *SixPointerEngine) terminal(work *Board, pos *Position, mover Color) (string, Color, bool) {
	if reason, winner, ended := standardTerminal(work, pos, mover, ""); ended {
		return reason, winner, ended
	}
	if e.moves(work, White) >= work.MaxMoves && e.moves(work, Black) >= work.MaxMoves {
		switch {
		case work.Points.White > work.Points.Black:
			return EndPoints, White, true
		case work.Points.Black > work.Points.White:
			return EndPoints, Black, true
		}
		return EndPoints, "", true
	}
	return "", "", false
}

func (e *SixPointerEngine) Tick(b *Board, now int64) *Result {
	work := b.Clone()
	work.ensureDefaults()
	if work.GameEnded {
		return terminalResult(work)
	}
	passes, err := e.advance(work, now)
	if err != nil {
		return hardError(CodeInvalidFen, "unparseable fen")
	}
	if passes > 0 {
		return &Result{Valid: true, Warning: true, Code: CodeMoveTimeout,
			Reason: "move timer expired, turn passed", State: work}
	}
	return &Result{Valid: true, State: work}
}

func (e *SixPointerEngine) LegalMoves(b *Board, square string) ([]MoveInfo, error) {
	if b.GameEnded {
		return []MoveInfo{}, nil
	}
	pos, err := FromFEN(b.FEN)
	if err != nil {
		return nil, err
	}
	work := b.Clone()
	work.ensureDefaults()
	mover := pos.SideToMove()
	mp := e.moves(work, mover)
	if mp >= work.MaxMoves {
		return []MoveInfo{}, nil
	}
	lastMove := mp+1 == work.MaxMoves
	oppSpent := e.moves(work, mover.Other()) >= work.MaxMoves
	moves := movesFrom(pos, square)
	out := make([]MoveInfo, 0, len(moves))
	for _, info := range moves {
		if lastMove && oppSpent && info.Capture {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (e *SixPointerEngine) moves(b *Board, c Color) int {
	if b.MovesPlayed == nil {
		return 0
	}
	if c == White {
		return b.MovesPlayed.White
	} // else
	return b.MovesPlayed.Black
}

func (e *SixPointerEngine) incMoves(b *Board, c Color) {
	if c == White {
		b.MovesPlayed.White++
	} else {
		b.MovesPlayed.Black++
	}
}

func (e *SixPointerEngine) addPoints(b *Board, c Color, n int) {
	if c == White {
		b.Points.White += n
	} else {
		b.Points.Black += n
	}
}

func (e *SixPointerEngine) deductPoint(b *Board, c Color) {
	if c == White {
		if b.Points.White > 0 {
			b.Points.White--
		}
	} else if b.Points.Black > 0 {
		b.Points.Black--
	}
}
