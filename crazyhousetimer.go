/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import (
	"fmt"
	"strings"
	"time"
)

// CrazyhouseTimerEngine adjudicates Crazyhouse-with-timer: the pocket is a
// strict FIFO queue and only its head may be dropped, within a 10 s window.
// Expired heads are discarded during any pre-move update.
type CrazyhouseTimerEngine struct{}

func (e *CrazyhouseTimerEngine) ValidateAndApply(b *Board, mv Move, playerColor Color, now int64) *Result {
	if mv.Drop {
		if mv.Piece == "" || mv.To == "" {
			return hardError(CodeInvalidMove, "drop requires piece and target square")
		}
	} else if mv.From == "" || mv.To == "" {
		return hardError(CodeInvalidMove, "move requires from and to squares")
	}

	var expired []PocketEntry
	work, pos, res := beginMove(b, playerColor, now, func(w *Board, ts int64) *Result {
		expired = e.advance(w, ts)
		if w.GameEnded {
			return terminalResult(w)
		}
		return nil
	})
	if res != nil {
		return res
	}

	var applied *MoveInfo
	if mv.Drop {
		letter := strings.ToLower(mv.Piece)
		queue := e.queue(work, playerColor)
		if !queueContains(queue, letter) {
			for _, gone := range expired {
				if gone.Type == letter {
					return rejectWithState(CodeDropExpired,
						fmt.Sprintf("drop window for %q expired", letter), work)
				}
			}
			return rejectWithState(CodePieceNotInPocket,
				fmt.Sprintf("no %q in pocket", letter), work)
		}
		if len(queue) == 0 || queue[0].Type != letter {
			return rejectWithState(CodeSequentialDropOnly,
				"only the front of the pocket queue may be dropped", work)
		}
		head := queue[0]
		if exp, ok := e.timers(work, playerColor)[head.Id]; !ok || exp <= now {
			return rejectWithState(CodeDropExpired,
				fmt.Sprintf("drop window for %q expired", letter), work)
		}
		applied, res = applyDrop(work, pos, letter, mv.To, playerColor)
		if res != nil {
			return res
		}
		e.shiftHead(work, playerColor, now)
	} else {
		applied = pos.Apply(mv.From, mv.To, mv.Promotion)
		if applied == nil {
			return rejectWithState(CodeIllegalMove, "illegal move", work)
		}
		pocketCrazyCapture(work, applied, playerColor, func(letter string) {
			e.enqueue(work, playerColor, letter, now)
		})
	}

	// the position reached by this move keys the repetition count
	repKey := crazyhouseRepKey(pos.FEN(),
		queueLetters(work.PocketedPieces.White), queueLetters(work.PocketedPieces.Black))
	finishMove(work, pos, applied, playerColor, now, repKey)

	defenderLetters := e.droppableLetters(work, work.ActiveColor, now)
	if reason, winner, ended := crazyhouseTerminal(work, pos, playerColor,
		repKey, defenderLetters); ended {
		work.markEnded(reason, winner, now)
		r := terminalResult(work)
		r.Move = applied
		return r
	}

	return &Result{Valid: true, Move: applied, State: work}
}

// advance runs the main clock and discards expired drop windows, starting
// the next head's timer as each expires. Returns the discarded entries.
func (e *CrazyhouseTimerEngine) advance(work *Board, now int64) []PocketEntry {
	if advanceMainClock(work, now) {
		work.markEnded(EndTimeout, work.ActiveColor.Other(), now)
		return nil
	}
	var expired []PocketEntry
	for _, c := range []Color{White, Black} {
		for {
			queue := e.queue(work, c)
			if len(queue) == 0 {
				break
			}
			exp, ok := e.timers(work, c)[queue[0].Id]
			if !ok {
				// orphaned head without a window, arm one now
				e.timers(work, c)[queue[0].Id] = now + dropTimeLimitMs
				break
			}
			if exp > now {
				break
			}
			expired = append(expired, queue[0])
			e.shiftHead(work, c, exp)
		}
	}
	return expired
}

func (e *CrazyhouseTimerEngine) Tick(b *Board, now int64) *Result {
	work := b.Clone()
	work.ensureDefaults()
	if work.GameEnded {
		return terminalResult(work)
	}
	e.advance(work, now)
	if work.GameEnded {
		return terminalResult(work)
	}
	return &Result{Valid: true, State: work}
}

func (e *CrazyhouseTimerEngine) LegalMoves(b *Board, square string) ([]MoveInfo, error) {
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
		letters := e.droppableLetters(work, pos.SideToMove(), time.Now().UnixMilli())
		return dropMoves(pos, letters), nil
	}
	return movesFrom(pos, square), nil
}

func (e *CrazyhouseTimerEngine) queue(b *Board, c Color) []PocketEntry {
	if b.PocketedPieces == nil {
		return nil
	}
	if c == White {
		return b.PocketedPieces.White
	} // else
	return b.PocketedPieces.Black
}

func (e *CrazyhouseTimerEngine) setQueue(b *Board, c Color, q []PocketEntry) {
	if c == White {
		b.PocketedPieces.White = q
	} else {
		b.PocketedPieces.Black = q
	}
}

func (e *CrazyhouseTimerEngine) timers(b *Board, c Color) map[string]int64 {
	if c == White {
		return b.DropTimers.White
	} // else
	return b.DropTimers.Black
}

// enqueue pushes a captured piece to the back of the queue; a previously
// empty queue gets its head window armed immediately.
func (e *CrazyhouseTimerEngine) enqueue(b *Board, c Color, letter string, now int64) {
	entry := PocketEntry{
		Type:       letter,
		Id:         fmt.Sprintf("%v_%v", letter, now),
		CapturedAt: now,
	}
	queue := append(e.queue(b, c), entry)
	e.setQueue(b, c, queue)
	if len(queue) == 1 {
		e.timers(b, c)[entry.Id] = now + dropTimeLimitMs
	}
}

// shiftHead removes the queue head and arms the next head's window at ts.
func (e *CrazyhouseTimerEngine) shiftHead(b *Board, c Color, ts int64) {
	queue := e.queue(b, c)
	if len(queue) == 0 {
		return
	}
	delete(e.timers(b, c), queue[0].Id)
	queue = queue[1:]
	e.setQueue(b, c, append([]PocketEntry(nil), queue...))
	if len(queue) > 0 {
		e.timers(b, c)[queue[0].Id] = ts + dropTimeLimitMs
	}
}

// droppableLetters is the head type, when its window is still open.
func (e *CrazyhouseTimerEngine) droppableLetters(b *Board, c Color, now int64) []string {
	queue := e.queue(b, c)
	if len(queue) == 0 {
		return nil
	}
	exp, ok := e.timers(b, c)[queue[0].Id]
	if !ok || exp <= now {
		return nil
	}
	return []string{queue[0].Type}
}

// PocketFrozenIds derives the frozen markers emitted with timer events: all
// non-head entries, plus the head itself when it has no open window.
func (b *Board) PocketFrozenIds(c Color) []string {
	if b.PocketedPieces == nil || b.DropTimers == nil {
		return nil
	}
	var queue []PocketEntry
	var timers map[string]int64
	if c == White {
		queue, timers = b.PocketedPieces.White, b.DropTimers.White
	} else {
		queue, timers = b.PocketedPieces.Black, b.DropTimers.Black
	}
	out := make([]string, 0, len(queue))
	for ii, entry := range queue {
		if ii == 0 {
			if _, ok := timers[entry.Id]; ok {
				continue
			}
		}
		out = append(out, entry.Id)
	}
	return out
}

func queueContains(queue []PocketEntry, letter string) bool {
	for _, entry := range queue {
		if entry.Type == letter {
			return true
		}
	}
	return false
}

func queueLetters(queue []PocketEntry) []string {
	out := make([]string, 0, len(queue))
	for _, entry := range queue {
		out = append(out, entry.Type)
	}
	return out
}
