package arena

import (
	"testing"
)

// position after 1.e4 e5: both queens have diagonal moves available
const decayOpenFEN = "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 3"

func TestDecayQueenTimerStarts(t *testing.T) {
	eng := mustEngine(t, VariantDecay, "")
	b := mustBoard(t, VariantDecay, "")
	b.FEN = decayOpenFEN

	res := eng.ValidateAndApply(b, Move{From: "d1", To: "h5"}, White, 1000)
	if !res.Valid {
		t.Fatalf("Qh5 rejected: %+v", res)
	}
	st := res.State
	if !st.DecayActive {
		t.Fatalf("first queen move did not activate decay")
	}
	q := st.DecayTimers.White.Queen
	if q == nil || !q.Active || q.Frozen {
		t.Fatalf("queen timer not running: %+v", q)
	}
	if q.TimeRemaining != decayQueenInitialMs || q.MoveCount != 1 {
		t.Fatalf("queen timer fields wrong: %+v", q)
	}
	if st.DecayTimers.Black.Queen != nil {
		t.Fatalf("opponent queen timer started spuriously")
	}
}

func TestDecayQueenMoveEarnsBonus(t *testing.T) {
	eng := mustEngine(t, VariantDecay, "")
	b := mustBoard(t, VariantDecay, "")
	b.FEN = decayOpenFEN

	res := eng.ValidateAndApply(b, Move{From: "d1", To: "h5"}, White, 1000)
	if !res.Valid {
		t.Fatalf("Qh5 rejected: %+v", res)
	}
	res = eng.ValidateAndApply(res.State, Move{From: "b8", To: "c6"}, Black, 2000)
	if !res.Valid {
		t.Fatalf("Nc6 rejected: %+v", res)
	}
	res = eng.ValidateAndApply(res.State, Move{From: "h5", To: "h4"}, White, 3000)
	if !res.Valid {
		t.Fatalf("Qh4 rejected: %+v", res)
	}
	q := res.State.DecayTimers.White.Queen
	if q.MoveCount != 2 {
		t.Fatalf("queen move count %v, want 2", q.MoveCount)
	}
	// 25s initial, minus 2s elapsed, plus the 2s bonus
	if q.TimeRemaining != decayQueenInitialMs {
		t.Fatalf("queen time %v, want %v", q.TimeRemaining, decayQueenInitialMs)
	}
}

func TestDecayQueenFreeze(t *testing.T) {
	eng := mustEngine(t, VariantDecay, "")
	b := mustBoard(t, VariantDecay, "")
	b.FEN = decayOpenFEN

	res := eng.ValidateAndApply(b, Move{From: "d1", To: "h5"}, White, 0)
	if !res.Valid {
		t.Fatalf("Qh5 rejected: %+v", res)
	}
	st := res.State

	tick := eng.Tick(st, decayQueenInitialMs+1)
	if tick.GameEnded {
		t.Fatalf("unexpected game end: %+v", tick)
	}
	st = tick.State
	q := st.DecayTimers.White.Queen
	if q == nil || !q.Frozen || q.Active {
		t.Fatalf("queen timer not frozen at expiry: %+v", q)
	}
	found := false
	for _, token := range st.FrozenPieces.White {
		if token == "queen" {
			found = true
		}
	}
	if !found {
		t.Fatalf("queen not recorded in frozen pieces: %+v", st.FrozenPieces)
	}

	// black hands the turn back
	res = eng.ValidateAndApply(st, Move{From: "b8", To: "c6"}, Black, decayQueenInitialMs+500)
	if !res.Valid {
		t.Fatalf("Nc6 rejected: %+v", res)
	}
	st = res.State

	res = eng.ValidateAndApply(st, Move{From: "h5", To: "h4"}, White, decayQueenInitialMs+1000)
	if res.Valid || res.Code != CodePieceFrozen {
		t.Fatalf("expected PIECE_FROZEN for the decayed queen, got %+v", res)
	}
}

func TestDecayMajorTimerAfterQueenFreeze(t *testing.T) {
	eng := mustEngine(t, VariantDecay, "")
	b := mustBoard(t, VariantDecay, "")
	b.FEN = decayOpenFEN
	b.GameStarted = true
	b.TurnStartTimestamp = 1000
	b.DecayActive = true
	b.DecayTimers.White.Queen = &DecayTimer{Frozen: true}
	b.FrozenPieces.White = []string{"queen"}

	res := eng.ValidateAndApply(b, Move{From: "g1", To: "f3"}, White, 2000)
	if !res.Valid {
		t.Fatalf("Nf3 rejected: %+v", res)
	}
	m := res.State.DecayTimers.White.MajorPiece
	if m == nil || !m.Active || m.Frozen {
		t.Fatalf("major timer not running: %+v", m)
	}
	if m.PieceType != "n" || m.PieceSquare != "f3" || m.TimeRemaining != decayMajorInitialMs {
		t.Fatalf("major timer fields wrong: %+v", m)
	}
}

func TestDecayTrackedPieceMoveEarnsBonusAndRetargets(t *testing.T) {
	eng := mustEngine(t, VariantDecay, "")
	b := mustBoard(t, VariantDecay, "")
	b.FEN = decayOpenFEN
	b.GameStarted = true
	b.TurnStartTimestamp = 1000
	b.DecayActive = true
	b.DecayTimers.White.Queen = &DecayTimer{Frozen: true}
	b.DecayTimers.White.MajorPiece = &DecayTimer{
		Active:              true,
		TimeRemaining:       decayMajorInitialMs,
		MoveCount:           1,
		LastUpdateTimestamp: 1000,
		PieceType:           "n",
		PieceSquare:         "f3",
	}
	b.FrozenPieces.White = []string{"queen"}
	pos, err := FromFEN(b.FEN)
	if err != nil {
		t.Fatalf("fen did not parse: %v", err)
	}
	if info := pos.Apply("g1", "f3", ""); info == nil {
		t.Fatalf("setup move failed")
	}
	b.FEN = pos.FEN()
	b.ActiveColor = Black

	res := eng.ValidateAndApply(b, Move{From: "b8", To: "c6"}, Black, 2000)
	if !res.Valid {
		t.Fatalf("Nc6 rejected: %+v", res)
	}
	res = eng.ValidateAndApply(res.State, Move{From: "f3", To: "g5"}, White, 3000)
	if !res.Valid {
		t.Fatalf("Ng5 rejected: %+v", res)
	}
	m := res.State.DecayTimers.White.MajorPiece
	if m.MoveCount != 2 || m.PieceSquare != "g5" {
		t.Fatalf("tracked move not credited: %+v", m)
	}
	// 20s initial, minus 2s elapsed, plus the 2s bonus
	if m.TimeRemaining != decayMajorInitialMs {
		t.Fatalf("major time %v, want %v", m.TimeRemaining, decayMajorInitialMs)
	}
}

func TestDecayFrozenMajorCannotMove(t *testing.T) {
	eng := mustEngine(t, VariantDecay, "")
	b := mustBoard(t, VariantDecay, "")
	b.GameStarted = true
	b.TurnStartTimestamp = 1000
	b.FrozenPieces.White = []string{"queen", "b1"}

	res := eng.ValidateAndApply(b, Move{From: "b1", To: "c3"}, White, 2000)
	if res.Valid || res.Code != CodePieceFrozen {
		t.Fatalf("expected PIECE_FROZEN for the tracked knight, got %+v", res)
	}

	moves, err := eng.LegalMoves(b, "b1")
	if err != nil {
		t.Fatalf("legal moves: %v", err)
	}
	if len(moves) != 0 {
		t.Fatalf("frozen piece still offers moves: %+v", moves)
	}
}
