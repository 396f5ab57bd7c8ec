package arena

import (
	"bytes"
	"testing"
)

func mustEngine(t *testing.T, variant, subvariant string) Engine {
	t.Helper()
	eng, err := ForVariant(variant, subvariant)
	if err != nil {
		t.Fatalf("ForVariant(%v, %v): %v", variant, subvariant, err)
	}
	return eng
}

func mustBoard(t *testing.T, variant, subvariant string) *Board {
	t.Helper()
	b, err := NewBoard(variant, subvariant)
	if err != nil {
		t.Fatalf("NewBoard(%v, %v): %v", variant, subvariant, err)
	}
	return b
}

func TestClassicMovePipeline(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicStandard)
	b := mustBoard(t, VariantClassic, SubClassicStandard)

	res := eng.ValidateAndApply(b, Move{From: "e2", To: "e4"}, White, 1000)
	if !res.Valid {
		t.Fatalf("e2e4 rejected: %+v", res)
	}
	st := res.State
	if st.ActiveColor != Black {
		t.Fatalf("expected black to move, got %v", st.ActiveColor)
	}
	if len(st.MoveHistory) != 1 || st.MoveHistory[0].San != "e4" {
		t.Fatalf("unexpected move history: %+v", st.MoveHistory)
	}
	if len(st.PositionHistory) != 2 {
		t.Fatalf("expected 2 positions in history, got %v", len(st.PositionHistory))
	}
	if !st.GameStarted {
		t.Fatalf("first move did not start the game")
	}
	// input board untouched
	if b.ActiveColor != White || len(b.MoveHistory) != 0 {
		t.Fatalf("engine mutated the caller's board")
	}
}

func TestClassicWrongTurn(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicStandard)
	b := mustBoard(t, VariantClassic, SubClassicStandard)

	res := eng.ValidateAndApply(b, Move{From: "e7", To: "e5"}, Black, 1000)
	if res.Valid || !res.Warning || res.Code != CodeWrongTurn {
		t.Fatalf("expected WRONG_TURN warning, got %+v", res)
	}
}

func TestClassicIllegalMoveLeavesBoardUnchanged(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicStandard)
	b := mustBoard(t, VariantClassic, SubClassicStandard)

	before, err := b.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res := eng.ValidateAndApply(b, Move{From: "e2", To: "e5"}, White, 1000)
	if res.Valid || !res.Warning || res.Code != CodeIllegalMove {
		t.Fatalf("expected ILLEGAL_MOVE warning, got %+v", res)
	}
	after, err := b.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("reject mutated the caller's board")
	}
}

func TestBulletTimeout(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicBullet)
	b := mustBoard(t, VariantClassic, SubClassicBullet)

	res := eng.ValidateAndApply(b, Move{From: "e2", To: "e4"}, White, 0)
	if !res.Valid {
		t.Fatalf("e2e4 rejected: %+v", res)
	}
	st := res.State
	if st.WhiteTime != 61000 {
		t.Fatalf("expected white clock 61000 after increment, got %v", st.WhiteTime)
	}

	// black still has 1 ms left
	tick := eng.Tick(st, 59999)
	if tick.GameEnded {
		t.Fatalf("game ended with time on black's clock: %+v", tick)
	}

	tick = eng.Tick(st, 61001)
	if !tick.GameEnded || tick.EndReason != EndTimeout || tick.WinnerColor != White {
		t.Fatalf("expected white win by timeout, got %+v", tick)
	}
	if tick.State.BlackTime != 0 {
		t.Fatalf("expected black clock at 0, got %v", tick.State.BlackTime)
	}
}

func TestClocksIdleBeforeFirstMove(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicBullet)
	b := mustBoard(t, VariantClassic, SubClassicBullet)

	tick := eng.Tick(b, 600000)
	if tick.GameEnded {
		t.Fatalf("clock ran before the first move: %+v", tick)
	}
	if tick.State.WhiteTime != 60000 {
		t.Fatalf("white clock moved before the first move: %v", tick.State.WhiteTime)
	}
}

func TestClassicCheckmate(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicStandard)
	b := mustBoard(t, VariantClassic, SubClassicStandard)

	seq := []struct {
		mv    Move
		color Color
	}{
		{Move{From: "f2", To: "f3"}, White},
		{Move{From: "e7", To: "e5"}, Black},
		{Move{From: "g2", To: "g4"}, White},
		{Move{From: "d8", To: "h4"}, Black},
	}
	var res *Result
	for ii, step := range seq {
		res = eng.ValidateAndApply(b, step.mv, step.color, int64(1000*(ii+1)))
		if !res.Valid {
			t.Fatalf("move %v rejected: %+v", ii, res)
		}
		b = res.State
	}
	if !res.GameEnded || res.EndReason != EndCheckmate || res.WinnerColor != Black {
		t.Fatalf("expected black win by checkmate, got %+v", res)
	}
	if res.Move == nil || res.Move.San != "Qh4#" {
		t.Fatalf("unexpected mating move: %+v", res.Move)
	}
}

func TestClassicThreefoldRepetition(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicStandard)
	b := mustBoard(t, VariantClassic, SubClassicStandard)

	// both knights shuffle out and back twice; the start position recurs
	// for the third time on the last retreat
	shuffle := []struct {
		mv    Move
		color Color
	}{
		{Move{From: "g1", To: "f3"}, White},
		{Move{From: "g8", To: "f6"}, Black},
		{Move{From: "f3", To: "g1"}, White},
		{Move{From: "f6", To: "g8"}, Black},
		{Move{From: "g1", To: "f3"}, White},
		{Move{From: "g8", To: "f6"}, Black},
		{Move{From: "f3", To: "g1"}, White},
		{Move{From: "f6", To: "g8"}, Black},
	}
	var res *Result
	for ii, step := range shuffle {
		res = eng.ValidateAndApply(b, step.mv, step.color, int64(1000*(ii+1)))
		if !res.Valid {
			t.Fatalf("move %v rejected: %+v", ii, res)
		}
		b = res.State
	}
	if !res.GameEnded || res.EndReason != EndThreefoldRepetition || res.WinnerColor != "" {
		t.Fatalf("expected draw by threefold repetition, got %+v", res)
	}
	if n := b.RepetitionMap[repetitionKey(b.FEN)]; n != 3 {
		t.Fatalf("final position counted %v times, want 3", n)
	}
}

func TestClassicMoveCountsReachedPosition(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicStandard)
	b := mustBoard(t, VariantClassic, SubClassicStandard)

	res := eng.ValidateAndApply(b, Move{From: "g1", To: "f3"}, White, 1000)
	if !res.Valid {
		t.Fatalf("Nf3 rejected: %+v", res)
	}
	st := res.State
	if n := st.RepetitionMap[repetitionKey(st.FEN)]; n != 1 {
		t.Fatalf("position after Nf3 counted %v times, want 1: %+v", n, st.RepetitionMap)
	}
	if len(st.RepetitionMap) != 2 {
		t.Fatalf("expected start seed plus one reached position, got %+v", st.RepetitionMap)
	}
}

func TestMoveAfterGameEnded(t *testing.T) {
	eng := mustEngine(t, VariantClassic, SubClassicStandard)
	b := mustBoard(t, VariantClassic, SubClassicStandard)
	b.markEnded(EndResignation, Black, 1000)

	res := eng.ValidateAndApply(b, Move{From: "e2", To: "e4"}, White, 2000)
	if res.Valid || res.Code != CodeGameEnded {
		t.Fatalf("expected GAME_ENDED, got %+v", res)
	}
}

func TestFischer960StartPosition(t *testing.T) {
	b := mustBoard(t, VariantClassic, SubFischer960)
	pos, err := FromFEN(b.FEN)
	if err != nil {
		t.Fatalf("start fen did not parse: %v", err)
	}
	if pos.SideToMove() != White {
		t.Fatalf("expected white to move, got %v", pos.SideToMove())
	}
	if b.WhiteTime != 600000 || b.Increment != 0 {
		t.Fatalf("unexpected time control %v+%v", b.WhiteTime, b.Increment)
	}
}
