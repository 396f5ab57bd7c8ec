package arena

import (
	"strings"
	"testing"
)

func TestApplyMove(t *testing.T) {
	pos, err := FromFEN(StartPosFEN)
	if err != nil {
		t.Fatalf("start fen did not parse: %v", err)
	}

	info := pos.Apply("e2", "e4", "")
	if info == nil {
		t.Fatalf("e2e4 from the starting position was rejected")
	}
	if info.Piece != "p" || info.San != "e4" || info.Capture {
		t.Fatalf("unexpected move info: %+v", info)
	}
	if pos.SideToMove() != Black {
		t.Fatalf("expected black to move after e4, got %v", pos.SideToMove())
	}
	if !strings.Contains(pos.FEN(), "4P3") {
		t.Fatalf("pawn not on e4 in %v", pos.FEN())
	}
}

func TestApplyIllegalMove(t *testing.T) {
	pos, err := FromFEN(StartPosFEN)
	if err != nil {
		t.Fatalf("start fen did not parse: %v", err)
	}
	if info := pos.Apply("e2", "e5", ""); info != nil {
		t.Fatalf("e2e5 accepted from the starting position: %+v", info)
	}
	if info := pos.Apply("e7", "e5", ""); info != nil {
		t.Fatalf("black move accepted while white to move: %+v", info)
	}
}

func TestApplyCapture(t *testing.T) {
	pos, err := FromFEN("rnbqkbnr/ppp1pppp/8/3p4/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2")
	if err != nil {
		t.Fatalf("fen did not parse: %v", err)
	}
	info := pos.Apply("e4", "d5", "")
	if info == nil {
		t.Fatalf("exd5 was rejected")
	}
	if !info.Capture || info.Captured != "p" {
		t.Fatalf("expected a pawn capture, got %+v", info)
	}
}

func TestPlaceAndEndDropTurn(t *testing.T) {
	pos, err := FromFEN("rnbqkbnr/ppp1pppp/8/3p4/8/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2")
	if err != nil {
		t.Fatalf("fen did not parse: %v", err)
	}
	if err := pos.Place("n", White, "e4"); err != nil {
		t.Fatalf("place on empty square failed: %v", err)
	}
	letter, color, ok := pos.PieceAt("e4")
	if !ok || letter != "n" || color != White {
		t.Fatalf("expected white knight on e4, got %v %v %v", letter, color, ok)
	}
	if err := pos.EndDropTurn(false); err != nil {
		t.Fatalf("drop turn handoff failed: %v", err)
	}
	if pos.SideToMove() != Black {
		t.Fatalf("expected black to move after the drop, got %v", pos.SideToMove())
	}
}

func TestPassTurn(t *testing.T) {
	pos, err := FromFEN(StartPosFEN)
	if err != nil {
		t.Fatalf("start fen did not parse: %v", err)
	}
	if err := pos.PassTurn(); err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if pos.SideToMove() != Black {
		t.Fatalf("expected black to move after pass, got %v", pos.SideToMove())
	}
}

func TestInCheck(t *testing.T) {
	// scholar's mate one move early: white queen checks from f7's diagonal
	pos, err := FromFEN("rnbqkbnr/ppppp1pp/8/5p1Q/4P3/8/PPPP1PPP/RNB1KBNR b KQkq - 1 2")
	if err != nil {
		t.Fatalf("fen did not parse: %v", err)
	}
	if !pos.InCheck() {
		t.Fatalf("black king is attacked by the h5 queen but InCheck() returned false")
	}

	start, err := FromFEN(StartPosFEN)
	if err != nil {
		t.Fatalf("start fen did not parse: %v", err)
	}
	if start.InCheck() {
		t.Fatalf("starting position reported as check")
	}
}

func TestCheckmateAndStalemate(t *testing.T) {
	mate, err := FromFEN("rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	if err != nil {
		t.Fatalf("fen did not parse: %v", err)
	}
	if !mate.IsCheckmate() {
		t.Fatalf("fool's mate position not reported as checkmate")
	}

	stale, err := FromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("fen did not parse: %v", err)
	}
	if !stale.IsStalemate() {
		t.Fatalf("stalemate position not reported as stalemate")
	}
}

func TestInsufficientMaterial(t *testing.T) {
	cases := []struct {
		fen  string
		want bool
	}{
		{"8/8/4k3/8/8/3K4/8/8 w - - 0 1", true},
		{"8/8/4k3/8/8/3KB3/8/8 w - - 0 1", true},
		{"8/8/4k3/8/8/3KN3/8/8 w - - 0 1", true},
		{"8/8/4k3/8/8/3KR3/8/8 w - - 0 1", false},
		{"8/8/4k3/8/4P3/3K4/8/8 w - - 0 1", false},
	}
	for _, tc := range cases {
		pos, err := FromFEN(tc.fen)
		if err != nil {
			t.Fatalf("fen %v did not parse: %v", tc.fen, err)
		}
		if got := pos.InsufficientMaterial(); got != tc.want {
			t.Fatalf("InsufficientMaterial(%v) = %v, want %v", tc.fen, got, tc.want)
		}
	}
}

func TestLegalMovesFromSquare(t *testing.T) {
	pos, err := FromFEN(StartPosFEN)
	if err != nil {
		t.Fatalf("start fen did not parse: %v", err)
	}
	moves := movesFrom(pos, "g1")
	if len(moves) != 2 {
		t.Fatalf("expected 2 knight moves from g1, got %v", len(moves))
	}
	for _, mv := range moves {
		if mv.Piece != "n" || mv.From != "g1" {
			t.Fatalf("unexpected move %+v", mv)
		}
	}
}
