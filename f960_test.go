package arena

import (
	"testing"
)

func TestBackRankLegal(t *testing.T) {
	if !backRankLegal([]rune("nnrbqbkr")) {
		t.Fatalf("rank has king between rooks and opposite bishops but backRankLegal() returned false")
	}

	if backRankLegal([]rune("krrnnbbq")) {
		t.Fatalf("rank has king before both rooks but backRankLegal() returned true")
	}

	if backRankLegal([]rune("rrnnbqbk")) {
		t.Fatalf("rank has same-shade bishops but backRankLegal() returned true")
	}
}

func Test960Count(t *testing.T) {
	fens := All960StartFENs()
	if len(fens) != 960 {
		t.Fatalf("expected 960 starting positions, got %v", len(fens))
	}
}

func TestRandom960Parses(t *testing.T) {
	for ii := 0; ii < 16; ii++ {
		fen := Random960StartFEN()
		pos, err := FromFEN(fen)
		if err != nil {
			t.Fatalf("start fen %v did not parse: %v", fen, err)
		}
		if pos.SideToMove() != White {
			t.Fatalf("start fen %v is not white to move", fen)
		}
	}
}
