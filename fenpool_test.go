package arena

import (
	"testing"
)

func TestBalancedPoolParses(t *testing.T) {
	pool := BalancedFENPool()
	if len(pool) == 0 {
		t.Fatalf("balanced pool is empty")
	}
	for _, fen := range pool {
		pos, err := FromFEN(fen)
		if err != nil {
			t.Fatalf("pool fen %v did not parse: %v", fen, err)
		}
		if pos.SideToMove() != White {
			t.Fatalf("pool fen %v is not white to move", fen)
		}
		if pos.InCheck() {
			t.Fatalf("pool fen %v starts in check", fen)
		}
	}
}
