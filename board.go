/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import (
	"encoding/json"
	"fmt"
)

// Variant identifiers.
const (
	VariantClassic    = "classic"
	VariantCrazyhouse = "crazyhouse"
	VariantDecay      = "decay"
	VariantSixPointer = "sixpointer"
)

// Subvariants.
const (
	SubClassicStandard = "standard"
	SubClassicBlitz    = "blitz"
	SubClassicBullet   = "bullet"
	SubFischer960      = "fischer960"

	SubCrazyhouseStandard  = "standard"
	SubCrazyhouseWithTimer = "withTimer"
)

const StartPosFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// HistoryMove is one entry of a board's move history.
type HistoryMove struct {
	San       string `json:"san,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Piece     string `json:"piece,omitempty"`
	Color     Color  `json:"color"`
	Captured  string `json:"captured,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Drop      bool   `json:"drop,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// CapturedPieces lists piece letters taken from each side's opponent.
type CapturedPieces struct {
	White []string `json:"white"`
	Black []string `json:"black"`
}

// PocketEntry is one piece waiting in a Crazyhouse-with-timer pocket queue.
// Id is "{type}_{capturedAtMs}" and keys the entry's drop timer.
type PocketEntry struct {
	Type       string `json:"type"`
	Id         string `json:"id"`
	CapturedAt int64  `json:"capturedAt"`
}

// PocketQueues holds the strict FIFO drop queues, head first.
type PocketQueues struct {
	White []PocketEntry `json:"white"`
	Black []PocketEntry `json:"black"`
}

// DropTimers maps pocket entry id → absolute expiry in ms. At most one entry
// per color is populated: the queue head's.
type DropTimers struct {
	White map[string]int64 `json:"white"`
	Black map[string]int64 `json:"black"`
}

// PocketPieces is the Crazyhouse-standard pocket multiset of piece letters.
type PocketPieces struct {
	White []string `json:"white"`
	Black []string `json:"black"`
}

// DecayTimer tracks the countdown of a queen or major piece.
type DecayTimer struct {
	Active              bool   `json:"active"`
	Frozen              bool   `json:"frozen"`
	TimeRemaining       int64  `json:"timeRemaining"`
	MoveCount           int    `json:"moveCount"`
	LastUpdateTimestamp int64  `json:"lastUpdateTimestamp"`
	PieceType           string `json:"pieceType,omitempty"`
	PieceSquare         string `json:"pieceSquare,omitempty"`
}

// SideDecayTimers groups a side's queen and major-piece timers.
type SideDecayTimers struct {
	Queen      *DecayTimer `json:"queen,omitempty"`
	MajorPiece *DecayTimer `json:"majorPiece,omitempty"`
}

type DecayTimers struct {
	White SideDecayTimers `json:"white"`
	Black SideDecayTimers `json:"black"`
}

// FrozenPieces lists squares (for major pieces) plus the literal token
// "queen" once a side's queen decays.
type FrozenPieces struct {
	White []string `json:"white"`
	Black []string `json:"black"`
}

type MoveCounts struct {
	White int `json:"white"`
	Black int `json:"black"`
}

type PointTotals struct {
	White int `json:"white"`
	Black int `json:"black"`
}

// Board is the variant game state. The zero fields of variants that do not
// apply are omitted from the serialized form; the serialized form is
// canonical and rehydrated on load.
type Board struct {
	Variant    string `json:"variant"`
	Subvariant string `json:"subvariant,omitempty"`

	FEN                string        `json:"fen"`
	ActiveColor        Color         `json:"activeColor"`
	WhiteTime          int64         `json:"whiteTime"`
	BlackTime          int64         `json:"blackTime"`
	Increment          int64         `json:"increment"`
	TurnStartTimestamp int64         `json:"turnStartTimestamp"`
	LastMoveTimestamp  int64         `json:"lastMoveTimestamp,omitempty"`
	MoveHistory        []HistoryMove `json:"moveHistory"`
	PositionHistory    []string      `json:"positionHistory"`
	GameStarted        bool          `json:"gameStarted"`
	GameEnded          bool          `json:"gameEnded"`
	EndReason          string        `json:"endReason,omitempty"`
	WinnerColor        Color         `json:"winnerColor,omitempty"`
	EndedAt            int64         `json:"endedAt,omitempty"`

	CapturedPieces CapturedPieces `json:"capturedPieces"`
	RepetitionMap  map[string]int `json:"repetitionMap"`

	// crazyhouse-standard
	PocketPieces *PocketPieces `json:"pocketPieces,omitempty"`

	// crazyhouse-with-timer
	PocketedPieces *PocketQueues `json:"pocketedPieces,omitempty"`
	DropTimers     *DropTimers   `json:"dropTimers,omitempty"`

	// both crazyhouse flavors: squares holding promoted pieces, which revert
	// to pawns when captured
	PromotedSquares map[string]bool `json:"promotedSquares,omitempty"`

	// decay
	DecayActive  bool          `json:"decayActive,omitempty"`
	DecayTimers  *DecayTimers  `json:"decayTimers,omitempty"`
	FrozenPieces *FrozenPieces `json:"frozenPieces,omitempty"`

	// sixpointer
	MovesPlayed *MoveCounts  `json:"movesPlayed,omitempty"`
	MaxMoves    int          `json:"maxMoves,omitempty"`
	Points      *PointTotals `json:"points,omitempty"`
}

// NewBoard builds the initial state for a variant. Fischer960 draws a random
// back rank and SixPointer a random position from the balanced pool.
func NewBoard(variant, subvariant string) (*Board, error) {
	tc, err := controlFor(variant, subvariant)
	if err != nil {
		return nil, err
	}

	b := &Board{
		Variant:         variant,
		Subvariant:      subvariant,
		FEN:             StartPosFEN,
		ActiveColor:     White,
		WhiteTime:       tc.base,
		BlackTime:       tc.base,
		Increment:       tc.increment,
		MoveHistory:     make([]HistoryMove, 0),
		PositionHistory: make([]string, 0),
		CapturedPieces:  CapturedPieces{White: []string{}, Black: []string{}},
		RepetitionMap:   make(map[string]int),
	}

	switch variant {
	case VariantClassic:
		if subvariant == SubFischer960 {
			b.FEN = Random960StartFEN()
		}
	case VariantCrazyhouse:
		b.PromotedSquares = make(map[string]bool)
		if subvariant == SubCrazyhouseWithTimer {
			b.PocketedPieces = &PocketQueues{
				White: []PocketEntry{}, Black: []PocketEntry{}}
			b.DropTimers = &DropTimers{
				White: make(map[string]int64), Black: make(map[string]int64)}
		} else {
			b.PocketPieces = &PocketPieces{White: []string{}, Black: []string{}}
		}
	case VariantDecay:
		b.DecayTimers = &DecayTimers{}
		b.FrozenPieces = &FrozenPieces{White: []string{}, Black: []string{}}
	case VariantSixPointer:
		b.FEN = RandomBalancedFEN()
		b.MovesPlayed = &MoveCounts{}
		b.MaxMoves = sixPointerMaxMoves
		b.Points = &PointTotals{}
	}

	pos, err := FromFEN(b.FEN)
	if err != nil {
		return nil, err
	}
	b.ActiveColor = pos.SideToMove()
	b.PositionHistory = append(b.PositionHistory, b.FEN)

	// the starting position counts as its first occurrence
	if variant == VariantCrazyhouse {
		b.RepetitionMap[crazyhouseRepKey(b.FEN, nil, nil)] = 1
	} else {
		b.RepetitionMap[repetitionKey(b.FEN)] = 1
	}

	return b, nil
}

// ensureDefaults rehydrates container fields that a round trip through the
// serialized form may have left nil.
func (b *Board) ensureDefaults() {
	if b.MoveHistory == nil {
		b.MoveHistory = make([]HistoryMove, 0)
	}
	if b.PositionHistory == nil {
		b.PositionHistory = make([]string, 0)
	}
	if b.CapturedPieces.White == nil {
		b.CapturedPieces.White = []string{}
	}
	if b.CapturedPieces.Black == nil {
		b.CapturedPieces.Black = []string{}
	}
	if b.RepetitionMap == nil {
		b.RepetitionMap = make(map[string]int)
	}
	if b.Variant == VariantCrazyhouse {
		if b.PromotedSquares == nil {
			b.PromotedSquares = make(map[string]bool)
		}
		if b.Subvariant == SubCrazyhouseWithTimer {
			if b.PocketedPieces == nil {
				b.PocketedPieces = &PocketQueues{
					White: []PocketEntry{}, Black: []PocketEntry{}}
			}
			if b.DropTimers == nil {
				b.DropTimers = &DropTimers{}
			}
			if b.DropTimers.White == nil {
				b.DropTimers.White = make(map[string]int64)
			}
			if b.DropTimers.Black == nil {
				b.DropTimers.Black = make(map[string]int64)
			}
		} else if b.PocketPieces == nil {
			b.PocketPieces = &PocketPieces{White: []string{}, Black: []string{}}
		}
	}
	if b.Variant == VariantDecay {
		if b.DecayTimers == nil {
			b.DecayTimers = &DecayTimers{}
		}
		if b.FrozenPieces == nil {
			b.FrozenPieces = &FrozenPieces{White: []string{}, Black: []string{}}
		}
	}
	if b.Variant == VariantSixPointer {
		if b.MovesPlayed == nil {
			b.MovesPlayed = &MoveCounts{}
		}
		if b.Points == nil {
			b.Points = &PointTotals{}
		}
		if b.MaxMoves == 0 {
			b.MaxMoves = sixPointerMaxMoves
		}
	}
}

// Clone deep-copies the board. Engines operate on clones so a rejected move
// leaves the caller's state untouched.
func (b *Board) Clone() *Board {
	nb := *b
	nb.MoveHistory = append([]HistoryMove(nil), b.MoveHistory...)
	nb.PositionHistory = append([]string(nil), b.PositionHistory...)
	nb.CapturedPieces = CapturedPieces{
		White: append([]string(nil), b.CapturedPieces.White...),
		Black: append([]string(nil), b.CapturedPieces.Black...),
	}
	if b.RepetitionMap != nil {
		nb.RepetitionMap = make(map[string]int, len(b.RepetitionMap))
		for k, v := range b.RepetitionMap {
			nb.RepetitionMap[k] = v
		}
	}
	if b.PocketPieces != nil {
		nb.PocketPieces = &PocketPieces{
			White: append([]string(nil), b.PocketPieces.White...),
			Black: append([]string(nil), b.PocketPieces.Black...),
		}
	}
	if b.PocketedPieces != nil {
		nb.PocketedPieces = &PocketQueues{
			White: append([]PocketEntry(nil), b.PocketedPieces.White...),
			Black: append([]PocketEntry(nil), b.PocketedPieces.Black...),
		}
	}
	if b.DropTimers != nil {
		nb.DropTimers = &DropTimers{
			White: make(map[string]int64, len(b.DropTimers.White)),
			Black: make(map[string]int64, len(b.DropTimers.Black)),
		}
		for k, v := range b.DropTimers.White {
			nb.DropTimers.White[k] = v
		}
		for k, v := range b.DropTimers.Black {
			nb.DropTimers.Black[k] = v
		}
	}
	if b.PromotedSquares != nil {
		nb.PromotedSquares = make(map[string]bool, len(b.PromotedSquares))
		for k, v := range b.PromotedSquares {
			nb.PromotedSquares[k] = v
		}
	}
	if b.DecayTimers != nil {
		dt := *b.DecayTimers
		if b.DecayTimers.White.Queen != nil {
			q := *b.DecayTimers.White.Queen
			dt.White.Queen = &q
		}
		if b.DecayTimers.White.MajorPiece != nil {
			m := *b.DecayTimers.White.MajorPiece
			dt.White.MajorPiece = &m
		}
		if b.DecayTimers.Black.Queen != nil {
			q := *b.DecayTimers.Black.Queen
			dt.Black.Queen = &q
		}
		if b.DecayTimers.Black.MajorPiece != nil {
			m := *b.DecayTimers.Black.MajorPiece
			dt.Black.MajorPiece = &m
		}
		nb.DecayTimers = &dt
	}
	if b.FrozenPieces != nil {
		nb.FrozenPieces = &FrozenPieces{
			White: append([]string(nil), b.FrozenPieces.White...),
			Black: append([]string(nil), b.FrozenPieces.Black...),
		}
	}
	if b.MovesPlayed != nil {
		mc := *b.MovesPlayed
		nb.MovesPlayed = &mc
	}
	if b.Points != nil {
		pt := *b.Points
		nb.Points = &pt
	}
	return &nb
}

func (b *Board) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

func UnmarshalBoard(data []byte) (*Board, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	b.ensureDefaults()
	return &b, nil
}

func (b *Board) clockFor(c Color) int64 {
	if c == White {
		return b.WhiteTime
	} // else
	return b.BlackTime
}

func (b *Board) setClock(c Color, ms int64) {
	if c == White {
		b.WhiteTime = ms
	} else {
		b.BlackTime = ms
	}
}

func (b *Board) addCapture(by Color, letter string) {
	if by == White {
		b.CapturedPieces.White = append(b.CapturedPieces.White, letter)
	} else {
		b.CapturedPieces.Black = append(b.CapturedPieces.Black, letter)
	}
}

func (b *Board) frozenFor(c Color) []string {
	if b.FrozenPieces == nil {
		return nil
	}
	if c == White {
		return b.FrozenPieces.White
	} // else
	return b.FrozenPieces.Black
}

func (b *Board) addFrozen(c Color, token string) {
	if b.FrozenPieces == nil {
		b.FrozenPieces = &FrozenPieces{White: []string{}, Black: []string{}}
	}
	for _, have := range b.frozenFor(c) {
		if have == token {
			return
		}
	}
	if c == White {
		b.FrozenPieces.White = append(b.FrozenPieces.White, token)
	} else {
		b.FrozenPieces.Black = append(b.FrozenPieces.Black, token)
	}
}

func (b *Board) markEnded(reason string, winner Color, now int64) {
	b.GameEnded = true
	b.EndReason = reason
	b.WinnerColor = winner
	b.EndedAt = now
}
