/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

var ErrInvalidFEN = errors.New("invalid fen")
var ErrSquareOccupied = errors.New("square occupied")

// Color is the engine-facing side identifier. The serialized form is the
// long name; the FEN form is derived via short().
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	} // else
	return White
}

func (c Color) short() string {
	if c == White {
		return "w"
	} // else
	return "b"
}

func colorFromShort(s string) Color {
	if s == "w" {
		return White
	} // else
	return Black
}

// MoveInfo is the verbose move record returned by LegalMoves and Apply.
// Piece and Captured are lowercase FEN letters; squares are algebraic.
type MoveInfo struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Piece     string `json:"piece"`
	San       string `json:"san,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Captured  string `json:"captured,omitempty"`
	Capture   bool   `json:"capture,omitempty"`
	Drop      bool   `json:"drop,omitempty"`
}

// Position is a thin capability layer over the embedded rule engine. A
// position is always rebuilt from FEN, so it carries no history; repetition
// and variant state are tracked by the engines, not here.
type Position struct {
	game *chess.Game
}

func FromFEN(fen string) (*Position, error) {
	if strings.TrimSpace(fen) == "" {
		return nil, ErrInvalidFEN
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return &Position{game: chess.NewGame(opt)}, nil
}

func (p *Position) FEN() string {
	return p.game.Position().String()
}

func (p *Position) SideToMove() Color {
	return colorFromShort(p.game.Position().Turn().String())
}

func (p *Position) LegalMoves() []MoveInfo {
	pos := p.game.Position()
	valid := pos.ValidMoves()
	out := make([]MoveInfo, 0, len(valid))
	for _, mv := range valid {
		out = append(out, p.describe(mv))
	}
	return out
}

func (p *Position) describe(mv *chess.Move) MoveInfo {
	pos := p.game.Position()
	info := MoveInfo{
		From: mv.S1().String(),
		To:   mv.S2().String(),
		San:  chess.AlgebraicNotation{}.Encode(pos, mv),
	}
	if pc := pos.Board().Piece(mv.S1()); pc != chess.NoPiece {
		info.Piece = pieceLetter(pc.Type())
	}
	if mv.Promo() != chess.NoPieceType {
		info.Promotion = pieceLetter(mv.Promo())
	}
	if mv.HasTag(chess.Capture) || mv.HasTag(chess.EnPassant) {
		info.Capture = true
		if mv.HasTag(chess.EnPassant) {
			info.Captured = "p"
		} else if pc := pos.Board().Piece(mv.S2()); pc != chess.NoPiece {
			info.Captured = pieceLetter(pc.Type())
		}
	}
	return info
}

// Apply plays from→to(+promotion) if it is legal, advancing the position in
// place. Returns nil when no legal move matches.
func (p *Position) Apply(from, to, promotion string) *MoveInfo {
	pos := p.game.Position()
	for _, mv := range pos.ValidMoves() {
		if mv.S1().String() != from || mv.S2().String() != to {
			continue
		}
		if promotion != "" {
			if mv.Promo() == chess.NoPieceType ||
				pieceLetter(mv.Promo()) != strings.ToLower(promotion) {
				continue
			}
		} else if mv.Promo() != chess.NoPieceType {
			continue
		}
		info := p.describe(mv)
		if err := p.game.Move(mv); err != nil {
			return nil
		}
		return &info
	}

	return nil
}

func (p *Position) PieceAt(square string) (string, Color, bool) {
	idx, err := squareIdx(square)
	if err != nil {
		return "", "", false
	}
	pc := p.game.Position().Board().Piece(chess.Square(idx))
	if pc == chess.NoPiece {
		return "", "", false
	}
	return pieceLetter(pc.Type()), colorFromShort(pc.Color().String()), true
}

// Place puts a piece on an empty square without changing whose turn it is.
// Used both for applying drops and for probing whether a pocketed piece can
// resolve check.
func (p *Position) Place(letter string, color Color, square string) error {
	fen, err := placeInFEN(p.FEN(), letter, color, square)
	if err != nil {
		return err
	}
	np, err := FromFEN(fen)
	if err != nil {
		return err
	}
	p.game = np.game
	return nil
}

// EndDropTurn completes a drop: the side to move passes to the opponent and
// the move counters advance. Pawn drops reset the halfmove clock.
func (p *Position) EndDropTurn(pawnDrop bool) error {
	fields := strings.Fields(p.FEN())
	if len(fields) != 6 {
		return ErrInvalidFEN
	}
	mover := colorFromShort(fields[1])
	fields[1] = mover.Other().short()
	fields[3] = "-"
	if pawnDrop {
		fields[4] = "0"
	} else if n, err := strconv.Atoi(fields[4]); err == nil {
		fields[4] = strconv.Itoa(n + 1)
	}
	if mover == Black {
		if n, err := strconv.Atoi(fields[5]); err == nil {
			fields[5] = strconv.Itoa(n + 1)
		}
	}
	np, err := FromFEN(strings.Join(fields, " "))
	if err != nil {
		return err
	}
	p.game = np.game
	return nil
}

// PassTurn flips the side to move without a move being played (SixPointer
// per-move timeout). The en-passant square is cleared.
func (p *Position) PassTurn() error {
	fields := strings.Fields(p.FEN())
	if len(fields) != 6 {
		return ErrInvalidFEN
	}
	mover := colorFromShort(fields[1])
	fields[1] = mover.Other().short()
	fields[3] = "-"
	if mover == Black {
		if n, err := strconv.Atoi(fields[5]); err == nil {
			fields[5] = strconv.Itoa(n + 1)
		}
	}
	np, err := FromFEN(strings.Join(fields, " "))
	if err != nil {
		return err
	}
	p.game = np.game
	return nil
}

func (p *Position) InCheck() bool {
	bd, err := boardArray(p.FEN())
	if err != nil {
		return false
	}
	mover := p.SideToMove()
	ksq := kingSquare(bd, mover)
	if ksq < 0 {
		return false
	}
	return attacked(bd, ksq, mover.Other())
}

func (p *Position) IsCheckmate() bool {
	return p.game.Position().Status() == chess.Checkmate
}

func (p *Position) IsStalemate() bool {
	return p.game.Position().Status() == chess.Stalemate
}

// InsufficientMaterial reports dead positions: K vs K, K+minor vs K, and
// K+B vs K+B with same-colored bishops. The rule engine only evaluates this
// over a full game history, which a FEN-rebuilt position does not have.
func (p *Position) InsufficientMaterial() bool {
	bd, err := boardArray(p.FEN())
	if err != nil {
		return false
	}
	minors := make([]int, 0, 2)
	for sq, pc := range bd {
		switch pc {
		case 0, 'k', 'K':
			continue
		case 'b', 'B', 'n', 'N':
			minors = append(minors, sq)
		default:
			return false
		}
	}
	switch len(minors) {
	case 0, 1:
		return true
	case 2:
		a, b := bd[minors[0]], bd[minors[1]]
		if (a == 'b' && b == 'B') || (a == 'B' && b == 'b') {
			// same shade bishops only
			return squareShade(minors[0]) == squareShade(minors[1])
		}
		return false
	}
	return false
}

func (p *Position) HalfMoveClock() int {
	fields := strings.Fields(p.FEN())
	if len(fields) != 6 {
		return 0
	}
	n, _ := strconv.Atoi(fields[4])
	return n
}

/*
 * FEN board helpers. Index 0 is a1, 63 is h8.
 */

func squareIdx(square string) (int, error) {
	if len(square) != 2 {
		return 0, fmt.Errorf("bad square %q", square)
	}
	file := int(square[0] - 'a')
	rank := int(square[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, fmt.Errorf("bad square %q", square)
	}
	return rank*8 + file, nil
}

func algSquare(idx int) string {
	return fmt.Sprintf("%c%c", 'a'+idx%8, '1'+idx/8)
}

func squareShade(idx int) int {
	return (idx/8 + idx%8) % 2
}

func boardArray(fen string) ([64]byte, error) {
	var bd [64]byte
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return bd, ErrInvalidFEN
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return bd, ErrInvalidFEN
	}
	for r, rankStr := range ranks {
		rank := 7 - r
		file := 0
		for _, ch := range rankStr {
			if ch >= '1' && ch <= '8' {
				file += int(ch - '0')
				continue
			}
			if file > 7 {
				return bd, ErrInvalidFEN
			}
			bd[rank*8+file] = byte(ch)
			file++
		}
		if file != 8 {
			return bd, ErrInvalidFEN
		}
	}
	return bd, nil
}

func boardField(bd [64]byte) string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			pc := bd[rank*8+file]
			if pc == 0 {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteByte(pc)
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

func placeInFEN(fen, letter string, color Color, square string) (string, error) {
	fields := strings.Fields(fen)
	if len(fields) != 6 {
		return "", ErrInvalidFEN
	}
	bd, err := boardArray(fen)
	if err != nil {
		return "", err
	}
	idx, err := squareIdx(square)
	if err != nil {
		return "", err
	}
	if bd[idx] != 0 {
		return "", ErrSquareOccupied
	}
	pc := strings.ToLower(letter)
	if len(pc) != 1 || !strings.Contains("pnbrq", pc) {
		return "", fmt.Errorf("bad drop piece %q", letter)
	}
	if color == White {
		bd[idx] = strings.ToUpper(pc)[0]
	} else {
		bd[idx] = pc[0]
	}
	fields[0] = boardField(bd)
	return strings.Join(fields, " "), nil
}

func colorOfLetter(b byte) Color {
	if b >= 'A' && b <= 'Z' {
		return White
	} // else
	return Black
}

var knightJumps = [][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
var kingSteps = [][2]int{
	{0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}}
var rookRays = [][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}
var bishopRays = [][2]int{{1, 1}, {1, -1}, {-1, -1}, {-1, 1}}

func kingSquare(bd [64]byte, color Color) int {
	want := byte('k')
	if color == White {
		want = 'K'
	}
	for sq, pc := range bd {
		if pc == want {
			return sq
		}
	}
	return -1
}

// attacked reports whether sq is attacked by any piece of the given color.
// The rule engine keeps its attack tables private, so the scan is done on
// the plain board mirror.
func attacked(bd [64]byte, sq int, by Color) bool {
	file, rank := sq%8, sq/8

	at := func(f, r int) byte {
		if f < 0 || f > 7 || r < 0 || r > 7 {
			return 0
		}
		return bd[r*8+f]
	}
	owned := func(pc byte, letters string) bool {
		if pc == 0 || colorOfLetter(pc) != by {
			return false
		}
		return strings.ContainsRune(letters, rune(pc|0x20))
	}

	// pawns attack toward the enemy side
	dir := 1
	if by == Black {
		dir = -1
	}
	if owned(at(file-1, rank-dir), "p") || owned(at(file+1, rank-dir), "p") {
		return true
	}

	for _, d := range knightJumps {
		if owned(at(file+d[0], rank+d[1]), "n") {
			return true
		}
	}
	for _, d := range kingSteps {
		if owned(at(file+d[0], rank+d[1]), "k") {
			return true
		}
	}
	for _, d := range rookRays {
		for i := 1; i < 8; i++ {
			pc := at(file+d[0]*i, rank+d[1]*i)
			if pc == 0 {
				continue
			}
			if owned(pc, "rq") {
				return true
			}
			break
		}
	}
	for _, d := range bishopRays {
		for i := 1; i < 8; i++ {
			pc := at(file+d[0]*i, rank+d[1]*i)
			if pc == 0 {
				continue
			}
			if owned(pc, "bq") {
				return true
			}
			break
		}
	}

	return false
}

func pieceLetter(pt chess.PieceType) string {
	switch pt {
	case chess.King:
		return "k"
	case chess.Queen:
		return "q"
	case chess.Rook:
		return "r"
	case chess.Bishop:
		return "b"
	case chess.Knight:
		return "n"
	case chess.Pawn:
		return "p"
	}
	return ""
}
