/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// Fischer960 starting positions: every permutation of the back rank where
// the king sits between the rooks and the bishops occupy opposite shades.
// There are exactly 960 of them.

var (
	once960 sync.Once
	fens960 []string
)

func backRankLegal(rank []rune) bool {
	kingIdx := -1
	rookIdxs := make([]int, 0, 2)
	bishopIdxs := make([]int, 0, 2)

	for ii, pc := range rank {
		switch pc {
		case 'k':
			kingIdx = ii
		case 'r':
			rookIdxs = append(rookIdxs, ii)
		case 'b':
			bishopIdxs = append(bishopIdxs, ii)
		}
	}

	if len(rookIdxs) != 2 || len(bishopIdxs) != 2 || kingIdx == -1 {
		return false
	}
	if kingIdx < rookIdxs[0] || kingIdx > rookIdxs[1] {
		return false
	}
	return bishopIdxs[0]%2 != bishopIdxs[1]%2
}

func addBackRankPermutations(rank []rune, leftIdx int, uniq map[string]bool) {
	lastIdx := len(rank) - 1
	if leftIdx == lastIdx {
		if backRankLegal(rank) {
			uniq[string(rank)] = true
		}
		return
	}

	for ii := leftIdx; ii <= lastIdx; ii++ {
		rank[leftIdx], rank[ii] = rank[ii], rank[leftIdx]
		addBackRankPermutations(rank, leftIdx+1, uniq)
		rank[leftIdx], rank[ii] = rank[ii], rank[leftIdx]
	}
}

func build960() {
	uniq := make(map[string]bool)
	addBackRankPermutations([]rune("rrnnbbqk"), 0, uniq)

	fens960 = make([]string, 0, len(uniq))
	for rank := range uniq {
		fen := fmt.Sprintf("%v/pppppppp/8/8/8/8/PPPPPPPP/%v w KQkq - 0 1",
			rank, strings.ToUpper(rank))
		fens960 = append(fens960, fen)
	}
	sort.Strings(fens960)
}

// All960StartFENs returns the full Chess960 starting set, sorted.
func All960StartFENs() []string {
	once960.Do(build960)
	out := make([]string, len(fens960))
	copy(out, fens960)
	return out
}

// Random960StartFEN draws one starting position uniformly.
func Random960StartFEN() string {
	once960.Do(build960)
	return fens960[rand.Intn(len(fens960))]
}
