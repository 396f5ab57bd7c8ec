/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import (
	_ "embed"
	"math/rand"
	"strings"
	"sync"
)

//go:embed data/balanced_fens.txt
var balancedFensText string

var (
	oncePool     sync.Once
	balancedFens []string
)

func buildFenPool() {
	for _, line := range strings.Split(balancedFensText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		balancedFens = append(balancedFens, line)
	}
}

// BalancedFENPool returns the curated sixpointer starting set.
func BalancedFENPool() []string {
	oncePool.Do(buildFenPool)
	out := make([]string, len(balancedFens))
	copy(out, balancedFens)
	return out
}

// RandomBalancedFEN draws one starting position uniformly from the pool.
func RandomBalancedFEN() string {
	oncePool.Do(buildFenPool)
	return balancedFens[rand.Intn(len(balancedFens))]
}
