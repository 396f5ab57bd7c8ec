/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package arena

import "fmt"

// timeControl is a base clock plus per-move increment, both in ms.
type timeControl struct {
	base      int64
	increment int64
}

const (
	msPerSecond = int64(1000)
	msPerMinute = 60 * msPerSecond

	dropTimeLimitMs     = 10 * msPerSecond
	decayQueenInitialMs = 25 * msPerSecond
	decayMajorInitialMs = 20 * msPerSecond
	decayMoveBonusMs    = 2 * msPerSecond
	sixPointerPerMoveMs = 30 * msPerSecond
	sixPointerMaxMoves  = 6
)

func controlFor(variant, subvariant string) (timeControl, error) {
	switch variant {
	case VariantClassic:
		switch subvariant {
		case SubClassicStandard, SubFischer960:
			return timeControl{base: 10 * msPerMinute}, nil
		case SubClassicBlitz:
			return timeControl{base: 3 * msPerMinute, increment: 2 * msPerSecond}, nil
		case SubClassicBullet:
			return timeControl{base: 1 * msPerMinute, increment: 1 * msPerSecond}, nil
		}
		return timeControl{}, fmt.Errorf("classic: unknown subvariant %q", subvariant)
	case VariantCrazyhouse:
		switch subvariant {
		case SubCrazyhouseStandard, SubCrazyhouseWithTimer:
			return timeControl{base: 3 * msPerMinute, increment: 2 * msPerSecond}, nil
		}
		return timeControl{}, fmt.Errorf("crazyhouse: unknown subvariant %q", subvariant)
	case VariantDecay:
		return timeControl{base: 3 * msPerMinute, increment: 2 * msPerSecond}, nil
	case VariantSixPointer:
		// per-move clock, no baseline increment
		return timeControl{base: sixPointerPerMoveMs}, nil
	}
	return timeControl{}, fmt.Errorf("unknown variant %q", variant)
}

// KnownVariant reports whether the pair names a playable variant.
func KnownVariant(variant, subvariant string) bool {
	_, err := controlFor(variant, subvariant)
	return err == nil
}

// advanceMainClock deducts elapsed time from the active side. Returns true
// when that side's flag fell: exactly 0 counts as a timeout. Clocks do not
// run before the first move of the game.
func advanceMainClock(b *Board, now int64) bool {
	if !b.GameStarted {
		if b.TurnStartTimestamp == 0 {
			b.TurnStartTimestamp = now
		}
		return false
	}
	elapsed := now - b.TurnStartTimestamp
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := b.clockFor(b.ActiveColor) - elapsed
	if remaining <= 0 {
		b.setClock(b.ActiveColor, 0)
		return true
	}
	b.setClock(b.ActiveColor, remaining)
	b.TurnStartTimestamp = now
	return false
}
