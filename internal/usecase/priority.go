// File: internal/usecase/priority.go
package usecase

import (
	"time"

	"membership-engine/internal/domain/model"
)

// Priority ordering for chain placement, most significant key first:
//  1. LevelWeight descending (bigger tier wins).
//  2. IsCompensation ascending (a regular entitlement outranks a compensation
//     one at equal weight).
//  3. CreatedAt ascending (earlier purchase outranks a later one).
//
// There is no further tie-break: a full tie compares as 0 and stable sorting
// preserves insertion order.

// Compare returns +1 when a outranks b, -1 when b outranks a, 0 on a full tie.
func Compare(a, b *model.Entitlement) int {
	if a.LevelWeight != b.LevelWeight {
		if a.LevelWeight > b.LevelWeight {
			return 1
		}
		return -1
	}
	if a.IsCompensation != b.IsCompensation {
		if !a.IsCompensation {
			return 1
		}
		return -1
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return -1
	}
	return 0
}

const (
	scoreWeightStride = 1 << 21
	scoreCompPenalty  = 1 << 20
)

// scoreHorizon normalizes creation timestamps into [0,1); any CreatedAt this
// engine will ever see is far below it.
var scoreHorizon = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// Score projects the same ordering onto a single number for bulk re-sorting
// during chain repair: weight dominates, compensation costs half a stride, and
// an inverted normalized creation time breaks the remaining ties so that
// earlier entitlements score higher.
func Score(e *model.Entitlement) float64 {
	s := float64(e.LevelWeight) * scoreWeightStride
	if e.IsCompensation {
		s -= scoreCompPenalty
	}
	frac := float64(e.CreatedAt.Unix()) / float64(scoreHorizon.Unix())
	return s + (1 - frac)
}
