package fx

import "sync"

// kB and kC are the two coprime bucket-grouping factors whose product is
// kBC (spec.md §6: kBC = 15113 = 119 * 127). Every y value's "local"
// position within its kBC-sized group decomposes as b*kC + c; the target
// table below is built directly from that decomposition, per the published
// Chia proof-of-space matching function this repo's kBC grouping models.
const (
	kB  = 119
	kC  = 127
	KBC = kB * kC // 15113
)

// KExtraBitsPow is 2^kExtraBits (spec.md §6): the number of candidate
// right-side targets checked per left entry during matching.
const KExtraBitsPow = 1 << 6

// lTargets[parity][localL][m] is the localR value that, together with a
// left entry at localL in a group of the given parity, constitutes a valid
// match for candidate index m.
var (
	lTargetsOnce sync.Once
	lTargets     [2][KBC][KExtraBitsPow]uint16
)

// LTargets returns the shared, lazily-built kBC match target table.
// Building it is pure arithmetic over constants (no I/O, no randomness), so
// memoizing it behind a sync.Once keeps every caller's first read cheap
// without recomputing the ~2M-entry table per table pass.
func LTargets() *[2][KBC][KExtraBitsPow]uint16 {
	lTargetsOnce.Do(buildLTargets)
	return &lTargets
}

func buildLTargets() {
	for parity := 0; parity < 2; parity++ {
		for i := 0; i < KBC; i++ {
			bId := i / kC
			cId := i % kC
			for m := 0; m < KExtraBitsPow; m++ {
				targetB := (bId + m) % kB
				sq := (2*m + parity) * (2*m + parity)
				var targetC int
				if parity == 0 {
					targetC = (cId + sq) % kC
				} else {
					targetC = (cId - sq) % kC
					if targetC < 0 {
						targetC += kC
					}
				}
				lTargets[parity][i][m] = uint16(targetB*kC + targetC)
			}
		}
	}
}
