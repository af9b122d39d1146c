package fx

// Pair is one matched (left, right) entry pair within a sorted bucket.
// Left and Left+Delta are both indices into that bucket's sorted-by-y
// entry order (spec.md §4.6 step 6: "pair data (left, right_delta)").
type Pair struct {
	Left  uint32
	Delta uint32
}

// Match scans sortedY (ascending) and emits every valid kBC-matched pair,
// per spec.md §4.6 step 3: entries are grouped into runs sharing the same
// group = y / KBC; for every pair of adjacent groups (groupR = groupL+1),
// every left entry is checked against its precomputed target set.
//
// Matches are emitted in (groupL, localL, target index) order, which is
// exactly scan order here, satisfying spec.md §4.6's determinism
// requirement for the pair stream.
func Match(sortedY []uint64) []Pair {
	targets := LTargets()
	var pairs []Pair

	n := len(sortedY)
	var rIndex map[uint16][]int32

	for i := 0; i < n; {
		groupL := sortedY[i] / KBC
		j := i
		for j < n && sortedY[j]/KBC == groupL {
			j++
		}
		if j >= n || sortedY[j]/KBC != groupL+1 {
			i = j
			continue
		}
		k := j
		for k < n && sortedY[k]/KBC == groupL+1 {
			k++
		}

		parity := groupL & 1
		groupLStart := groupL * KBC
		groupRStart := (groupL + 1) * KBC

		if rIndex == nil {
			rIndex = make(map[uint16][]int32, k-j)
		} else {
			for key := range rIndex {
				delete(rIndex, key)
			}
		}
		for idx := j; idx < k; idx++ {
			localR := uint16(sortedY[idx] - groupRStart)
			rIndex[localR] = append(rIndex[localR], int32(idx))
		}

		for li := i; li < j; li++ {
			localL := uint16(sortedY[li] - groupLStart)
			cand := &targets[parity][localL]
			for m := 0; m < KExtraBitsPow; m++ {
				ri, ok := rIndex[cand[m]]
				if !ok {
					continue
				}
				for _, idx := range ri {
					pairs = append(pairs, Pair{Left: uint32(li), Delta: uint32(idx - int32(li))})
				}
			}
		}

		i = j
	}
	return pairs
}
