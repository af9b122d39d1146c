package fx

// SortByY returns a permutation over [0, len(y)) such that
// y[perm[0]] <= y[perm[1]] <= ... <= y[perm[len-1]]. It is an LSD radix
// sort over yBits bits, radixBits at a time — spec.md §4.6 step 2's
// "radix/distribution sort with a fixed number of passes", the canonical
// choice for sorting fixed-width keys without per-comparison overhead.
func SortByY(y []uint64, yBits int) []uint32 {
	n := len(y)
	perm := make([]uint32, n)
	for i := range perm {
		perm[i] = uint32(i)
	}
	if n <= 1 {
		return perm
	}

	const radixBits = 8
	const radixSize = 1 << radixBits
	const radixMask = radixSize - 1

	buf := make([]uint32, n)
	var counts [radixSize]int

	for shift := 0; shift < yBits; shift += radixBits {
		for i := range counts {
			counts[i] = 0
		}
		for _, idx := range perm {
			d := int((y[idx] >> uint(shift)) & radixMask)
			counts[d]++
		}
		sum := 0
		for d := range counts {
			c := counts[d]
			counts[d] = sum
			sum += c
		}
		for _, idx := range perm {
			d := int((y[idx] >> uint(shift)) & radixMask)
			buf[counts[d]] = idx
			counts[d]++
		}
		perm, buf = buf, perm
	}
	return perm
}
