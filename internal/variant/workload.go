package variant

// roundSize is the number of additions in one unit of work.
const roundSize = 100000

// Burn performs iterations rounds of CPU-bound work and returns the
// accumulated counter. Callers must use the result.
func Burn(iterations int) uint64 {
	var counter uint64
	for i := 0; i < iterations; i++ {
		for j := 0; j < roundSize; j++ {
			counter += uint64(j)
		}
	}
	return counter
}

// Expected returns what Burn(iterations) evaluates to.
func Expected(iterations int) uint64 {
	if iterations <= 0 {
		return 0
	}
	return uint64(iterations) * (roundSize * (roundSize - 1) / 2)
}
