package counter

// bitset packs bits into 64-bit words, bit 0 being the least
// significant bit of word 0.
type bitset []uint64

func newBitset(width int) bitset { return make(bitset, (width+63)/64) }

func (b bitset) get(n int) bool { return b[n/64]&(1<<uint(n%64)) != 0 }
func (b bitset) set(n int)      { b[n/64] |= 1 << uint(n%64) }
func (b bitset) clear(n int)    { b[n/64] &^= 1 << uint(n%64) }

// flip toggles bit n and returns its previous value.
func (b bitset) flip(n int) bool {
	prev := b.get(n)
	b[n/64] ^= 1 << uint(n%64)
	return prev
}

func (b bitset) reset() {
	for i := range b {
		b[i] = 0
	}
}

// high reports whether any bit at position 64 or above is set.
func (b bitset) high() bool {
	for _, w := range b[1:] {
		if w != 0 {
			return true
		}
	}
	return false
}
