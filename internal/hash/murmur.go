package hash

import "github.com/spaolacci/murmur3"

// Murmur64 returns the low 64 bits of MurmurHash3 x64-128 of b with seed 0.
func Murmur64(b []byte) int64 {
	h1, _ := murmur3.Sum128(b)
	return int64(h1)
}
