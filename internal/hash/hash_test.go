package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMurmur64_Stable(t *testing.T) {
	// Known MurmurHash3 x64-128 vectors (seed 0), first half of the digest.
	assert.Equal(t, int64(0), Murmur64(nil))
	assert.Equal(t, int64(-3758069500696749310), Murmur64([]byte("hello")))
}

func TestMurmur64_IndependentCopies(t *testing.T) {
	a := []byte("join-key-17")
	b := append([]byte(nil), a...)
	assert.Equal(t, Murmur64(a), Murmur64(b))
	assert.NotEqual(t, Murmur64(a), Murmur64([]byte("join-key-18")))
}

func TestCRC32C(t *testing.T) {
	data := []byte("123456789")
	assert.Equal(t, uint32(0xe3069283), CRC32C(data))
	assert.NotEqual(t, CRC32C(data), CRC32C(data[:8]))
}
