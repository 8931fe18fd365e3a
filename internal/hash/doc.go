// Package hash provides the hash functions whose output crosses node
// boundaries and therefore must never change.
//
// # Term hashing
//
// Keyword terms are reduced to 64 bits with MurmurHash3 x64-128 (seed 0),
// keeping the first 64-bit half of the digest. Every shard hashes the same
// bytes to the same value, which is what makes shard-local term sets of
// hashed values mergeable:
//
//	h := hash.Murmur64([]byte("user-42"))
//
// # CRC32-Castagnoli (CRC32C)
//
// Encoded term sets carry a CRC32C trailer:
//
//	checksum := hash.CRC32C(data)
package hash
