package merkle

import "crypto/sha256"

// ZeroHash is the all-zero 32-byte value assigned to phantom leaves.
var ZeroHash [HashSize]byte

// HashChunk computes the leaf hash of exact chunk bytes: SHA-256(data).
func HashChunk(data []byte) [HashSize]byte {
	return sha256.Sum256(data)
}

// HashParent computes an internal node's hash from its two children's
// hashes: SHA-256(left || right).
func HashParent(left, right [HashSize]byte) [HashSize]byte {
	var buf [2 * HashSize]byte
	copy(buf[:HashSize], left[:])
	copy(buf[HashSize:], right[:])
	return sha256.Sum256(buf[:])
}

// BuildTree computes all N node hashes in heap order given the C real leaf
// chunk hashes (phantom leaves get ZeroHash). hashes must be pre-sized to
// N entries; leaves [shape.I, shape.I+shape.C) must already be populated by
// the caller before calling BuildTree — it only fills in phantom leaves and
// internal nodes.
func BuildTree(shape Shape, hashes [][HashSize]byte) {
	for i := shape.I + shape.C; i < shape.N; i++ {
		hashes[i] = ZeroHash
	}
	// Internal nodes in reverse heap order: since children always have a
	// larger index than their parent, processing I-1 downto 0 guarantees
	// both children are finalized before their parent is computed.
	for i := int64(shape.I) - 1; i >= 0; i-- {
		left, right := shape.Children(uint64(i))
		hashes[i] = HashParent(hashes[left], hashes[right])
	}
}
