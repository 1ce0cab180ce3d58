package merkle

import (
	"fmt"
	"os"
	"sync"
)

// State is the mutable, crash-recoverable local sidecar tracking which
// chunks have been verified against a Reference (§4.4, §6.2).
//
// isValid/markValid are safe for concurrent use; the happens-before
// contract of §5 holds: a reader observing isValid(i)=true is guaranteed
// to see the cache bytes for chunk i, because markValid only flips the bit
// after the caller has already committed those bytes to the cache file.
type State struct {
	path  string
	shape Shape

	mu   sync.Mutex
	bits []byte // ceil(L/8) bytes, bit i = chunk i verified
	file *os.File

	hashes [][HashSize]byte // copy of the reference's hash table
}

func bitsetLen(l uint64) int {
	return int((l + 7) / 8)
}

// CreateState builds a fresh State for reference, all chunks unverified,
// and persists it to path.
func CreateState(path string, ref *Reference) (*State, error) {
	shape := ref.Shape()
	hashes := make([][HashSize]byte, shape.N)
	for i := uint64(0); i < shape.N; i++ {
		hashes[i] = ref.Hash(i)
	}
	bits := make([]byte, bitsetLen(shape.L))

	s := &State{
		path:   path,
		shape:  shape,
		bits:   bits,
		hashes: hashes,
	}
	if err := s.writeFull(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("merkle: reopen state %s: %w", path, err)
	}
	s.file = f
	return s, nil
}

// LoadState opens an existing .mrkl file at path and validates its shape
// against ref.
func LoadState(path string, ref *Reference) (*State, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("merkle: open state %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("merkle: stat state %s: %w", path, err)
	}
	size := info.Size()
	if size < footerSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s shorter than footer", ErrInvalidReference, path)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, size-footerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("merkle: read state footer %s: %w", path, err)
	}
	ft, err := decodeFooter(footerBuf, magicState)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("merkle: %s: %w", path, err)
	}
	shape, err := ft.shape()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidReference, path, err)
	}

	refShape := ref.Shape()
	if shape.FileSize != refShape.FileSize || shape.ChunkSize != refShape.ChunkSize {
		f.Close()
		return nil, fmt.Errorf("%w: state %s (size=%d,chunk=%d) vs reference (size=%d,chunk=%d)",
			ErrStateMismatch, path, shape.FileSize, shape.ChunkSize, refShape.FileSize, refShape.ChunkSize)
	}

	bodyLen := int64(shape.N) * HashSize
	bitsLen := int64(bitsetLen(shape.L))
	wantSize := bodyLen + bitsLen + footerSize
	if size != wantSize {
		f.Close()
		return nil, fmt.Errorf("%w: state %s has %d bytes, want %d", ErrInvalidReference, path, size, wantSize)
	}

	hashBuf := make([]byte, bodyLen)
	if _, err := f.ReadAt(hashBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("merkle: read state hash block %s: %w", path, err)
	}
	hashes := make([][HashSize]byte, shape.N)
	for i := range hashes {
		copy(hashes[i][:], hashBuf[i*HashSize:(i+1)*HashSize])
	}

	bits := make([]byte, bitsLen)
	if _, err := f.ReadAt(bits, bodyLen); err != nil {
		f.Close()
		return nil, fmt.Errorf("merkle: read state bitset %s: %w", path, err)
	}

	return &State{
		path:   path,
		shape:  shape,
		bits:   bits,
		hashes: hashes,
		file:   f,
	}, nil
}

// Shape returns the tree geometry this state tracks.
func (s *State) Shape() Shape {
	return s.shape
}

// QuickSummary reads a .mrkl file's shape and verified-chunk count
// without a companion Reference, for tools (like the merkle summary
// CLI command) that only need to report progress, not re-verify
// content. It skips loading the hash block entirely.
func QuickSummary(path string) (shape Shape, validCount uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return Shape{}, 0, fmt.Errorf("merkle: open state %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Shape{}, 0, fmt.Errorf("merkle: stat state %s: %w", path, err)
	}
	size := info.Size()
	if size < footerSize {
		return Shape{}, 0, fmt.Errorf("%w: %s shorter than footer", ErrInvalidReference, path)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, size-footerSize); err != nil {
		return Shape{}, 0, fmt.Errorf("merkle: read state footer %s: %w", path, err)
	}
	ft, err := decodeFooter(footerBuf, magicState)
	if err != nil {
		return Shape{}, 0, fmt.Errorf("merkle: %s: %w", path, err)
	}
	shape, err = ft.shape()
	if err != nil {
		return Shape{}, 0, fmt.Errorf("%w: %s: %v", ErrInvalidReference, path, err)
	}

	bodyLen := int64(shape.N) * HashSize
	bitsLen := int64(bitsetLen(shape.L))
	wantSize := bodyLen + bitsLen + footerSize
	if size != wantSize {
		return Shape{}, 0, fmt.Errorf("%w: state %s has %d bytes, want %d", ErrInvalidReference, path, size, wantSize)
	}

	bits := make([]byte, bitsLen)
	if _, err := f.ReadAt(bits, bodyLen); err != nil {
		return Shape{}, 0, fmt.Errorf("merkle: read state bitset %s: %w", path, err)
	}

	var n uint64
	for i := uint64(0); i < shape.C; i++ {
		byteIdx := i / 8
		bitMask := byte(1) << (i % 8)
		if bits[byteIdx]&bitMask != 0 {
			n++
		}
	}
	return shape, n, nil
}

// Hash returns the stored hash at nodeIdx (copied from the reference at
// creation time; never mutated thereafter).
func (s *State) Hash(nodeIdx uint64) [HashSize]byte {
	return s.hashes[nodeIdx]
}

func (s *State) bitsOffset() int64 {
	return int64(s.shape.N) * HashSize
}

// IsValid reports whether chunk i has been verified locally.
func (s *State) IsValid(chunkIdx uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitLocked(chunkIdx)
}

func (s *State) bitLocked(chunkIdx uint64) bool {
	byteIdx := chunkIdx / 8
	bitMask := byte(1) << (chunkIdx % 8)
	return s.bits[byteIdx]&bitMask != 0
}

// MarkValid records that chunk i's cache bytes have been written and
// hashed successfully. It is idempotent and durably persists the bit
// before returning successfully.
func (s *State) MarkValid(chunkIdx uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bitLocked(chunkIdx) {
		return nil
	}

	byteIdx := chunkIdx / 8
	bitMask := byte(1) << (chunkIdx % 8)
	s.bits[byteIdx] |= bitMask

	if s.file == nil {
		return nil // in-memory-only (degraded) mode; the caller holds the error that caused it
	}

	if _, err := s.file.WriteAt(s.bits[byteIdx:byteIdx+1], s.bitsOffset()+int64(byteIdx)); err != nil {
		s.bits[byteIdx] &^= bitMask // roll back in-memory state to match disk
		return fmt.Errorf("merkle: persist valid bit for chunk %d: %w", chunkIdx, err)
	}
	if err := s.file.Sync(); err != nil {
		s.bits[byteIdx] &^= bitMask
		return fmt.Errorf("merkle: fsync valid bit for chunk %d: %w", chunkIdx, err)
	}

	// Rewrite the footer as a commit barrier: by the time this second
	// fsync returns, the preceding bitset write is guaranteed durable,
	// per the ordered-writes scheme of §6.2.
	ft := shapeToFooter(s.shape, magicState)
	if _, err := s.file.WriteAt(ft.encode(), s.bitsOffset()+int64(len(s.bits))); err != nil {
		return fmt.Errorf("merkle: persist footer after chunk %d: %w", chunkIdx, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("merkle: fsync footer after chunk %d: %w", chunkIdx, err)
	}

	return nil
}

// MissingChunksInRange returns the sorted list of chunk indices in
// [first, last] (inclusive) that are not yet valid.
func (s *State) MissingChunksInRange(first, last uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []uint64
	for i := first; i <= last; i++ {
		if !s.bitLocked(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// ValidCount returns the number of chunks currently marked valid.
func (s *State) ValidCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n uint64
	for i := uint64(0); i < s.shape.C; i++ {
		if s.bitLocked(i) {
			n++
		}
	}
	return n
}

// Degrade switches the state into in-memory-only mode: further MarkValid
// calls update the bitset in memory but no longer persist to disk. Used
// when a LocalIoError makes further persistence unsafe (§7).
func (s *State) Degrade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// Close flushes and releases the state's file handle.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *State) writeFull() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("merkle: create state %s: %w", s.path, err)
	}
	defer f.Close()

	for _, h := range s.hashes {
		if _, err := f.Write(h[:]); err != nil {
			return fmt.Errorf("merkle: write state hash block: %w", err)
		}
	}
	if _, err := f.Write(s.bits); err != nil {
		return fmt.Errorf("merkle: write state bitset: %w", err)
	}
	ft := shapeToFooter(s.shape, magicState)
	if _, err := f.Write(ft.encode()); err != nil {
		return fmt.Errorf("merkle: write state footer: %w", err)
	}
	return f.Sync()
}
