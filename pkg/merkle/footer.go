package merkle

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// HashSize is the width in bytes of a single tree node hash (SHA-256).
const HashSize = 32

const (
	hashAlgSHA256 uint32 = 1

	footerFixedFields = 8 + 4 + 4 + 8 + 8 + 8 + 8 + 8 // up to footerSize, exclusive of footerSize+crc
	footerSize        = footerFixedFields + 4 + 4     // + footerSize + footerCrc32
)

// magicReference and magicState are the little-endian u64 encodings of the
// literal ASCII strings "MREFv001" and "MRKLv001" per §6.1/§6.2.
var (
	magicReference = binary.LittleEndian.Uint64([]byte("MREFv001"))
	magicState     = binary.LittleEndian.Uint64([]byte("MRKLv001"))
)

// footer is the fixed little-endian trailer shared by .mref and .mrkl
// files, per §6.1/§6.2. footerSize and footerCrc32 are filled in by encode.
type footer struct {
	Magic      uint64
	Version    uint32
	HashAlg    uint32
	FileSize   uint64
	ChunkSize  uint64
	ChunkCount uint64
	LeafCount  uint64
	NodeCount  uint64
}

func (f footer) encode() []byte {
	buf := make([]byte, footerSize)
	off := 0
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}

	putU64(f.Magic)
	putU32(f.Version)
	putU32(f.HashAlg)
	putU64(f.FileSize)
	putU64(f.ChunkSize)
	putU64(f.ChunkCount)
	putU64(f.LeafCount)
	putU64(f.NodeCount)
	putU32(uint32(footerSize))

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf
}

func decodeFooter(buf []byte, wantMagic uint64) (footer, error) {
	if len(buf) != footerSize {
		return footer{}, fmt.Errorf("merkle: footer has %d bytes, want %d", len(buf), footerSize)
	}

	off := 0
	getU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		return v
	}
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		return v
	}

	var f footer
	f.Magic = getU64()
	f.Version = getU32()
	f.HashAlg = getU32()
	f.FileSize = getU64()
	f.ChunkSize = getU64()
	f.ChunkCount = getU64()
	f.LeafCount = getU64()
	f.NodeCount = getU64()
	storedFooterSize := getU32()
	storedCrc := binary.LittleEndian.Uint32(buf[off:])

	if f.Magic != wantMagic {
		return footer{}, fmt.Errorf("%w: bad magic %x", ErrInvalidReference, f.Magic)
	}
	if f.Version != 1 {
		return footer{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidReference, f.Version)
	}
	if f.HashAlg != hashAlgSHA256 {
		return footer{}, fmt.Errorf("%w: unsupported hash algorithm %d", ErrInvalidReference, f.HashAlg)
	}
	if int(storedFooterSize) != footerSize {
		return footer{}, fmt.Errorf("%w: footer size %d, want %d", ErrInvalidReference, storedFooterSize, footerSize)
	}

	gotCrc := crc32.ChecksumIEEE(buf[:off])
	if gotCrc != storedCrc {
		return footer{}, fmt.Errorf("%w: footer CRC32 mismatch", ErrInvalidReference)
	}

	return f, nil
}

func (f footer) shape() (Shape, error) {
	return NewShape(f.FileSize, f.ChunkSize)
}

func shapeToFooter(s Shape, magic uint64) footer {
	return footer{
		Magic:      magic,
		Version:    1,
		HashAlg:    hashAlgSHA256,
		FileSize:   s.FileSize,
		ChunkSize:  s.ChunkSize,
		ChunkCount: s.C,
		LeafCount:  s.L,
		NodeCount:  s.N,
	}
}
