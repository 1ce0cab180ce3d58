// Package vecfile decodes the fvec/ivec/bvec vector file formats used
// throughout the ANN-benchmark ecosystem: a flat sequence of
// fixed-layout records, each prefixed by its own dimension. These
// decoders are byte-level readers layered on top of the random-access
// storage layer (pkg/store, pkg/catalog) — they never touch a network
// or cache themselves.
package vecfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// recordHeaderSize is the 4-byte little-endian dimension prefix every
// record in these formats carries.
const recordHeaderSize = 4

// Reader decodes one vector (or index/distance) record at a time from
// an io.ReaderAt, without loading the whole file into memory.
type Reader struct {
	src       io.ReaderAt
	elemSize  int // bytes per element: 4 for fvec/ivec, 1 for bvec
	dimension int // fixed per file, read from the first record
	stride    int64
	count     int64
}

// newReader validates the file has a consistent per-record dimension
// (every record in these formats shares one dimension) and computes
// how many records it holds.
func newReader(src io.ReaderAt, size int64, elemSize int) (*Reader, error) {
	if size < recordHeaderSize {
		return nil, fmt.Errorf("vecfile: file too small for a single record header")
	}
	var dimBuf [recordHeaderSize]byte
	if _, err := src.ReadAt(dimBuf[:], 0); err != nil {
		return nil, fmt.Errorf("vecfile: read dimension header: %w", err)
	}
	dimension := int(int32(binary.LittleEndian.Uint32(dimBuf[:])))
	if dimension <= 0 {
		return nil, fmt.Errorf("vecfile: invalid dimension %d", dimension)
	}

	stride := int64(recordHeaderSize + dimension*elemSize)
	if size%stride != 0 {
		return nil, fmt.Errorf("vecfile: file size %d is not a multiple of record stride %d", size, stride)
	}

	return &Reader{
		src:       src,
		elemSize:  elemSize,
		dimension: dimension,
		stride:    stride,
		count:     size / stride,
	}, nil
}

// Dimension returns the fixed per-record element count.
func (r *Reader) Dimension() int { return r.dimension }

// Count returns the number of records in the file.
func (r *Reader) Count() int64 { return r.count }

func (r *Reader) readRecord(i int64) ([]byte, error) {
	if i < 0 || i >= r.count {
		return nil, fmt.Errorf("vecfile: record index %d out of range [0, %d)", i, r.count)
	}
	buf := make([]byte, r.stride)
	if _, err := r.src.ReadAt(buf, i*r.stride); err != nil {
		return nil, fmt.Errorf("vecfile: read record %d: %w", i, err)
	}
	gotDim := int(int32(binary.LittleEndian.Uint32(buf[:recordHeaderSize])))
	if gotDim != r.dimension {
		return nil, fmt.Errorf("vecfile: record %d has dimension %d, file declares %d", i, gotDim, r.dimension)
	}
	return buf[recordHeaderSize:], nil
}

// FloatReader decodes .fvec files: each record is a dimension-prefixed
// row of float32 values.
type FloatReader struct{ *Reader }

// OpenFloat opens src (of the given total byte size) as an fvec file.
func OpenFloat(src io.ReaderAt, size int64) (*FloatReader, error) {
	r, err := newReader(src, size, 4)
	if err != nil {
		return nil, err
	}
	return &FloatReader{r}, nil
}

// Vector decodes record i into a float32 slice of length Dimension().
func (r *FloatReader) Vector(i int64) ([]float32, error) {
	raw, err := r.readRecord(i)
	if err != nil {
		return nil, err
	}
	out := make([]float32, r.dimension)
	for j := range out {
		bits := binary.LittleEndian.Uint32(raw[j*4 : j*4+4])
		out[j] = math.Float32frombits(bits)
	}
	return out, nil
}

// IntReader decodes .ivec files: each record is a dimension-prefixed
// row of int32 values, typically neighbor indices.
type IntReader struct{ *Reader }

// OpenInt opens src as an ivec file.
func OpenInt(src io.ReaderAt, size int64) (*IntReader, error) {
	r, err := newReader(src, size, 4)
	if err != nil {
		return nil, err
	}
	return &IntReader{r}, nil
}

// Vector decodes record i into an int32 slice of length Dimension().
func (r *IntReader) Vector(i int64) ([]int32, error) {
	raw, err := r.readRecord(i)
	if err != nil {
		return nil, err
	}
	out := make([]int32, r.dimension)
	for j := range out {
		out[j] = int32(binary.LittleEndian.Uint32(raw[j*4 : j*4+4]))
	}
	return out, nil
}

// ByteReader decodes .bvec files: each record is a dimension-prefixed
// row of raw bytes.
type ByteReader struct{ *Reader }

// OpenByte opens src as a bvec file.
func OpenByte(src io.ReaderAt, size int64) (*ByteReader, error) {
	r, err := newReader(src, size, 1)
	if err != nil {
		return nil, err
	}
	return &ByteReader{r}, nil
}

// Vector decodes record i into a byte slice of length Dimension().
func (r *ByteReader) Vector(i int64) ([]byte, error) {
	return r.readRecord(i)
}
