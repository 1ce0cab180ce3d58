package vecfile

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func buildFvec(vectors [][]float32) []byte {
	var buf bytes.Buffer
	for _, v := range vectors {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(v)))
		buf.Write(hdr[:])
		for _, f := range v {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			buf.Write(b[:])
		}
	}
	return buf.Bytes()
}

func buildIvec(vectors [][]int32) []byte {
	var buf bytes.Buffer
	for _, v := range vectors {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(v)))
		buf.Write(hdr[:])
		for _, n := range v {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(n))
			buf.Write(b[:])
		}
	}
	return buf.Bytes()
}

func TestFloatReaderDecodesVectors(t *testing.T) {
	want := [][]float32{{1.5, 2.5, 3.5}, {-1, 0, 1}}
	data := buildFvec(want)
	r, err := OpenFloat(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
	if r.Dimension() != 3 {
		t.Fatalf("Dimension() = %d, want 3", r.Dimension())
	}
	for i, expect := range want {
		got, err := r.Vector(int64(i))
		if err != nil {
			t.Fatal(err)
		}
		for j, f := range expect {
			if got[j] != f {
				t.Fatalf("vector %d[%d] = %v, want %v", i, j, got[j], f)
			}
		}
	}
}

func TestIntReaderDecodesNeighborIndices(t *testing.T) {
	want := [][]int32{{10, 20, 30, 40}}
	data := buildIvec(want)
	r, err := OpenInt(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Vector(0)
	if err != nil {
		t.Fatal(err)
	}
	for j, n := range want[0] {
		if got[j] != n {
			t.Fatalf("index %d = %d, want %d", j, got[j], n)
		}
	}
}

func TestByteReaderDecodesRawBytes(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 3)
	buf.Write(hdr[:])
	buf.Write([]byte{1, 2, 3})

	r, err := OpenByte(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Vector(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("Vector(0) = %v, want [1 2 3]", got)
	}
}

func TestOpenRejectsSizeNotMultipleOfStride(t *testing.T) {
	data := buildFvec([][]float32{{1, 2, 3}})
	_, err := OpenFloat(bytes.NewReader(data[:len(data)-1]), int64(len(data)-1))
	if err == nil {
		t.Fatal("expected an error for a truncated record")
	}
}
