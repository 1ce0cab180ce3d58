package store

import (
	"fmt"
	"io"
	"runtime"
)

func runtimeNumCPU() int {
	return runtime.NumCPU()
}

// readAllCapped reads exactly want bytes from r, or fewer if r reports
// io.EOF early (treated as a short-read transport error, not silently
// tolerated).
func readAllCapped(r io.Reader, want uint64) ([]byte, error) {
	buf := make([]byte, want)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	if uint64(n) != want {
		return nil, fmt.Errorf("short read: got %d bytes, want %d", n, want)
	}
	return buf[:n], nil
}
