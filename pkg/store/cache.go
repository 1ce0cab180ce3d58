package store

import (
	"fmt"
	"os"
)

// Cache is the sparse local file backing verified chunk bytes. Workers
// write disjoint chunk-sized regions concurrently; the OS file offset
// table makes concurrent WriteAt calls to non-overlapping regions safe
// without an application-level lock.
type Cache struct {
	file *os.File
}

// OpenCache opens (creating if necessary) the cache file at path and
// truncates/extends it to exactly size bytes, so later WriteAt calls
// never implicitly grow it past the expected file size.
func OpenCache(path string, size uint64) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open cache %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat cache %s: %w", path, err)
	}
	if uint64(info.Size()) != size {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: truncate cache %s to %d: %w", path, size, err)
		}
	}
	return &Cache{file: f}, nil
}

// WriteChunk commits verified bytes for chunk i at its canonical
// offset.
func (c *Cache) WriteChunk(offset uint64, data []byte) error {
	if _, err := c.file.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("store: write cache at offset %d: %w", offset, err)
	}
	return nil
}

// ReadAt serves previously-verified bytes directly (io.ReaderAt);
// Channel.Read calls it once every chunk of the range is valid.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	return c.file.ReadAt(p, off)
}

// Sync flushes pending writes to stable storage.
func (c *Cache) Sync() error {
	return c.file.Sync()
}

// Close releases the cache file handle.
func (c *Cache) Close() error {
	return c.file.Close()
}
