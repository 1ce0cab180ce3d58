package merkle

import (
	"os"
	"testing"
)

func truncateFile(t *testing.T, path string, size int64) error {
	t.Helper()
	return os.Truncate(path, size)
}

func overwriteFooter(t *testing.T, path string, footerBytes []byte) error {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = f.WriteAt(footerBytes, info.Size()-int64(len(footerBytes)))
	return err
}
