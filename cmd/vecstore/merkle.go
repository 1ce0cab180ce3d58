package main

import (
	"fmt"
	"os"

	"github.com/nosqlbench/vecstore/pkg/merkle"
)

const defaultChunkSize = 1024 * 1024

// merkleCommand dispatches the merkle create/verify/summary
// subcommands and returns the process exit code.
func merkleCommand(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vecstore merkle <create|verify|summary> [options]")
		return exitUsageError
	}

	switch args[0] {
	case "create":
		return merkleCreate(args[1:])
	case "verify":
		return merkleVerify(args[1:])
	case "summary":
		return merkleSummary(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "vecstore merkle: unknown subcommand %q\n", args[0])
		return exitUsageError
	}
}

// parseFlags does simple "--name value" parsing in the style of the
// rest of this CLI family: no short flags, no flag=value form, order
// doesn't matter.
func parseFlags(args []string, known map[string]*string) error {
	i := 0
	for i < len(args) {
		arg := args[i]
		dst, ok := known[arg]
		if !ok {
			return fmt.Errorf("unknown option: %s", arg)
		}
		if i+1 >= len(args) {
			return fmt.Errorf("%s requires a value", arg)
		}
		*dst = args[i+1]
		i += 2
	}
	return nil
}

func merkleCreate(args []string) int {
	var file, chunkSizeStr, output string
	if err := parseFlags(args, map[string]*string{
		"--file":       &file,
		"--chunk-size": &chunkSizeStr,
		"--output":     &output,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle create:", err)
		return exitUsageError
	}
	if file == "" || output == "" {
		fmt.Fprintln(os.Stderr, "Usage: vecstore merkle create --file F [--chunk-size S] --output F.mref")
		return exitUsageError
	}
	chunkSize := uint64(defaultChunkSize)
	if chunkSizeStr != "" {
		if _, err := fmt.Sscanf(chunkSizeStr, "%d", &chunkSize); err != nil || chunkSize == 0 {
			fmt.Fprintf(os.Stderr, "vecstore merkle create: invalid chunk size: %s\n", chunkSizeStr)
			return exitUsageError
		}
	}

	info, err := os.Stat(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle create:", err)
		return exitIOError
	}

	shape, err := merkle.NewShape(uint64(info.Size()), chunkSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle create:", err)
		return exitUsageError
	}

	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle create:", err)
		return exitIOError
	}
	defer f.Close()

	hashes := make([][merkle.HashSize]byte, shape.N)
	buf := make([]byte, shape.ChunkSize)
	for c := uint64(0); c < shape.C; c++ {
		start, end := shape.ByteRangeOfChunk(c)
		n := end - start
		if _, err := f.ReadAt(buf[:n], int64(start)); err != nil {
			fmt.Fprintf(os.Stderr, "vecstore merkle create: read chunk %d: %v\n", c, err)
			return exitIOError
		}
		hashes[shape.LeafNodeIndex(c)] = merkle.HashChunk(buf[:n])
	}
	merkle.BuildTree(shape, hashes)

	if err := merkle.WriteReference(output, shape, hashes); err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle create:", err)
		return exitIOError
	}

	fmt.Printf("wrote %s: %d chunks, %d bytes\n", output, shape.C, shape.FileSize)
	return exitOK
}

func merkleVerify(args []string) int {
	var file, reference string
	if err := parseFlags(args, map[string]*string{
		"--file":      &file,
		"--reference": &reference,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle verify:", err)
		return exitUsageError
	}
	if file == "" || reference == "" {
		fmt.Fprintln(os.Stderr, "Usage: vecstore merkle verify --file F --reference F.mref")
		return exitUsageError
	}

	ref, err := merkle.LoadReference(reference)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle verify:", err)
		return exitIOError
	}
	defer ref.Close()
	shape := ref.Shape()

	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle verify:", err)
		return exitIOError
	}
	defer f.Close()

	buf := make([]byte, shape.ChunkSize)
	var mismatches uint64
	for c := uint64(0); c < shape.C; c++ {
		start, end := shape.ByteRangeOfChunk(c)
		n := end - start
		if _, err := f.ReadAt(buf[:n], int64(start)); err != nil {
			fmt.Fprintf(os.Stderr, "vecstore merkle verify: read chunk %d: %v\n", c, err)
			return exitIOError
		}
		got := merkle.HashChunk(buf[:n])
		want := ref.Hash(shape.LeafNodeIndex(c))
		if got != want {
			fmt.Printf("chunk %d: hash mismatch\n", c)
			mismatches++
		}
	}

	if mismatches > 0 {
		fmt.Printf("FAIL: %d of %d chunks did not verify\n", mismatches, shape.C)
		return exitVerifyFail
	}
	fmt.Printf("OK: all %d chunks verified\n", shape.C)
	return exitOK
}

func merkleSummary(args []string) int {
	var file string
	if err := parseFlags(args, map[string]*string{
		"--file": &file,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle summary:", err)
		return exitUsageError
	}
	if file == "" {
		fmt.Fprintln(os.Stderr, "Usage: vecstore merkle summary --file F.mrkl")
		return exitUsageError
	}

	shape, validCount, err := merkle.QuickSummary(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vecstore merkle summary:", err)
		return exitIOError
	}

	fraction := float64(validCount) / float64(shape.C)
	fmt.Printf("file size:    %d bytes\n", shape.FileSize)
	fmt.Printf("chunk size:   %d bytes\n", shape.ChunkSize)
	fmt.Printf("chunks:       %d\n", shape.C)
	fmt.Printf("verified:     %d (%.1f%%)\n", validCount, fraction*100)
	return exitOK
}
