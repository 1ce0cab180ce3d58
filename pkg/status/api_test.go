package status

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nosqlbench/vecstore/pkg/merkle"
	"github.com/nosqlbench/vecstore/pkg/store"
	"github.com/nosqlbench/vecstore/pkg/transport"
)

func buildTestChannel(t *testing.T) *store.Channel {
	t.Helper()
	fileSize, chunkSize := uint64(4097), uint64(1024)
	shape, err := merkle.NewShape(fileSize, chunkSize)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, fileSize)
	for i := range data {
		data[i] = byte(i * 3)
	}

	dir := t.TempDir()
	originPath := filepath.Join(dir, "origin.bin")
	if err := os.WriteFile(originPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	hashes := make([][merkle.HashSize]byte, shape.N)
	for c := uint64(0); c < shape.C; c++ {
		start, end := shape.ByteRangeOfChunk(c)
		hashes[shape.LeafNodeIndex(c)] = merkle.HashChunk(data[start:end])
	}
	merkle.BuildTree(shape, hashes)

	refPath := filepath.Join(dir, "f.mref")
	if err := merkle.WriteReference(refPath, shape, hashes); err != nil {
		t.Fatal(err)
	}

	fetcher := transport.NewFileFetcher(originPath)
	ch, err := store.OpenChannel(context.Background(), refPath, filepath.Join(dir, "f.mrkl"), filepath.Join(dir, "f.cache"), fetcher, store.ChannelConfig{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ch.Close(5 * time.Second) })
	return ch
}

func dialAndCall(t *testing.T, addr string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestServerDatasetsListAndStats(t *testing.T) {
	ch := buildTestChannel(t)

	srv := NewServer(nil)
	srv.Register("ds1", ch)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Serve(ctx, listener)
	time.Sleep(10 * time.Millisecond)

	listResp := dialAndCall(t, listener.Addr().String(), Request{Method: "datasets.list", ID: "1"})
	if listResp.Error != "" {
		t.Fatalf("datasets.list error: %s", listResp.Error)
	}

	// Drive a read so Stats() has something nonzero to report.
	buf := make([]byte, 2000)
	if _, err := ch.Read(ctx, buf, 0); err != nil {
		t.Fatal(err)
	}

	statsResp := dialAndCall(t, listener.Addr().String(), Request{
		Method: "datasets.stats", ID: "2", Params: map[string]interface{}{"dataset_id": "ds1"},
	})
	if statsResp.Error != "" {
		t.Fatalf("datasets.stats error: %s", statsResp.Error)
	}
	result, ok := statsResp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %#v", statsResp.Result)
	}
	if result["valid_chunks"].(float64) == 0 {
		t.Fatal("expected at least one valid chunk after a read")
	}
}

func TestServerDatasetStatsUnknownDataset(t *testing.T) {
	srv := NewServer(nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Serve(ctx, listener)
	time.Sleep(10 * time.Millisecond)

	resp := dialAndCall(t, listener.Addr().String(), Request{
		Method: "datasets.stats", ID: "1", Params: map[string]interface{}{"dataset_id": "nope"},
	})
	if resp.Error == "" {
		t.Fatal("expected an error for an unregistered dataset")
	}
}

func TestServerSwarmPeersWithoutNodeErrors(t *testing.T) {
	srv := NewServer(nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Serve(ctx, listener)
	time.Sleep(10 * time.Millisecond)

	resp := dialAndCall(t, listener.Addr().String(), Request{Method: "swarm.peers", ID: "1"})
	if resp.Error == "" {
		t.Fatal("expected an error when swarm participation is disabled")
	}
}
