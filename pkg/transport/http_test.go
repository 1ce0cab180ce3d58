package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedModTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newBytesReader(b []byte) io.ReadSeeker {
	return bytes.NewReader(b)
}

func TestHTTPFetcherFetchesPartialContent(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = byte(i)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", fixedModTime, newBytesReader(body))
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.URL, ts.Client())
	rc, err := f.FetchRange(context.Background(), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Fatalf("got %d bytes, want 20", len(got))
	}
	for i, b := range got {
		if b != body[10+i] {
			t.Fatalf("byte %d = %d, want %d", i, b, body[10+i])
		}
	}
}

func TestHTTPFetcherSize(t *testing.T) {
	body := make([]byte, 4096)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", fixedModTime, newBytesReader(body))
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.URL, ts.Client())
	size, err := f.Size(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if size != uint64(len(body)) {
		t.Fatalf("size = %d, want %d", size, len(body))
	}
}

func TestHTTPFetcherToleratesFullBodyServer(t *testing.T) {
	body := make([]byte, 100)
	for i := range body {
		body[i] = byte(i)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignore Range entirely and send the whole body with a 200.
		w.Write(body)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.URL, ts.Client())
	rc, err := f.FetchRange(context.Background(), 50, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d bytes, want 10", len(got))
	}
	for i, b := range got {
		if b != body[50+i] {
			t.Fatalf("byte %d = %d, want %d", i, b, body[50+i])
		}
	}
}
