package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFSBlobsPut(t *testing.T) {
	blobs, err := NewFSBlobs(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewFSBlobs() error = %v", err)
	}

	loc, err := blobs.Put(context.Background(), "normalized-abc.csv", []byte("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !filepath.IsAbs(loc) {
		t.Errorf("location %q is not absolute", loc)
	}

	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatalf("reading artifact back: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("artifact content = %q", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(blobs.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want 1", len(entries))
	}
}

func TestFSBlobsPutSanitizesName(t *testing.T) {
	dir := t.TempDir()
	blobs, err := NewFSBlobs(dir)
	if err != nil {
		t.Fatalf("NewFSBlobs() error = %v", err)
	}

	loc, err := blobs.Put(context.Background(), "../../etc/escape.csv", []byte("x"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if filepath.Dir(loc) != mustAbs(t, dir) {
		t.Errorf("artifact escaped the blob directory: %q", loc)
	}
}

func TestFSBlobsPutRejectsEmptyName(t *testing.T) {
	blobs, err := NewFSBlobs(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBlobs() error = %v", err)
	}
	if _, err := blobs.Put(context.Background(), "  ", []byte("x")); err == nil {
		t.Error("Put() accepted a blank name")
	}
}

func TestFSBlobsPutCancelledContext(t *testing.T) {
	blobs, err := NewFSBlobs(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBlobs() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := blobs.Put(ctx, "x.csv", []byte("x")); err == nil {
		t.Error("Put() ignored a cancelled context")
	}
}

func mustAbs(t *testing.T, p string) string {
	t.Helper()
	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}
