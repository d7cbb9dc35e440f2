package blobfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cas-go/internal/cas"
)

const testHash = "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestNew(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")

	s, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, dir := range []string{"blobs", "manifests"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			t.Errorf("%s directory not created: %v", dir, err)
		}
	}
	if err := s.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}

func TestStore_WriteBlob(t *testing.T) {
	t.Run("writes and seals", func(t *testing.T) {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		size, err := s.WriteBlob(context.Background(), testHash, writeString("hello world"))
		if err != nil {
			t.Fatalf("WriteBlob() error = %v", err)
		}
		if size != 11 {
			t.Errorf("WriteBlob() size = %d, want 11", size)
		}

		want := filepath.Join(s.Root(), "blobs", "ab", testHash)
		if s.BlobPath(testHash) != want {
			t.Errorf("BlobPath() = %s, want %s", s.BlobPath(testHash), want)
		}

		info, err := os.Stat(want)
		if err != nil {
			t.Fatalf("canonical file missing: %v", err)
		}
		if info.Mode().Perm() != 0o444 {
			t.Errorf("mode = %v, want 0444", info.Mode().Perm())
		}

		sealed, _, err := s.Sealed(testHash)
		if err != nil {
			t.Fatalf("Sealed() error = %v", err)
		}
		if !sealed {
			t.Error("Sealed() = false after write")
		}
	})

	t.Run("cancel before rename leaves nothing", func(t *testing.T) {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		_, err = s.WriteBlob(ctx, testHash, func(w io.Writer) error {
			if _, err := io.WriteString(w, "partial"); err != nil {
				return err
			}
			cancel()
			return nil
		})
		if !errors.Is(err, cas.ErrAtomicCommitFailed) {
			t.Fatalf("WriteBlob() error = %v, want AtomicCommitFailed", err)
		}
		if _, err := os.Stat(s.BlobPath(testHash)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("canonical path exists after abort: %v", err)
		}
		if tmp := tempFiles(t, filepath.Dir(s.BlobPath(testHash))); len(tmp) != 0 {
			t.Errorf("temp files left behind: %v", tmp)
		}

		if _, err := s.WriteBlob(context.Background(), testHash, writeString("full")); err != nil {
			t.Fatalf("retry WriteBlob() error = %v", err)
		}
	})

	t.Run("writer failure is incomplete write", func(t *testing.T) {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		_, err = s.WriteBlob(context.Background(), testHash, func(io.Writer) error {
			return errors.New("disk on fire")
		})
		if !errors.Is(err, cas.ErrIncompleteWrite) {
			t.Fatalf("WriteBlob() error = %v, want IncompleteWrite", err)
		}
		if tmp := tempFiles(t, filepath.Dir(s.BlobPath(testHash))); len(tmp) != 0 {
			t.Errorf("temp files left behind: %v", tmp)
		}
	})

	t.Run("writer cas error passes through", func(t *testing.T) {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		_, err = s.WriteBlob(context.Background(), testHash, func(io.Writer) error {
			return cas.Errorf(cas.KindSourceNotFound, "read", "gone")
		})
		if !errors.Is(err, cas.ErrSourceNotFound) {
			t.Fatalf("WriteBlob() error = %v, want SourceNotFound", err)
		}
	})
}

func TestStore_OpenAndRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := s.OpenBlob(testHash); !errors.Is(err, cas.ErrBlobNotFound) {
		t.Fatalf("OpenBlob() missing error = %v, want BlobNotFound", err)
	}

	if _, err := s.WriteBlob(context.Background(), testHash, writeString("content")); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}

	r, err := s.OpenBlob(testHash)
	if err != nil {
		t.Fatalf("OpenBlob() error = %v", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "content" {
		t.Errorf("OpenBlob() content = %q", data)
	}

	if err := s.RemoveBlob(testHash); err != nil {
		t.Fatalf("RemoveBlob() error = %v", err)
	}
	if sealed, info, _ := s.Sealed(testHash); sealed || info != nil {
		t.Error("blob still present after RemoveBlob()")
	}
	if err := s.RemoveBlob(testHash); err != nil {
		t.Errorf("RemoveBlob() on missing blob error = %v", err)
	}
}

func TestStore_SweepTemp(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	shard := filepath.Join(s.Root(), "blobs", "ab")
	if err := os.MkdirAll(shard, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	old := filepath.Join(shard, ".tmp-old")
	fresh := filepath.Join(shard, ".tmp-fresh")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	n, err := s.SweepTemp(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SweepTemp() error = %v", err)
	}
	if n != 1 {
		t.Errorf("SweepTemp() = %d, want 1", n)
	}
	if _, err := os.Stat(old); !errors.Is(err, os.ErrNotExist) {
		t.Error("old temp file not removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp file removed")
	}
}

func TestStore_Manifest(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	version := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	rel, err := s.WriteManifest(context.Background(), "doc-1", version, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}
	if rel != "manifests/2024/01/doc-1.json" {
		t.Errorf("WriteManifest() path = %q", rel)
	}

	data, err := s.ReadManifest(rel)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("ReadManifest() = %q", data)
	}

	if _, err := s.ReadManifest("manifests/2024/01/missing.json"); !errors.Is(err, cas.ErrManifestNotFound) {
		t.Errorf("ReadManifest() missing error = %v, want ManifestNotFound", err)
	}
	if _, err := s.ReadManifest("../outside.json"); !errors.Is(err, cas.ErrInvalidManifest) {
		t.Errorf("ReadManifest() escape error = %v, want InvalidManifest", err)
	}
}
