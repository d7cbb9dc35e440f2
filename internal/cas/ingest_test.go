package cas_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cas-go/internal/cas"
	casfs "cas-go/internal/fs"
	"cas-go/internal/testutil"
)

func TestIngester(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a directory and commits it", func(t *testing.T) {
		ts := testutil.NewTestStore(t, zstdOptions())
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "index.html", []byte("<html></html>"))
		testutil.WriteFile(t, dir, "css/app.css", textContent)
		testutil.WriteFile(t, dir, "css/copy.css", textContent)
		testutil.WriteFile(t, dir, "debug.log", []byte("ignored"))
		testutil.WriteFile(t, dir, ".casignore", []byte("*.log\n"))

		ing := cas.NewIngester(ts.Blobs, casfs.NewOSFilesystemManager(nil), nil, 2)
		run, err := ing.Start(dir)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if run.Total() != 3 {
			t.Fatalf("Total() = %d, want 3", run.Total())
		}

		seen := 0
		for ev, err := range run.Events(ctx) {
			if err != nil {
				t.Errorf("event error = %v", err)
				continue
			}
			seen++
			if ev.Total != 3 || ev.Processed != seen || ev.LastHash == "" {
				t.Errorf("event = %+v", ev)
			}
		}
		if seen != 3 || run.Failed() != 0 {
			t.Fatalf("seen = %d, failed = %d", seen, run.Failed())
		}

		in := run.Snapshot("local:site", "2024-01-15T10:30:00Z", nil)
		var paths []string
		for _, f := range in.Files {
			paths = append(paths, f.RelativePath)
		}
		want := []string{"css/app.css", "css/copy.css", "index.html"}
		if len(paths) != len(want) {
			t.Fatalf("snapshot paths = %v, want %v", paths, want)
		}
		for i := range want {
			if paths[i] != want[i] {
				t.Errorf("paths[%d] = %s, want %s", i, paths[i], want[i])
			}
		}
		if in.Files[0].SHA256 != in.Files[1].SHA256 {
			t.Error("identical files should share a hash")
		}

		ws := newWorkspace(t, ts.Graph, "site")
		res, err := ts.Graph.CommitSnapshot(ctx, ws.ID, in, cas.CommitOptions{SourceType: cas.SourceManual})
		if err != nil {
			t.Fatalf("CommitSnapshot() error = %v", err)
		}
		if res.Diff.Added != 3 {
			t.Errorf("diff = %+v, want 3 added", res.Diff)
		}
	})

	t.Run("reports failures and keeps going", func(t *testing.T) {
		ts := testutil.NewTestStore(t, zstdOptions())
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "a.txt", []byte("a"))
		gone := testutil.WriteFile(t, dir, "b.txt", []byte("b"))
		testutil.WriteFile(t, dir, "c.txt", []byte("c"))

		ing := cas.NewIngester(ts.Blobs, casfs.NewOSFilesystemManager(nil), nil, 1)
		run, err := ing.Start(dir)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := os.Remove(gone); err != nil {
			t.Fatal(err)
		}

		var failures int
		for _, err := range run.Events(ctx) {
			if err != nil {
				failures++
				if !errors.Is(err, cas.ErrSourceNotFound) {
					t.Errorf("error = %v, want SourceNotFound", err)
				}
			}
		}
		if failures != 1 || run.Failed() != 1 {
			t.Errorf("failures = %d, Failed() = %d", failures, run.Failed())
		}
		if n := len(run.Snapshot("local:x", "2024-01-01T00:00:00Z", nil).Files); n != 2 {
			t.Errorf("snapshot files = %d, want 2", n)
		}
	})

	t.Run("stopping early cancels the rest", func(t *testing.T) {
		ts := testutil.NewTestStore(t, zstdOptions())
		dir := t.TempDir()
		for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
			testutil.WriteFile(t, dir, name, []byte(name))
		}

		ing := cas.NewIngester(ts.Blobs, casfs.NewOSFilesystemManager(nil), nil, 2)
		run, err := ing.Start(dir)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		count := 0
		for range run.Events(ctx) {
			count++
			break
		}
		if count != 1 {
			t.Errorf("iterations = %d, want 1", count)
		}
	})

	t.Run("rejects a file root", func(t *testing.T) {
		ts := testutil.NewTestStore(t, zstdOptions())
		file := testutil.WriteFile(t, t.TempDir(), "f", []byte("x"))
		ing := cas.NewIngester(ts.Blobs, casfs.NewOSFilesystemManager(nil), nil, 0)
		if _, err := ing.Start(file); !errors.Is(err, cas.ErrSourceNotFound) {
			t.Errorf("Start() error = %v, want SourceNotFound", err)
		}
		if _, err := ing.Start(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, cas.ErrSourceNotFound) {
			t.Errorf("Start(missing) error = %v, want SourceNotFound", err)
		}
	})
}
