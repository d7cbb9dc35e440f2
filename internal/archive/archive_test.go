package archive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cas-go/internal/cas"
	"cas-go/internal/config"
)

// fakeS3 serves the handful of path-style S3 calls the archive makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	meta    map[string]string
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: map[string][]byte{}, meta: map[string]string{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if key == "" {
		// HeadBucket
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		f.meta[key] = r.Header.Get("X-Amz-Meta-Version")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		if v := f.meta[key]; v != "" {
			w.Header().Set("X-Amz-Meta-Version", v)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Archive(t *testing.T) *S3Archive {
	t.Helper()
	srv := httptest.NewServer(newFakeS3("cas-archive"))
	t.Cleanup(srv.Close)

	a, err := NewS3Archive(context.Background(), config.ArchiveConfig{
		Type:              "s3",
		Name:              "offsite",
		S3Bucket:          "cas-archive",
		S3Prefix:          "hosts",
		S3Region:          "us-east-1",
		S3Endpoint:        srv.URL,
		S3AccessKeyID:     "test",
		S3SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Archive() error = %v", err)
	}
	return a
}

func TestArchives(t *testing.T) {
	ctx := context.Background()

	backends := map[string]func(t *testing.T) cas.Archive{
		"memory": func(t *testing.T) cas.Archive { return NewMemoryArchive("mem") },
		"filesystem": func(t *testing.T) cas.Archive {
			a, err := NewFileSystemArchive("fs", t.TempDir())
			if err != nil {
				t.Fatalf("NewFileSystemArchive() error = %v", err)
			}
			return a
		},
		"s3": func(t *testing.T) cas.Archive { return newTestS3Archive(t) },
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			a := build(t)
			if err := a.ValidateSetup(ctx); err != nil {
				t.Fatalf("ValidateSetup() error = %v", err)
			}

			t.Run("missing item has version 0", func(t *testing.T) {
				v, err := a.GetMetadataVersion(ctx, "host-a", "db")
				if err != nil || v != 0 {
					t.Errorf("GetMetadataVersion() = %d, %v; want 0, nil", v, err)
				}
				var buf bytes.Buffer
				if err := a.GetMetadata(ctx, "host-a", "db", &buf); err == nil {
					t.Error("GetMetadata() on missing item should fail")
				}
			})

			t.Run("round trip with version", func(t *testing.T) {
				data := "sqlite snapshot bytes"
				if err := a.PutMetadata(ctx, "host-a", "db", strings.NewReader(data), int64(len(data)), 7); err != nil {
					t.Fatalf("PutMetadata() error = %v", err)
				}
				var buf bytes.Buffer
				if err := a.GetMetadata(ctx, "host-a", "db", &buf); err != nil {
					t.Fatalf("GetMetadata() error = %v", err)
				}
				if buf.String() != data {
					t.Errorf("GetMetadata() = %q, want %q", buf.String(), data)
				}
				v, err := a.GetMetadataVersion(ctx, "host-a", "db")
				if err != nil || v != 7 {
					t.Errorf("GetMetadataVersion() = %d, %v; want 7", v, err)
				}
			})

			t.Run("hosts are isolated", func(t *testing.T) {
				if v, _ := a.GetMetadataVersion(ctx, "host-b", "db"); v != 0 {
					t.Errorf("host-b version = %d, want 0", v)
				}
			})

			t.Run("overwrite bumps version", func(t *testing.T) {
				data := "newer"
				if err := a.PutMetadata(ctx, "host-a", "db", strings.NewReader(data), int64(len(data)), 9); err != nil {
					t.Fatalf("PutMetadata() error = %v", err)
				}
				if v, _ := a.GetMetadataVersion(ctx, "host-a", "db"); v != 9 {
					t.Errorf("version = %d, want 9", v)
				}
			})

			t.Run("size mismatch is rejected", func(t *testing.T) {
				if err := a.PutMetadata(ctx, "host-a", "public_key", strings.NewReader("abc"), 10, 1); err == nil {
					t.Error("PutMetadata() with wrong size should fail")
				}
			})
		})
	}
}

func TestNewArchiveFromConfig(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     config.ArchiveConfig
		wantErr bool
	}{
		{"memory archive", config.ArchiveConfig{Type: "memory", Name: "m"}, false},
		{"filesystem archive", config.ArchiveConfig{Type: "filesystem", Name: "f", FSArchiveRoot: t.TempDir()}, false},
		{"filesystem without root", config.ArchiveConfig{Type: "filesystem", Name: "f"}, true},
		{"s3 without bucket", config.ArchiveConfig{Type: "s3", Name: "s", S3Region: "us-east-1"}, true},
		{"unknown archive type", config.ArchiveConfig{Type: "tape", Name: "t"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewArchiveFromConfig(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewArchiveFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Name() != tt.cfg.Name {
				t.Errorf("Name() = %q, want %q", got.Name(), tt.cfg.Name)
			}
			if err := got.ValidateSetup(ctx); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestNewArchivesFromConfig(t *testing.T) {
	_, err := NewArchivesFromConfig(context.Background(), []config.ArchiveConfig{
		{Type: "memory", Name: "ok"},
		{Type: "tape", Name: "bad"},
	})
	if err == nil || !strings.Contains(err.Error(), `"bad"`) {
		t.Errorf("error = %v, want it to name the bad archive", err)
	}
}
