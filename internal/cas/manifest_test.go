package cas

import (
	"errors"
	"strings"
	"testing"
)

const (
	h1 = "1111111111111111111111111111111111111111111111111111111111111111"
	h2 = "2222222222222222222222222222222222222222222222222222222222222222"
	h3 = "3333333333333333333333333333333333333333333333333333333333333333"
)

func sampleInput() ManifestInput {
	return ManifestInput{
		Source:  "github:acme/site-prod",
		Version: "2024-03-05T12:00:00Z",
		Files: []SnapshotFile{
			{RelativePath: "index.html", SHA256: h1, SizeBytes: 10, FileModifiedAt: "2024-03-01T08:00:00.5+01:00"},
			{RelativePath: "css/app.css", SHA256: h2, SizeBytes: 20, FileModifiedAt: "2024-03-02T09:00:00Z"},
		},
	}
}

func TestBuildManifest(t *testing.T) {
	t.Run("fills totals and normalizes times", func(t *testing.T) {
		m, err := BuildManifest(sampleInput())
		if err != nil {
			t.Fatalf("BuildManifest() error = %v", err)
		}
		if m.TotalFiles != 2 || m.TotalSizeBytes != 30 {
			t.Errorf("totals = (%d, %d), want (2, 30)", m.TotalFiles, m.TotalSizeBytes)
		}
		if m.Version != "2024-03-05T12:00:00.000Z" {
			t.Errorf("Version = %s", m.Version)
		}
		if got := m.Files[0].FileModifiedAt; got != "2024-03-01T07:00:00.500Z" {
			t.Errorf("FileModifiedAt = %s, want UTC millisecond form", got)
		}
		if m.Files[1].BlobHash != h2 {
			t.Errorf("BlobHash = %s, want %s", m.Files[1].BlobHash, h2)
		}
		if m.Tags == nil {
			t.Error("Tags should be an empty list, not nil")
		}
		if err := m.ValidateIntegrity(); err != nil {
			t.Errorf("ValidateIntegrity() error = %v", err)
		}
	})

	t.Run("lowercase hex hash", func(t *testing.T) {
		in := sampleInput()
		in.Files[0].SHA256 = "abcdef" + h1[6:]
		if _, err := BuildManifest(in); err != nil {
			t.Errorf("BuildManifest() error = %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*ManifestInput)
	}{
		{"bad source", func(in *ManifestInput) { in.Source = "no-colon" }},
		{"uppercase source type", func(in *ManifestInput) { in.Source = "GitHub:acme" }},
		{"missing version", func(in *ManifestInput) { in.Version = "" }},
		{"unparseable version", func(in *ManifestInput) { in.Version = "yesterday" }},
		{"duplicate path", func(in *ManifestInput) { in.Files[1].RelativePath = "index.html" }},
		{"empty path", func(in *ManifestInput) { in.Files[0].RelativePath = "" }},
		{"short hash", func(in *ManifestInput) { in.Files[0].SHA256 = "abc" }},
		{"uppercase hash", func(in *ManifestInput) { in.Files[0].SHA256 = strings.ToUpper("abcdef" + h1[6:]) }},
		{"negative size", func(in *ManifestInput) { in.Files[0].SizeBytes = -1 }},
		{"bad mtime", func(in *ManifestInput) { in.Files[0].FileModifiedAt = "03/01/2024" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleInput()
			tt.mutate(&in)
			_, err := BuildManifest(in)
			if !errors.Is(err, ErrInvalidManifest) {
				t.Errorf("BuildManifest() error = %v, want InvalidManifest", err)
			}
		})
	}
}

func TestHashTree(t *testing.T) {
	files := []ManifestFile{
		{RelativePath: "a", BlobHash: h1, SizeBytes: 1, FileModifiedAt: "2024-01-01T00:00:00.000Z"},
		{RelativePath: "b", BlobHash: h2, SizeBytes: 2, FileModifiedAt: "2024-01-01T00:00:00.000Z"},
	}

	t.Run("deterministic", func(t *testing.T) {
		first, err := HashTree(files)
		if err != nil {
			t.Fatalf("HashTree() error = %v", err)
		}
		again, _ := HashTree(append([]ManifestFile(nil), files...))
		if first != again {
			t.Errorf("identical lists hashed differently: %s vs %s", first, again)
		}
	})

	t.Run("order sensitive", func(t *testing.T) {
		forward, _ := HashTree(files)
		reversed, _ := HashTree([]ManifestFile{files[1], files[0]})
		if forward == reversed {
			t.Error("reordering files should change the hash tree")
		}
	})

	t.Run("serialization is compact with fixed field order", func(t *testing.T) {
		data, err := marshalCompact(files[:1])
		if err != nil {
			t.Fatalf("marshalCompact() error = %v", err)
		}
		want := `[{"relative_path":"a","blob_hash":"` + h1 + `","size_bytes":1,"file_modified_at":"2024-01-01T00:00:00.000Z"}]`
		if string(data) != want {
			t.Errorf("serialization = %s\nwant %s", data, want)
		}
	})

	t.Run("html characters are not escaped", func(t *testing.T) {
		data, _ := marshalCompact([]ManifestFile{{RelativePath: "a&b<c>.txt", BlobHash: h1}})
		if !strings.Contains(string(data), "a&b<c>.txt") {
			t.Errorf("serialization escaped HTML: %s", data)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		empty, _ := HashTree(nil)
		if empty != "4f53cda18c2baa0c0354bb5f9a3ecbe5ed12ab4d8e11ba873c2f11161202b945" {
			t.Errorf("HashTree(nil) = %s, want sha256 of []", empty)
		}
	})
}

func TestManifest_ValidateIntegrity(t *testing.T) {
	t.Run("tampered file entry", func(t *testing.T) {
		m, _ := BuildManifest(sampleInput())
		m.Files[0].BlobHash = h3
		if err := m.ValidateIntegrity(); !errors.Is(err, ErrIntegrityViolation) {
			t.Errorf("ValidateIntegrity() error = %v, want IntegrityViolation", err)
		}
	})

	t.Run("wrong file count", func(t *testing.T) {
		m, _ := BuildManifest(sampleInput())
		m.TotalFiles = 5
		if err := m.ValidateIntegrity(); !errors.Is(err, ErrIntegrityViolation) {
			t.Errorf("ValidateIntegrity() error = %v, want IntegrityViolation", err)
		}
	})
}

func TestManifest_EncodeDecode(t *testing.T) {
	m, _ := BuildManifest(sampleInput())
	m.Tags = []string{"release"}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := DecodeManifest(data)
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	if got.HashTreeSHA256 != m.HashTreeSHA256 || got.Source != m.Source || len(got.Files) != 2 {
		t.Errorf("decoded manifest = %+v", got)
	}
	if err := got.ValidateIntegrity(); err != nil {
		t.Errorf("decoded manifest failed integrity: %v", err)
	}

	if _, err := DecodeManifest([]byte("{not json")); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("DecodeManifest(garbage) error = %v, want InvalidManifest", err)
	}
}

func TestValidSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"github:acme/site", true},
		{"s3:bucket-prod-v2", true},
		{"local_fs:/srv/www", false},
		{"upload:", false},
		{":name", false},
		{"web:my site", false},
	}
	for _, tt := range tests {
		if got := ValidSource(tt.source); got != tt.want {
			t.Errorf("ValidSource(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}
