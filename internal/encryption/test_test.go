package encryption

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// sqliteMagic opens every SQLite database file, and so every snapshot.
var sqliteMagic = []byte("SQLite format 3\x00")

func snapshotBytes(size int) []byte {
	data := append([]byte{}, sqliteMagic...)
	for len(data) < size {
		data = append(data, byte(len(data)%251))
	}
	return data[:max(size, len(sqliteMagic))]
}

func TestTestEncryptor_SnapshotRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", sqliteMagic},
		{"one page", snapshotBytes(4096)},
		{"longer than the mask", snapshotBytes(4*len(testMask) + 3)},
		{"several pages", snapshotBytes(5*4096 + 17)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewTestEncryptor()

			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.data), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.HasPrefix(sealed.Bytes(), testHeader) {
				t.Fatalf("sealed snapshot starts with %q, want header %q", sealed.Bytes()[:min(8, sealed.Len())], testHeader)
			}
			if len(tt.data) > 0 && bytes.Contains(sealed.Bytes(), sqliteMagic) {
				t.Error("sealed snapshot still carries the SQLite magic")
			}

			dc, err := e.Unlock("")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var restored bytes.Buffer
			if err := dc.Decrypt(&sealed, &restored); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(restored.Bytes(), tt.data) {
				t.Errorf("restored %d bytes, want %d matching the snapshot", restored.Len(), len(tt.data))
			}
		})
	}
}

func TestTestEncryptor_Deterministic(t *testing.T) {
	e := NewTestEncryptor()
	data := snapshotBytes(1000)

	var a, b bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(data), &a); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if err := e.Encrypt(bytes.NewReader(data), &b); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("two snapshots of the same database sealed differently")
	}
}

func TestTestEncryptor_Passphrase(t *testing.T) {
	t.Run("fresh encryptor is configured and accepts any passphrase", func(t *testing.T) {
		t.Parallel()
		e := NewTestEncryptor()
		if !e.IsConfigured() {
			t.Error("IsConfigured() = false, want true")
		}
		for _, p := range []string{"", "anything"} {
			if _, err := e.Unlock(p); err != nil {
				t.Errorf("Unlock(%q) error = %v", p, err)
			}
		}
	})

	t.Run("setup fixes the passphrase", func(t *testing.T) {
		t.Parallel()
		e := NewTestEncryptor()
		if err := e.Setup("archive-key"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("archive-key"); err != nil {
			t.Errorf("Unlock(correct) error = %v", err)
		}
		if _, err := e.Unlock("wrong"); !errors.Is(err, ErrWrongPassphrase) {
			t.Errorf("Unlock(wrong) error = %v, want ErrWrongPassphrase", err)
		}
	})

	t.Run("empty passphrase rejected", func(t *testing.T) {
		t.Parallel()
		if err := NewTestEncryptor().Setup(""); err == nil {
			t.Error("Setup(\"\") should fail")
		}
	})
}

func TestTestDecryptionContext_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr string
	}{
		{"empty stream", nil, "reading header"},
		{"truncated header", testHeader[:4], "reading header"},
		{"plain snapshot", snapshotBytes(64), "not a test-encrypted stream"},
		{"future version", append([]byte("CASENC\x00\x02"), 1, 2, 3), "unsupported test encryption version 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader(tt.input), &out)
			if err == nil {
				t.Fatal("Decrypt() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Decrypt() error = %v, want it to mention %q", err, tt.wantErr)
			}
			if out.Len() != 0 {
				t.Errorf("Decrypt() wrote %d bytes on failure", out.Len())
			}
		})
	}
}
