package classify

import (
	"bytes"
	"testing"
)

// minimal PNG signature plus IHDR chunk header
var pngHead = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want bool
	}{
		{"empty", nil, false},
		{"plain text", []byte("hello world\nsecond line\n"), false},
		{"nul byte", []byte("abc\x00def"), true},
		{"mostly control bytes", bytes.Repeat([]byte{0x01, 0x02, 0x03, 'a'}, 100), true},
		{"70 percent printable", append(bytes.Repeat([]byte("a"), 70), bytes.Repeat([]byte{0x80}, 30)...), false},
		{"69 percent printable", append(bytes.Repeat([]byte("a"), 69), bytes.Repeat([]byte{0x80}, 31)...), true},
		{"nul after sample window", append(bytes.Repeat([]byte("a"), SampleSize), 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBinary(tt.in); got != tt.want {
				t.Errorf("IsBinary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_IsAlreadyCompressed(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		mime string
		want bool
	}{
		{"image/png", true},
		{"video/mp4", true},
		{"audio/mpeg", true},
		{"application/zip", true},
		{"IMAGE/PNG; charset=binary", true},
		{"text/plain", false},
		{"application/json", false},
		{"", false},
		{"videos/mp4", false},
	}
	for _, tt := range tests {
		if got := p.IsAlreadyCompressed(tt.mime); got != tt.want {
			t.Errorf("IsAlreadyCompressed(%q) = %v, want %v", tt.mime, got, tt.want)
		}
	}
}

func TestPolicy_Classify(t *testing.T) {
	p := DefaultPolicy()

	t.Run("text", func(t *testing.T) {
		r := p.Classify([]byte("key = value\n"), nil, nil)
		if r.IsBinary || r.MimeType != MimeText || r.IsAlreadyCompressed {
			t.Errorf("Classify() = %+v", r)
		}
	})

	t.Run("png sniffed", func(t *testing.T) {
		r := p.Classify(pngHead, nil, nil)
		if r.MimeType != "image/png" {
			t.Errorf("MimeType = %q, want image/png", r.MimeType)
		}
		if !r.IsBinary || !r.IsAlreadyCompressed {
			t.Errorf("Classify() = %+v", r)
		}
	})

	t.Run("unknown binary", func(t *testing.T) {
		r := p.Classify([]byte{0x00, 0x01, 0x02, 0x03}, nil, nil)
		if r.MimeType != MimeBinary || !r.IsBinary {
			t.Errorf("Classify() = %+v", r)
		}
	})

	t.Run("caller metadata wins", func(t *testing.T) {
		mime := "video/webm"
		binary := false
		r := p.Classify([]byte("not really video"), &mime, &binary)
		if r.MimeType != mime || r.IsBinary || !r.IsAlreadyCompressed {
			t.Errorf("Classify() = %+v", r)
		}
	})

	t.Run("custom table", func(t *testing.T) {
		custom := Policy{AlreadyCompressed: []string{"text/*"}}
		r := custom.Classify([]byte("plain"), nil, nil)
		if !r.IsAlreadyCompressed {
			t.Error("text/* pattern did not match text/plain")
		}
	})
}
