// Package compress provides the streaming codecs blobs are stored with.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a storage codec. The string values are persisted in the
// blobs table and must not change.
type Algorithm string

const (
	None Algorithm = ""
	Zstd Algorithm = "zstd"
	LZ4  Algorithm = "lz4"
)

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// MagicLength is the number of leading bytes Detect needs.
const MagicLength = 4

func (a Algorithm) String() string {
	if a == None {
		return "none"
	}
	return string(a)
}

// Parse parses an algorithm name. "none" and "" both mean raw storage.
func Parse(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

// Detect identifies the codec of stored bytes from their frame magic.
func Detect(header []byte) (Algorithm, bool) {
	switch {
	case bytes.HasPrefix(header, zstdMagic):
		return Zstd, true
	case bytes.HasPrefix(header, lz4Magic):
		return LZ4, true
	}
	return None, false
}

// NewWriter wraps w with a compressing writer. The caller must Close the
// returned writer to flush the final frame; closing does not close w.
func NewWriter(alg Algorithm, w io.Writer) (io.WriteCloser, error) {
	switch alg {
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case LZ4:
		return lz4Writer{lz4.NewWriter(w)}, nil
	case None:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", alg)
	}
}

// NewReader wraps r with a decompressing reader. Closing the returned
// reader releases decoder resources but does not close r.
func NewReader(alg Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch alg {
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case None:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", alg)
	}
}

// lz4Writer hides (*lz4.Writer).ReadFrom, which rejects a writer that has
// already been written to. io.Copy then falls back to plain Writes.
type lz4Writer struct {
	zw *lz4.Writer
}

func (w lz4Writer) Write(p []byte) (int, error) { return w.zw.Write(p) }

func (w lz4Writer) Close() error { return w.zw.Close() }

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
