// Package hasher computes the identity hash of stored content.
//
// Files up to twice the threshold are hashed in full with SHA-256. Larger
// files are hashed over a head window, the size, the mtime and a tail
// window, which bounds I/O on low-resource hosts. Two large files that agree
// on all four inputs but differ in the middle hash identically; callers
// rely on that behaviour and it must not be "fixed".
package hasher

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

const (
	// DefaultThreshold is the head/tail window; the full-hash cutover is twice this.
	DefaultThreshold int64 = 1 << 20

	// SampleWindow is the head/tail window of the partial-verify sample hash.
	SampleWindow int64 = 1 << 20

	// PrefixLength is the number of hex characters compared by VerifyPartial.
	PrefixLength = 12

	// EmptyHash is the SHA-256 of zero bytes.
	EmptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	readBufferSize = 64 << 10
)

// ErrPartialMismatch is returned by VerifyPartial when the sampled prefix differs.
var ErrPartialMismatch = errors.New("partial hash prefix mismatch")

// Hasher computes content identity hashes.
type Hasher struct {
	threshold int64
}

// New returns a Hasher using the given window; values <= 0 select DefaultThreshold.
func New(threshold int64) *Hasher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Hasher{threshold: threshold}
}

// Threshold returns the head/tail window size in bytes.
func (h *Hasher) Threshold() int64 {
	return h.threshold
}

// UsesWindows reports whether a file of the given size is hashed by windows
// rather than in full.
func (h *Hasher) UsesWindows(size int64) bool {
	return size > 2*h.threshold
}

// Hash returns the hex identity hash of the file at path.
func (h *Hasher) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if !h.UsesWindows(info.Size()) {
		sum, _, err := HashReader(f)
		return sum, err
	}

	digest := sha256.New()
	if err := writeWindows(digest, f, info.Size(), h.threshold, uint64(info.ModTime().Unix()), true); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// HashReader streams r through SHA-256 and returns the hex digest and the
// number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	digest := sha256.New()
	buf := make([]byte, readBufferSize)
	n, err := io.CopyBuffer(digest, r, buf)
	if err != nil {
		return "", n, fmt.Errorf("reading content: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), n, nil
}

// SampleHash returns SHA-256(head ‖ be_uint64(size) ‖ tail) with
// SampleWindow-sized windows. Files smaller than two windows are sampled
// in full followed by the size.
func SampleHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	digest := sha256.New()
	if err := writeWindows(digest, f, info.Size(), SampleWindow, 0, false); err != nil {
		return "", fmt.Errorf("sampling %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// VerifyPartial compares the first PrefixLength hex characters of the
// sample hash of path against declared.
func VerifyPartial(path string, declared string) error {
	if len(declared) < PrefixLength {
		return fmt.Errorf("declared hash too short: %q", declared)
	}
	sample, err := SampleHash(path)
	if err != nil {
		return err
	}
	if sample[:PrefixLength] != declared[:PrefixLength] {
		return fmt.Errorf("%w: sample %s, declared %s", ErrPartialMismatch, sample[:PrefixLength], declared[:PrefixLength])
	}
	return nil
}

// ValidHex reports whether s is a 64-character lowercase hex digest.
func ValidHex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// writeWindows feeds head(window) ‖ be_uint64(size) [‖ be_uint64(mtime)] ‖
// tail(window) into digest. When the file is no larger than two windows
// the whole content replaces the head and the tail is omitted.
func writeWindows(digest hash.Hash, r io.ReaderAt, size, window int64, mtime uint64, withMtime bool) error {
	var scratch [8]byte

	if size <= 2*window {
		if _, err := io.Copy(digest, io.NewSectionReader(r, 0, size)); err != nil {
			return err
		}
		binary.BigEndian.PutUint64(scratch[:], uint64(size))
		digest.Write(scratch[:])
		if withMtime {
			binary.BigEndian.PutUint64(scratch[:], mtime)
			digest.Write(scratch[:])
		}
		return nil
	}

	if _, err := io.Copy(digest, io.NewSectionReader(r, 0, window)); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(scratch[:], uint64(size))
	digest.Write(scratch[:])
	if withMtime {
		binary.BigEndian.PutUint64(scratch[:], mtime)
		digest.Write(scratch[:])
	}
	if _, err := io.Copy(digest, io.NewSectionReader(r, size-window, window)); err != nil {
		return err
	}
	return nil
}
