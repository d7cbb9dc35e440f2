// Package classify decides how a blob is described and whether it is
// worth compressing.
package classify

import (
	"bytes"
	"strings"

	"github.com/h2non/filetype"
)

const (
	// SampleSize is the prefix inspected for the binary heuristic.
	SampleSize = 1024

	// SniffSize is enough prefix for magic-number MIME detection.
	SniffSize = 8192

	// printableRatio is the minimum share of printable bytes for text.
	printableRatio = 0.70

	MimeText   = "text/plain"
	MimeBinary = "application/octet-stream"
)

// DefaultAlreadyCompressed lists MIME patterns whose payload is already
// compressed. A trailing "/*" matches the whole top-level type.
var DefaultAlreadyCompressed = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/avif",
	"image/heic",
	"video/*",
	"audio/*",
	"application/zip",
	"application/gzip",
	"application/x-gzip",
	"application/x-bzip2",
	"application/x-xz",
	"application/x-7z-compressed",
	"application/x-rar-compressed",
	"application/vnd.rar",
	"application/zstd",
	"application/pdf",
	"application/epub+zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"font/woff",
	"font/woff2",
}

// Policy is the injected classification table.
type Policy struct {
	AlreadyCompressed []string
}

// DefaultPolicy returns a policy using DefaultAlreadyCompressed.
func DefaultPolicy() Policy {
	return Policy{AlreadyCompressed: append([]string(nil), DefaultAlreadyCompressed...)}
}

// Result is the classification of one blob.
type Result struct {
	MimeType            string
	IsBinary            bool
	IsAlreadyCompressed bool
}

// IsAlreadyCompressed reports whether mime matches any policy pattern.
// Parameters such as "; charset=" are ignored.
func (p Policy) IsAlreadyCompressed(mime string) bool {
	mime = normalize(mime)
	if mime == "" {
		return false
	}
	for _, pattern := range p.AlreadyCompressed {
		pattern = normalize(pattern)
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(mime, prefix+"/") {
				return true
			}
			continue
		}
		if pattern == mime {
			return true
		}
	}
	return false
}

// Classify inspects head, the first bytes of the content. Non-nil mime and
// binary override detection.
func (p Policy) Classify(head []byte, mime *string, binary *bool) Result {
	var r Result

	if binary != nil {
		r.IsBinary = *binary
	} else {
		r.IsBinary = IsBinary(head)
	}

	switch {
	case mime != nil && *mime != "":
		r.MimeType = *mime
	default:
		r.MimeType = Sniff(head, r.IsBinary)
	}

	r.IsAlreadyCompressed = p.IsAlreadyCompressed(r.MimeType)
	return r
}

// Sniff returns the MIME type matched by magic number, falling back to
// text/plain or application/octet-stream.
func Sniff(head []byte, isBinary bool) string {
	if len(head) > SniffSize {
		head = head[:SniffSize]
	}
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if isBinary {
		return MimeBinary
	}
	return MimeText
}

// IsBinary reports whether the first SampleSize bytes contain a NUL byte
// or fewer than 70% printable ASCII characters. Empty content is text.
func IsBinary(head []byte) bool {
	if len(head) > SampleSize {
		head = head[:SampleSize]
	}
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}

	printable := 0
	for _, c := range head {
		if (c >= 0x20 && c < 0x7f) || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == '\b' {
			printable++
		}
	}
	return float64(printable)/float64(len(head)) < printableRatio
}

func normalize(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
