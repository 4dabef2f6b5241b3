// Package classify assigns a Kind to an uploaded file from a bounded
// byte prefix and its filename extension.
//
// Classification never reads the full file: signature bytes are checked
// against the first SniffLen bytes, and the extension is only consulted
// when no signature matches. Unknown input classifies as KindUnsupported
// rather than returning an error; the caller decides how to fail.
package classify

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Kind is the classification tag for an uploaded file.
// Every dispatch site must switch over all values.
type Kind int

const (
	KindUnsupported Kind = iota
	KindCSV
	KindImage
	KindPDF
)

// String returns the lowercase name used in logs and job records.
func (k Kind) String() string {
	switch k {
	case KindCSV:
		return "csv"
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// SniffLen is the maximum number of leading bytes Detect inspects.
const SniffLen = 512

// File signatures, longest match wins.
var (
	sigPDF   = []byte("%PDF-")
	sigPNG   = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	sigJPEG  = []byte{0xff, 0xd8}
	sigGIF87 = []byte("GIF87a")
	sigGIF89 = []byte("GIF89a")
)

// extKinds maps filename extensions to a Kind and MIME type for files
// whose content carries no usable signature (delimited text foremost).
var extKinds = map[string]struct {
	kind Kind
	mime string
}{
	".csv":  {KindCSV, "text/csv"},
	".tsv":  {KindCSV, "text/tab-separated-values"},
	".pdf":  {KindPDF, "application/pdf"},
	".png":  {KindImage, "image/png"},
	".jpg":  {KindImage, "image/jpeg"},
	".jpeg": {KindImage, "image/jpeg"},
	".gif":  {KindImage, "image/gif"},
}

// Detect classifies a file from its name and leading bytes.
// It returns the Kind and the MIME type to use downstream.
// prefix may be shorter than SniffLen; bytes past SniffLen are ignored.
func Detect(name string, prefix []byte) (Kind, string) {
	if len(prefix) > SniffLen {
		prefix = prefix[:SniffLen]
	}

	switch {
	case bytes.HasPrefix(prefix, sigPDF):
		return KindPDF, "application/pdf"
	case bytes.HasPrefix(prefix, sigPNG):
		return KindImage, "image/png"
	case bytes.HasPrefix(prefix, sigJPEG):
		return KindImage, "image/jpeg"
	case bytes.HasPrefix(prefix, sigGIF87), bytes.HasPrefix(prefix, sigGIF89):
		return KindImage, "image/gif"
	}

	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := extKinds[ext]; ok {
		return m.kind, m.mime
	}

	return KindUnsupported, "application/octet-stream"
}
