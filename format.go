package imgcrush

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// headerLen is how many leading bytes the classifier inspects.
const headerLen = 16

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// Detect classifies the file at path by its magic bytes, falling back to
// its extension. A missing file is InvalidInput; an unreadable one is
// PermissionDenied. Unknown is returned without error.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, openError(path, err)
	}
	defer f.Close()

	header := make([]byte, headerLen)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Unknown, openError(path, err)
	}
	return DetectHeader(header[:n], path), nil
}

// DetectHeader classifies an already-read header. name is only used for the
// extension fallback.
func DetectHeader(header []byte, name string) Format {
	switch {
	case bytes.HasPrefix(header, pngMagic):
		return PNG
	case bytes.HasPrefix(header, jpegMagic):
		return JPEG
	case len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:12]) == "WEBP":
		return WebP
	case len(header) >= 12 && string(header[4:8]) == "ftyp":
		switch string(header[8:12]) {
		case "heic", "heix", "mif1":
			return HEIC
		case "avif", "avis":
			return AVIF
		}
	}
	return FormatFromExtension(name)
}

// FormatFromExtension maps a file name's extension to a Format.
func FormatFromExtension(name string) Format {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return Unknown
	}
	f, _ := ParseFormat(ext)
	return f
}

// IsSupportedExtension reports whether name carries one of the image
// extensions directory collection picks up.
func IsSupportedExtension(name string) bool {
	return FormatFromExtension(name) != Unknown
}

// openError maps a filesystem error onto the error taxonomy.
func openError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Kind: KindInvalidInput, Msg: "imgcrush: file not found: " + path, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &Error{Kind: KindPermissionDenied, Msg: "imgcrush: cannot read " + path, Err: err}
	default:
		return &Error{Kind: KindInvalidInput, Msg: "imgcrush: cannot open " + path, Err: err}
	}
}
