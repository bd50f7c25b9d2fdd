// Package extract provides plain-text extraction from the supported document formats.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for extensions outside the supported set.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Text extracts plain text from content based on the file extension
// (including the leading dot). Output keeps paragraph boundaries as blank
// lines so downstream chunking can split on them.
func Text(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".pptx":
		return extractPPTX(content)
	case ".xlsx":
		return extractXLSX(content)
	case ".txt", ".md":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// FromFile reads path and extracts its text.
func FromFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return Text(content, filepath.Ext(path))
}

// Supported reports whether the extension (with leading dot) can be extracted.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".txt", ".md":
		return true
	}
	return false
}
