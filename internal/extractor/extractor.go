// Package extractor converts stored documents into plain text.
//
// Supported formats:
//   - .pdf:  PDF text extraction (pdfcpu, content stream decoding)
//   - .docx: Microsoft Word (archive/zip, word/document.xml, raw text only)
//   - .txt:  plain text (UTF-8 decode)
//
// Extraction is a pure transformation of file bytes to text; it has no side
// effects on the file or the job record.
package extractor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"studysum/internal/common"
)

// Format identifies a supported document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
	FormatTXT  Format = "txt"
)

// ErrUnsupportedFormat marks file extensions outside the supported set.
var ErrUnsupportedFormat = errors.New("unsupported file type")

// Detect returns the document format based on the filename extension.
func Detect(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDocx, nil
	case ".txt":
		return FormatTXT, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Extract reads the file at path and returns its plain-text content.
func Extract(path string, format Format) (string, error) {
	switch format {
	case FormatPDF:
		return extractPDF(path)
	case FormatDocx:
		return extractDocx(path)
	case FormatTXT:
		return extractText(path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}
}

// MimeForFilename returns the download content type for a stored original.
func MimeForFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return common.MimePDF
	case ".docx":
		return common.MimeDOCX
	case ".txt":
		return common.MimeText
	default:
		return common.MimeOctet
	}
}
