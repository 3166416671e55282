// Package docext extracts plain text from uploaded documents (PDF, DOCX,
// TXT) before point extraction runs.
package docext

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// FormatHint identifies the document format of an upload. Derive it from the
// filename with HintFromFilename when the caller only has a name.
type FormatHint string

const (
	FormatPDF  FormatHint = "pdf"
	FormatDOCX FormatHint = "docx"
	FormatTXT  FormatHint = "txt"
)

// HintFromFilename maps a filename extension to a FormatHint.
func HintFromFilename(name string) (FormatHint, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDOCX, nil
	case ".txt":
		return FormatTXT, nil
	default:
		return "", domain.UnsupportedFormatError(
			fmt.Sprintf("unsupported file format %q, use PDF, DOCX, or TXT", filepath.Ext(name)), nil)
	}
}

// ExtractText extracts plain text from a document. Unsupported or unreadable
// documents fail with UnsupportedFormat.
func ExtractText(data []byte, hint FormatHint) (string, error) {
	switch hint {
	case FormatPDF:
		return extractPDF(data)
	case FormatDOCX:
		return extractDOCX(data)
	case FormatTXT:
		if !utf8.Valid(data) {
			return "", domain.UnsupportedFormatError("text file is not valid UTF-8", nil)
		}
		return string(data), nil
	default:
		return "", domain.UnsupportedFormatError(fmt.Sprintf("unknown format hint %q", hint), nil)
	}
}

func extractPDF(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", domain.UnsupportedFormatError("failed to open PDF", err)
	}
	defer doc.Close()

	var pages []string
	for pageNum := 0; pageNum < doc.NumPage(); pageNum++ {
		text, err := doc.Text(pageNum)
		if err != nil {
			return "", domain.UnsupportedFormatError(
				fmt.Sprintf("failed to read PDF page %d", pageNum+1), err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}
