// Package ingestion turns uploaded course documents into indexed chunk
// embeddings plus one metadata row per document.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported upload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents PDF documents, currently the only ingestable format.
	FormatPDF DocumentFormat = "pdf"
)

// DetectFormat infers a document format from the provided filename's extension.
func DetectFormat(filename string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}
