package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText means the document parsed fine but yielded no extractable text.
// Downstream stages must never receive empty input silently.
var ErrNoText = errors.New("no readable text found in document")

// Extractor converts raw document bytes into plain text.
type Extractor interface {
	Extract(data []byte, format DocumentFormat) (string, error)
}

type pdfExtractor struct{}

// NewExtractor returns the default extractor. PDF is the only format it
// handles today.
func NewExtractor() Extractor {
	return pdfExtractor{}
}

func (pdfExtractor) Extract(data []byte, format DocumentFormat) (string, error) {
	if format != FormatPDF {
		return "", fmt.Errorf("unsupported document format: %q", format)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		sb.WriteString(text)
		sb.WriteString("\n")
	}

	extracted := strings.TrimSpace(sb.String())
	if extracted == "" {
		return "", ErrNoText
	}

	return extracted, nil
}
