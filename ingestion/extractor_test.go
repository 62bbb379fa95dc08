package ingestion

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// buildPDF assembles a minimal one-page PDF holding the given text, with a
// correct xref table so the parser accepts it.
func buildPDF(t *testing.T, text string) []byte {
	t.Helper()

	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)

	return buf.Bytes()
}

func TestExtractReadsPDFText(t *testing.T) {
	extractor := NewExtractor()

	data := buildPDF(t, "The capital of France is Paris.")

	text, err := extractor.Extract(data, FormatPDF)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "The capital of France is Paris.") {
		t.Fatalf("extracted text missing the page content: %q", text)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		filename string
		want     DocumentFormat
	}{
		{"notes.pdf", FormatPDF},
		{"NOTES.PDF", FormatPDF},
		{"week 2 slides.pdf", FormatPDF},
		{"notes.txt", FormatUnknown},
		{"notes.docx", FormatUnknown},
		{"notes", FormatUnknown},
		{"", FormatUnknown},
		{"archive.pdf.zip", FormatUnknown},
	}

	for _, tc := range cases {
		if got := DetectFormat(tc.filename); got != tc.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestExtractRejectsUnknownFormat(t *testing.T) {
	extractor := NewExtractor()

	if _, err := extractor.Extract([]byte("plain text"), FormatUnknown); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestExtractRejectsMalformedPDF(t *testing.T) {
	extractor := NewExtractor()

	if _, err := extractor.Extract([]byte("this is not a pdf"), FormatPDF); err == nil {
		t.Fatal("expected error for malformed pdf bytes")
	}
}
