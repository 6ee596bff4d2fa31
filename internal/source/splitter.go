package source

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/timmy/nagato/internal/domain"
	"github.com/tmc/langchaingo/textsplitter"
)

// Splitter cuts documents into overlapping text windows. Markdown is split
// along headings; PDF text is extracted page by page first.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// NewSplitter creates a splitter with the given window size and overlap,
// both in characters.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split returns the text chunks of doc in order.
func (s *Splitter) Split(doc Document) ([]string, error) {
	switch doc.Type {
	case domain.IngestTypeMarkdown:
		md := textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(s.chunkSize),
			textsplitter.WithChunkOverlap(s.chunkOverlap),
		)
		return md.SplitText(string(doc.Body))
	case domain.IngestTypePDF:
		text, err := pdfText(doc.Body)
		if err != nil {
			return nil, err
		}
		return s.recursive().SplitText(text)
	case domain.IngestTypeTXT:
		return s.recursive().SplitText(string(doc.Body))
	default:
		return nil, &domain.ConfigurationError{Key: string(doc.Type), Kind: domain.ErrUnsupportedType}
	}
}

func (s *Splitter) recursive() textsplitter.RecursiveCharacter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.chunkSize),
		textsplitter.WithChunkOverlap(s.chunkOverlap),
	)
}

func pdfText(body []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}
