package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads per-page text from a PDF file on disk.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract parses the PDF at the given file path, producing one Page per
// PDF page so chunks can carry page numbers for citations.
func (e *PDFExtractor) Extract(ctx context.Context, source string) (*Result, error) {
	if _, err := os.Stat(source); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, source)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, source, err)
	}

	f, r, err := pdf.Open(source)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pdf %s: %v", ErrUnsupported, source, err)
	}
	defer f.Close()

	var pages []Page
	var total strings.Builder
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// One unreadable page should not sink the whole document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
		total.WriteString(text)
		total.WriteString("\n\n")
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no extractable text in %s", ErrUnsupported, source)
	}

	title := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))

	return &Result{
		Title:   title,
		Content: strings.TrimSpace(total.String()),
		Pages:   pages,
		Metadata: map[string]string{
			"page_count": strconv.Itoa(numPages),
		},
	}, nil
}
