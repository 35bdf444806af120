package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

// Extractor pulls plain text out of uploaded documents: PDF via the pdf
// parser, anything else accepted as UTF-8 text. Empty or undecodable
// content is an extraction error, which is fatal for the item but never
// for the batch.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrExtraction, "extract "+filename, fmt.Errorf("empty file"))
	}

	var (
		text string
		err  error
	)
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		text, err = extractPDF(data)
	} else {
		text, err = extractText(data)
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "extract "+filename, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrExtraction, "extract "+filename, fmt.Errorf("no extractable text"))
	}
	return text, nil
}

func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("unsupported binary format")
	}
	return string(data), nil
}
