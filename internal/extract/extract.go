// Package extract turns uploaded resume bytes into normalized plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/ledongthuc/pdf"
)

var pdfMagic = []byte("%PDF-")

var errNoText = errors.New("document contains no extractable text")

// Extractor pulls text out of PDF files.
type Extractor struct {
	maxChars int
}

func NewExtractor(maxChars int) *Extractor {
	return &Extractor{maxChars: maxChars}
}

// Extract returns normalized text, truncated to the configured maximum.
// Errors are *common.Failure values classified as permanent.
func (e *Extractor) Extract(data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return "", common.Fail(config.ErrorTypeUnsupportedFormat, "only PDF files are supported", nil)
	}

	raw, err := readPDF(data)
	if err != nil {
		return "", common.Fail(config.ErrorTypeCorruptFile, "the PDF could not be read", err)
	}

	text := Normalize(raw)
	if text == "" {
		return "", common.Fail(config.ErrorTypeNoText, "no text found in the PDF; scanned images are not supported", errNoText)
	}

	return Truncate(text, e.maxChars), nil
}

// readPDF recovers from panics in the PDF reader, which happen on some
// malformed cross-reference tables.
func readPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(b), nil
}
