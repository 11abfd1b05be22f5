package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentExtractions bounds ExtractFiles.
const maxConcurrentExtractions = 4

var pdfMagic = []byte("%PDF")

// Document is the text extracted from one source.
type Document struct {
	Path string
	Text string
}

// IsPDF reports whether data starts with the PDF magic bytes.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// ExtractText returns the plain text of the file at path. PDF files are
// decoded page by page; anything else is read as UTF-8 text.
func ExtractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") || IsPDF(data) {
		text, err := PDFText(data)
		if err != nil {
			return "", fmt.Errorf("extracting %s: %w", path, err)
		}
		return text, nil
	}
	return decodeText(data)
}

// ExtractBytes returns the plain text of an in-memory document.
func ExtractBytes(data []byte) (string, error) {
	if IsPDF(data) {
		return PDFText(data)
	}
	return decodeText(data)
}

// PDFText returns the plain text of all pages of a PDF document.
// The parser panics on some malformed input; that is reported as an error.
func PDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

func decodeText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content is not valid UTF-8 text")
	}
	return string(data), nil
}

// ExtractFiles extracts paths concurrently. Results are in input order; the
// first failure cancels the remaining work.
func ExtractFiles(ctx context.Context, paths []string) ([]Document, error) {
	docs := make([]Document, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentExtractions)

	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := ExtractText(p)
			if err != nil {
				return err
			}
			docs[i] = Document{Path: p, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
