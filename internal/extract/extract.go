package extract

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

const (
	MimeText     = "text/plain"
	MimeCSV      = "text/csv"
	MimeMarkdown = "text/markdown"
	MimeHTML     = "text/html"
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeOctet    = "application/octet-stream"
)

const maxSheetCells = 5000

var (
	htmlScriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	htmlBlockRe  = regexp.MustCompile(`(?i)</?(p|div|br|li|tr|h[1-6])[^>]*>`)
)

// Result is validated, normalised text ready for chunking.
type Result struct {
	Text     string
	MimeType string
}

// Extract turns raw document bytes into normalised text and runs the quality
// gate. Every failure is an *errors.ExtractionError.
func Extract(ctx context.Context, data []byte, mimeType string, filename string) (*Result, error) {
	mt := resolveMimeType(data, mimeType, filename)
	if decodesRaw(mt) && rawNonPrintableRatio(data) > maxNonPrintableRate {
		reason := "extracted text is mostly unreadable binary data"
		return nil, &appErr.ExtractionError{Reason: reason, Notice: failureNotice(filename, reason)}
	}
	raw, err := extractByMime(ctx, data, mt)
	if err != nil {
		return nil, &appErr.ExtractionError{
			Reason: err.Error(),
			Notice: failureNotice(filename, "the file could not be read as "+mt),
		}
	}
	text := Normalize(raw)
	if reason := Validate(text); reason != "" {
		return nil, &appErr.ExtractionError{
			Reason: reason,
			Notice: failureNotice(filename, reason),
		}
	}
	return &Result{Text: text, MimeType: mt}, nil
}

func failureNotice(filename, reason string) string {
	if filename == "" {
		filename = "document"
	}
	return fmt.Sprintf("[Document %q could not be processed: %s. Please upload a text-based copy.]", filename, reason)
}

func resolveMimeType(data []byte, declared string, filename string) string {
	mt := baseMime(declared)
	if mt == "" || mt == mimeOctet {
		mt = baseMime(mimetype.Detect(data).String())
	}
	if mt == MimeText || mt == mimeOctet {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".md", ".markdown":
			return MimeMarkdown
		case ".csv":
			return MimeCSV
		}
	}
	if mt == "text/x-markdown" {
		return MimeMarkdown
	}
	if mt == "application/xhtml+xml" {
		return MimeHTML
	}
	return mt
}

func baseMime(mt string) string {
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = mt[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func extractByMime(ctx context.Context, data []byte, mt string) (string, error) {
	switch mt {
	case MimeText, MimeCSV:
		return decodeUTF8(data), nil
	case MimeMarkdown:
		return markdownToText(data), nil
	case MimeHTML:
		return htmlToText(data), nil
	case MimePDF:
		return pdfToText(ctx, data)
	case MimeDOCX:
		return docxToText(data)
	case MimeXLSX:
		return xlsxToText(ctx, data)
	default:
		return decodeUTF8(data), nil
	}
}

// decodesRaw reports whether mt is read straight from the uploaded bytes
// rather than through a container parser.
func decodesRaw(mt string) bool {
	switch mt {
	case MimePDF, MimeDOCX, MimeXLSX:
		return false
	}
	return true
}

func decodeUTF8(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}

func htmlToText(data []byte) string {
	s := htmlScriptRe.ReplaceAllString(decodeUTF8(data), " ")
	s = htmlBlockRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}

func pdfToText(ctx context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func docxToText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()
	content := doc.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	return html.UnescapeString(htmlTagRe.ReplaceAllString(content, "")), nil
}

func xlsxToText(ctx context.Context, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse xlsx: %w", err)
	}
	defer f.Close()
	var parts []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		var sb strings.Builder
		sb.WriteString("Sheet: " + sheet + "\n")
		cells := 0
		for _, row := range rows {
			var vals []string
			for _, cell := range row {
				if v := strings.TrimSpace(cell); v != "" {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				continue
			}
			sb.WriteString(strings.Join(vals, " | "))
			sb.WriteString("\n")
			cells += len(vals)
			if cells >= maxSheetCells {
				break
			}
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n"), nil
}
