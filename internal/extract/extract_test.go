package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

func TestNormalize(t *testing.T) {
	in := "  Line one\r\nLine  two\r\r\n\n\nLine   three  "
	require.Equal(t, "Line one\nLine two\n\nLine three", Normalize(in))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		text string
		ok   bool
	}{
		{"too short", "tiny", false},
		{"few words", "12345 67890 ab cd", false},
		{"placeholder", "[Error extracting text from page one of the report]", false},
		{"binary", "alpha bravo charlie delta" + strings.Repeat("\x01\x02", 12), false},
		{"ok", "Quarterly revenue grew across every region.", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason := Validate(tc.text)
			if tc.ok {
				require.Empty(t, reason)
			} else {
				require.NotEmpty(t, reason)
			}
		})
	}
}

func TestExtractPlainText(t *testing.T) {
	res, err := Extract(context.Background(), []byte("Hello there,\r\nthis is  a plain document."), "text/plain; charset=utf-8", "a.txt")
	require.NoError(t, err)
	require.Equal(t, MimeText, res.MimeType)
	require.Equal(t, "Hello there,\nthis is a plain document.", res.Text)
}

func TestExtractMarkdownDropsSyntax(t *testing.T) {
	md := "# Pricing Guide\n\nOur **premium** plan costs [forty dollars](http://x).\n\n- first item here\n- second item here\n"
	res, err := Extract(context.Background(), []byte(md), "", "guide.md")
	require.NoError(t, err)
	require.Equal(t, MimeMarkdown, res.MimeType)
	require.Contains(t, res.Text, "Pricing Guide")
	require.Contains(t, res.Text, "Our premium plan costs forty dollars.")
	require.NotContains(t, res.Text, "**")
	require.NotContains(t, res.Text, "http://x")
}

func TestExtractHTMLStripsTags(t *testing.T) {
	doc := "<html><head><style>p{color:red}</style></head><body><p>Welcome to the &amp; handbook</p><div>Second section text</div></body></html>"
	res, err := Extract(context.Background(), []byte(doc), "text/html", "")
	require.NoError(t, err)
	require.Contains(t, res.Text, "Welcome to the & handbook")
	require.NotContains(t, res.Text, "<p>")
	require.NotContains(t, res.Text, "color:red")
}

func TestExtractXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Region"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Revenue"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Europe"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "1200"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := Extract(context.Background(), buf.Bytes(), MimeXLSX, "report.xlsx")
	require.NoError(t, err)
	require.Contains(t, res.Text, "Region | Revenue")
	require.Contains(t, res.Text, "Europe | 1200")
}

func TestExtractRejectsShortText(t *testing.T) {
	_, err := Extract(context.Background(), []byte("hi"), MimeText, "short.txt")
	require.Error(t, err)
	var extErr *appErr.ExtractionError
	require.True(t, errors.As(err, &extErr))
	require.Contains(t, extErr.Notice, "short.txt")
}

func TestExtractCorruptDocx(t *testing.T) {
	_, err := Extract(context.Background(), []byte("definitely not a zip archive"), MimeDOCX, "broken.docx")
	require.True(t, appErr.IsExtraction(err))
}

func TestValidateRejectsControlCharacters(t *testing.T) {
	text := "alpha bravo charlie delta" + strings.Repeat("\x01\x02", 12)
	require.Equal(t, "extracted text is mostly unreadable binary data", Validate(text))
}

func TestExtractRejectsMostlyInvalidBytes(t *testing.T) {
	data := []byte("Quarterly revenue grew across every region.")
	for i := 0; i < 140; i++ {
		data = append(data, 0xff, 0xfe, 0x9c)
	}
	for _, mt := range []string{MimeText, ""} {
		_, err := Extract(context.Background(), data, mt, "blob.bin")
		var extErr *appErr.ExtractionError
		require.ErrorAs(t, err, &extErr, "mime %q", mt)
		require.Contains(t, extErr.Reason, "binary")
		require.NotEmpty(t, extErr.Notice)
	}
}

func TestExtractUnknownMimeDecodesRaw(t *testing.T) {
	data := append([]byte("Valid words survive decoding "), 0xff, 0xfe)
	data = append(data, []byte(" and continue afterwards")...)
	res, err := Extract(context.Background(), data, "application/x-custom", "")
	require.NoError(t, err)
	require.False(t, strings.ContainsRune(res.Text, '�'))
	require.Contains(t, res.Text, "continue afterwards")
}

func TestResolveMimeType(t *testing.T) {
	require.Equal(t, MimeMarkdown, resolveMimeType([]byte("# title"), "", "notes.markdown"))
	require.Equal(t, MimeCSV, resolveMimeType([]byte("a,b\n1,2"), "application/octet-stream", "data.csv"))
	require.Equal(t, MimePDF, resolveMimeType([]byte("%PDF-1.4\n"), "", "x"))
	require.Equal(t, MimeHTML, resolveMimeType(nil, "text/html; charset=utf-8", ""))
}
