package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
	multiSpaceRe   = regexp.MustCompile(` {2,}`)
	wordRe         = regexp.MustCompile(`\p{L}{3,}`)
)

const (
	minTextLength       = 10
	minWordCount        = 3
	maxNonPrintableRate = 0.3
)

var errorPlaceholders = []string{
	"[error extracting",
	"error parsing word document",
	"error parsing excel document",
	"failed to extract text",
	"unable to extract",
	"extraction failed",
	"could not be processed",
}

// Normalize unifies line endings and collapses runs of blank lines and spaces.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", " ")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, " \n", "\n")
	s = multiNewlineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Validate returns a reason when text is not worth indexing, or "" when it
// passes.
func Validate(s string) string {
	if len([]rune(s)) < minTextLength {
		return "extracted text is too short"
	}
	if nonPrintableRatio(s) > maxNonPrintableRate {
		return "extracted text is mostly unreadable binary data"
	}
	if len(wordRe.FindAllStringIndex(s, minWordCount)) < minWordCount {
		return "extracted text contains too few words"
	}
	lower := strings.ToLower(s)
	for _, p := range errorPlaceholders {
		if strings.Contains(lower, p) {
			return "extracted text is an extraction error message"
		}
	}
	return ""
}

// rawNonPrintableRatio measures undecoded bytes, so invalid UTF-8 is counted
// before decoding drops it.
func rawNonPrintableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	bad := 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		switch {
		case r == utf8.RuneError && size <= 1:
			bad++
		case r == '\n' || r == '\r' || r == '\t' || r == ' ':
		case !unicode.IsPrint(r):
			bad += size
		}
		i += size
	}
	return float64(bad) / float64(len(data))
}

func nonPrintableRatio(s string) float64 {
	total, bad := 0, 0
	for _, r := range s {
		total++
		if r == '\n' || r == ' ' {
			continue
		}
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			bad++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}
