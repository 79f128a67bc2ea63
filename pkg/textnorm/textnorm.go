// Package textnorm turns raw OCR output into readable text and into the
// canonical form used for denylist matching.
package textnorm

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// sentenceEnd lists the characters that close a merged line
const sentenceEnd = ".?!:;"

// SplitLines splits raw OCR output on line breaks and drops blank lines
func SplitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Merge joins wrapped OCR lines back into sentences. Consecutive lines are
// joined with a single space until the buffer ends in sentence punctuation;
// each finished sentence becomes one output line.
func Merge(lines []string) string {
	var (
		out    []string
		buffer strings.Builder
	)

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if buffer.Len() > 0 {
			buffer.WriteByte(' ')
		}
		buffer.WriteString(line)

		if strings.ContainsAny(line[len(line)-1:], sentenceEnd) {
			out = append(out, buffer.String())
			buffer.Reset()
		}
	}
	if buffer.Len() > 0 {
		out = append(out, buffer.String())
	}

	return strings.Join(out, "\n")
}

var punctuation = strings.NewReplacer(
	"’", "'", // right single quotation mark
	"‘", "'", // left single quotation mark
	"‛", "'", // single high-reversed-9 quotation mark
	"ʼ", "'", // modifier letter apostrophe
	"…", "...", // horizontal ellipsis
)

var lower = cases.Lower(language.Und)

// Canonicalize lowercases text, folds typographic apostrophes and ellipses to
// ASCII and trims surrounding whitespace. It is idempotent.
func Canonicalize(text string) string {
	return strings.TrimSpace(punctuation.Replace(lower.String(text)))
}
