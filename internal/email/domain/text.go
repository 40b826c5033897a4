package domain

import (
	"regexp"
	"strings"
)

var (
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
	htmlBlockRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
)

// PlainText strips markup from an HTML body and collapses whitespace.
func PlainText(html string) string {
	s := htmlBlockRe.ReplaceAllString(html, " ")
	s = htmlTagRe.ReplaceAllString(s, " ")
	// Unescape HTML entities (basic ones)
	s = strings.NewReplacer(
		"&nbsp;", " ",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&amp;", "&",
	).Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
