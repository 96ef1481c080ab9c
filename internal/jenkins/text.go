package jenkins

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

const maxErrorTextLength = 2000

// plainText renders an error body as a single line of text. Jenkins answers
// most failures with a full HTML page; markup, scripts and styles are dropped.
func plainText(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	var parts []string
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed document, either way keep what was read
			return truncate(strings.Join(parts, " "))
		case html.StartTagToken:
			if isHiddenTag(z) {
				skip++
			}
		case html.EndTagToken:
			if isHiddenTag(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func isHiddenTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "head":
		return true
	}
	return false
}

func truncate(s string) string {
	if len(s) <= maxErrorTextLength {
		return s
	}
	return s[:maxErrorTextLength] + "..."
}

// SplitLines splits a log body into lines. A trailing newline does not
// produce an empty last line and an empty body yields no lines.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
