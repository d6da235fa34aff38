package services

import (
	"strings"
)

// maxTitleRunes bounds generated titles; models occasionally ignore the
// "3-5 words" instruction.
const maxTitleRunes = 80

const titleQuotes = "\"'`“”‘’*"

// CleanTitle normalises a generated title: first line only, a leading
// "Title:" label and surrounding quotes removed, whitespace trimmed.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}

	title = strings.TrimSpace(strings.Trim(title, titleQuotes))
	if len(title) >= len("title:") && strings.EqualFold(title[:len("title:")], "title:") {
		title = strings.TrimSpace(title[len("title:"):])
	}

	title = strings.Trim(title, titleQuotes)
	title = strings.TrimSpace(title)

	if r := []rune(title); len(r) > maxTitleRunes {
		title = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return title
}
