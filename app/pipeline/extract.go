package pipeline

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)

// ExtractURLs pulls every http(s) URL out of a raw message, trimming the
// trailing punctuation chat clients glue onto links. Order is preserved and
// duplicates collapse to the first occurrence.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var urls []string

	for _, match := range matches {
		match = strings.TrimRight(match, ".,!?;:")
		if match == "" {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		urls = append(urls, match)
	}

	return urls
}
