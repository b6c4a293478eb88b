// Package meetlink extracts video-conference URLs from free-form event text.
// Extraction is best-effort: an empty result is a normal outcome, never an
// error.
package meetlink

import (
	"regexp"
	"strings"
)

// providerPatterns match well-known conferencing hosts. Ordered by how
// specific the host is; the first hit wins.
var providerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https://[a-z0-9.-]*zoom\.us/j/[A-Za-z0-9?&=._-]+`),
	regexp.MustCompile(`https://meet\.google\.com/[a-z-]+`),
	regexp.MustCompile(`https://teams\.microsoft\.com/l/meetup-join/[A-Za-z0-9%/?&=._-]+`),
	regexp.MustCompile(`https://[a-z0-9.-]*webex\.com/(?:meet|join)/[A-Za-z0-9._-]+`),
	regexp.MustCompile(`https://meet\.jit\.si/[A-Za-z0-9._-]+`),
}

// genericURL is the fallback for lines that announce a joinable link without
// using a recognised host.
var genericURL = regexp.MustCompile(`https?://[^\s<>"']+`)

// Extract returns the first conferencing URL found in text, or "" when none
// is present. Known provider hosts are preferred anywhere in the text; a
// generic URL is only accepted when it sits on a line that mentions joining.
func Extract(text string) string {
	if text == "" {
		return ""
	}

	for _, re := range providerPatterns {
		if m := re.FindString(text); m != "" {
			return trimTrailingPunct(m)
		}
	}

	for line := range strings.Lines(text) {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "join") && !strings.Contains(lower, "meeting") {
			continue
		}
		if m := genericURL.FindString(line); m != "" {
			return trimTrailingPunct(m)
		}
	}

	return ""
}

// trimTrailingPunct drops sentence punctuation that regexes caught when the
// URL ended a sentence.
func trimTrailingPunct(url string) string {
	return strings.TrimRight(url, ".,;)>")
}
