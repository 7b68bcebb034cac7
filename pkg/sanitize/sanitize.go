package sanitize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxDisplayNameRunes = 64
	maxIdentifierLen    = 128
)

var (
	tagRegex        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
	identifierRegex = regexp.MustCompile(`[^a-zA-Z0-9_.:-]`)
)

// DisplayName cleans a peer-supplied name before it is shown in a notice.
// Tags and control characters are removed, whitespace collapsed, and the result truncated.
func DisplayName(input string) string {
	input = tagRegex.ReplaceAllString(input, "")
	input = StripControlCharacters(input)
	input = whitespaceRegex.ReplaceAllString(strings.TrimSpace(input), " ")

	runes := []rune(input)
	if len(runes) > maxDisplayNameRunes {
		input = string(runes[:maxDisplayNameRunes]) + "…"
	}
	return input
}

// Identifier keeps only characters valid in room and user ids
func Identifier(input string) string {
	input = identifierRegex.ReplaceAllString(strings.TrimSpace(input), "")
	if len(input) > maxIdentifierLen {
		input = input[:maxIdentifierLen]
	}
	return input
}

// AvatarURL returns the input if it is an absolute http(s) URL, otherwise ""
func AvatarURL(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	u, err := url.Parse(input)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
