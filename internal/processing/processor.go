package processing

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var (
	tags       = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// StripHTML removes markup and entities and squeezes whitespace. Feed
// descriptions frequently arrive as HTML fragments.
func StripHTML(input string) string {
	if input == "" {
		return ""
	}
	out := tags.ReplaceAllString(input, " ")
	out = html.UnescapeString(out)
	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// Snippet picks the article body from a feed item: the short description
// when present, otherwise the full content, otherwise empty. The lossy
// fallback is intentional; some feeds omit a summary entirely.
func Snippet(description, content string) string {
	if s := StripHTML(description); s != "" {
		return s
	}
	return StripHTML(content)
}

// CombinedText joins title and content into the text that gets embedded.
func CombinedText(title, content string) string {
	return strings.TrimSpace(title + " " + content)
}

// NormalizeLink canonicalizes an article URL for deduplication: lowercased
// scheme and host, no fragment, no trailing slash. Returns the trimmed
// input when it does not parse as a URL.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
