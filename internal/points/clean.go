package points

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var htmlTagRe = regexp.MustCompile(`(?i)<\s*(html|head|body|div|p|span|h[1-6]|a|img|ul|ol|li|table|script|style)\b`)

// skippedTags are elements whose text content never belongs in a deck.
var skippedTags = map[string]bool{
	"script": true,
	"style":  true,
	"nav":    true,
	"footer": true,
	"header": true,
	"aside":  true,
}

// IsHTML reports whether content looks like HTML markup.
func IsHTML(content string) bool {
	return htmlTagRe.MatchString(content)
}

// Clean extracts readable text from HTML content. Plain text passes through
// with whitespace normalized.
func Clean(content string) string {
	if !IsHTML(content) {
		return normalizeLines(content)
	}

	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return normalizeLines(content)
	}

	var sb strings.Builder
	collectText(doc, &sb)
	return normalizeLines(sb.String())
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && skippedTags[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func normalizeLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// Truncate cuts content at a word boundary so it fits the content service's
// input budget. Truncation happens before extraction, so a cut that drops
// trailing numbered points shrinks the point count itself rather than
// breaking the one-to-one mapping downstream.
func Truncate(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := content[:maxChars]
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
