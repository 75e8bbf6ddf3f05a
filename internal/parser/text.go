package parser

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	phenomenonMaxSentences = 3
	phenomenonMaxChars     = 500
	ellipsis               = "..."
)

var hexFilePattern = regexp.MustCompile(`(?i)[\w-]+\.hex\b`)

// blockElements start a new line when flattening markup to text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
	"ul": true, "ol": true, "pre": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "figure": true, "figcaption": true,
}

// sectionLines flattens a section to whitespace-normalized, non-empty lines.
func sectionLines(s section, skipTables bool) []string {
	var b strings.Builder
	for _, n := range s.nodes {
		writeText(&b, n, skipTables)
	}
	return splitLines(b.String())
}

func writeText(b *strings.Builder, n *html.Node, skipTables bool) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return
		case "table":
			if skipTables {
				return
			}
		}
	case html.DocumentNode:
	default:
		return
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c, skipTables)
	}
	if block {
		b.WriteByte('\n')
	}
	if n.Type == html.ElementNode && (n.Data == "td" || n.Data == "th") {
		b.WriteByte(' ')
	}
}

func splitLines(text string) []string {
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		if line := normalizeSpace(raw); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// normalizeSpace collapses runs of whitespace (including non-breaking spaces) to one space.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinLines(lines []string) string {
	return strings.Join(lines, " ")
}

// summarizePhenomenon keeps the first three sentences, then caps the result at
// 500 characters, cutting at a word boundary and marking the cut with "...".
func summarizePhenomenon(text string) string {
	text = normalizeSpace(text)
	if text == "" {
		return ""
	}
	summary := leadingSentences(text, phenomenonMaxSentences)
	if utf8.RuneCountInString(summary) <= phenomenonMaxChars {
		return summary
	}
	return truncateAtWord(summary, phenomenonMaxChars-utf8.RuneCountInString(ellipsis)) + ellipsis
}

// leadingSentences returns text up to the end of its limit-th sentence. A period
// only ends a sentence when followed by whitespace or the end of text, so "1.5"
// stays intact.
func leadingSentences(text string, limit int) string {
	runes := []rune(text)
	count := 0
	for i, r := range runes {
		if !isSentenceEnd(runes, i, r) {
			continue
		}
		count++
		if count == limit {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return text
}

func isSentenceEnd(runes []rune, i int, r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	case '.', '!', '?':
		return i+1 == len(runes) || unicode.IsSpace(runes[i+1])
	}
	return false
}

// truncateAtWord returns at most limit runes of s, backing up to the last space.
func truncateAtWord(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := runes[:limit]
	if !unicode.IsSpace(runes[limit]) {
		if idx := lastSpace(cut); idx > 0 {
			cut = cut[:idx]
		}
	}
	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':'
	})
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// findHexFiles scans page text, then link targets, for .hex program names.
// Order is first-seen and duplicates are dropped.
func findHexFiles(doc *goquery.Document) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	for _, match := range hexFilePattern.FindAllString(doc.Text(), -1) {
		add(match)
	}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		name := hrefBasename(href)
		if strings.HasSuffix(strings.ToLower(name), ".hex") {
			add(name)
		}
	})
	return out
}

func hrefBasename(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	name := path.Base(href)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}
