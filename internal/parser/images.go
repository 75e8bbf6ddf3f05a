package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
)

const (
	classifyMaxDepth   = 5
	classifyTextPrefix = 200
)

var (
	wiringVocabulary   = []string{"wiring", "connection", "connect the", "接线"}
	blocksVocabulary   = []string{"building block", "block card", "blocks used"}
	combinedVocabulary = []string{"combining", "combined", "program", "code"}
)

// sectionImageTypes assigns a type to images found inside a labeled section.
var sectionImageTypes = map[sectionKind]lesson.ImageType{
	sectionWiring: lesson.ImageWiring,
	sectionBlocks: lesson.ImageBlocks,
	sectionCode:   lesson.ImageCombined,
}

// collectImages lists every image once, preferring the type of its enclosing section
// and falling back to the ancestor text heuristic.
func collectImages(doc *goquery.Document, sections map[sectionKind]section, base *url.URL) []lesson.Image {
	scoped := make(map[*html.Node]lesson.ImageType)
	for _, kind := range []sectionKind{sectionWiring, sectionBlocks, sectionCode} {
		s, ok := sections[kind]
		if !ok {
			continue
		}
		for _, n := range s.nodes {
			forEachImg(n, func(img *html.Node) {
				if _, taken := scoped[img]; !taken {
					scoped[img] = sectionImageTypes[kind]
				}
			})
		}
	}

	var out []lesson.Image
	seen := make(map[string]struct{})
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := imageSource(sel, base)
		if !ok {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}

		typ, inSection := scoped[sel.Nodes[0]]
		if !inSection {
			typ = classifyImage(sel.Nodes[0])
		}
		alt, _ := sel.Attr("alt")
		out = append(out, lesson.Image{URL: src, Type: typ, Alt: normalizeSpace(alt)})
	})
	return out
}

// sectionImages lists the images inside one section with a fixed type.
func sectionImages(s section, base *url.URL, typ lesson.ImageType) []lesson.Image {
	out := []lesson.Image{}
	seen := make(map[string]struct{})
	for _, n := range s.nodes {
		forEachImg(n, func(img *html.Node) {
			sel := goquery.NewDocumentFromNode(img).Selection
			src, ok := imageSource(sel, base)
			if !ok {
				return
			}
			if _, dup := seen[src]; dup {
				return
			}
			seen[src] = struct{}{}
			alt, _ := sel.Attr("alt")
			out = append(out, lesson.Image{URL: src, Type: typ, Alt: normalizeSpace(alt)})
		})
	}
	return out
}

// imageSource returns the absolute image URL, skipping inline data and markup debris.
func imageSource(sel *goquery.Selection, base *url.URL) (string, bool) {
	src, _ := sel.Attr("src")
	src = strings.TrimSpace(src)
	if src == "" {
		src, _ = sel.Attr("data-src")
		src = strings.TrimSpace(src)
	}
	if src == "" || strings.HasPrefix(src, "<") || strings.HasPrefix(strings.ToLower(src), "data:") {
		return "", false
	}
	return resolveURL(base, src), true
}

func resolveURL(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil || u.IsAbs() {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// classifyImage walks up to five ancestors. At each level it inspects the previous
// element sibling's text and the first characters of the parent's text, checking
// wiring, blocks, then combined vocabulary. The first hit wins.
func classifyImage(img *html.Node) lesson.ImageType {
	el := img
	for depth := 0; depth < classifyMaxDepth && el != nil; depth++ {
		prevText := ""
		if prev := previousElement(el); prev != nil {
			prevText = nodeText(prev)
		}
		parentText := ""
		if el.Parent != nil {
			parentText = truncateRunes(nodeText(el.Parent), classifyTextPrefix)
		}
		around := strings.ToLower(prevText + " " + parentText)

		switch {
		case containsAny(around, wiringVocabulary):
			return lesson.ImageWiring
		case containsAny(around, blocksVocabulary):
			return lesson.ImageBlocks
		case containsAny(around, combinedVocabulary):
			return lesson.ImageCombined
		}
		el = el.Parent
	}
	return lesson.ImageContent
}

func previousElement(n *html.Node) *html.Node {
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	writeText(&b, n, false)
	return normalizeSpace(b.String())
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func forEachImg(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode && n.Data == "img" {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		forEachImg(c, fn)
	}
}
