// Package parser turns lesson page HTML into lesson records.
//
// Pages are loosely structured: a heading (h1-h3) names a section and the
// content runs until the next heading of the same levels. Every field is
// optional, so a missing section yields an empty field rather than an error.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
)

const headingSelector = "h1, h2, h3"

type sectionKind int

const (
	sectionObjective sectionKind = iota
	sectionWiring
	sectionBlocks
	sectionCode
	sectionPhenomenon
)

// sectionLabels is checked in order; the first label contained in a heading wins.
var sectionLabels = []struct {
	kind   sectionKind
	labels []string
}{
	{sectionObjective, []string{"learning objective"}},
	{sectionWiring, []string{"motor wiring", "wiring"}},
	{sectionBlocks, []string{"building block"}},
	{sectionCode, []string{"combined block", "combining"}},
	{sectionPhenomenon, []string{"experimental phenomenon", "phenomenon"}},
}

// section holds the sibling nodes between a labeled heading and the next heading.
type section struct {
	nodes []*html.Node
}

// Parse extracts a lesson record from rawHTML. pageURL resolves relative image links.
// Identity fields (ID, section, scrape time) are left for the caller.
func Parse(rawHTML string, pageURL string) (lesson.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return lesson.Record{}, fmt.Errorf("parse lesson html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	sections := findSections(doc)
	rec := lesson.Record{
		Title:     normalizeSpace(doc.Find("h1").First().Text()),
		SourceURL: pageURL,
	}

	if s, ok := sections[sectionObjective]; ok {
		rec.Objective = lesson.StringPtr(joinLines(sectionLines(s, false)))
	}
	rec.MotorWiring = extractWiring(doc, sections)
	if s, ok := sections[sectionBlocks]; ok {
		rec.BlocksUsed = extractBlocks(sectionLines(s, false))
	}
	if s, ok := sections[sectionPhenomenon]; ok {
		rec.Phenomenon = lesson.StringPtr(summarizePhenomenon(joinLines(sectionLines(s, false))))
	}
	rec.HexFiles = findHexFiles(doc)
	if pre := doc.Find("pre").First(); pre.Length() > 0 {
		rec.PythonCode = lesson.StringPtr(strings.TrimSpace(pre.Text()))
	}

	rec.Images = collectImages(doc, sections, base)
	if s, ok := sections[sectionCode]; ok {
		rec.Code = &lesson.Code{
			Description: lesson.StringPtr(joinLines(sectionLines(s, false))),
			Images:      sectionImages(s, base, lesson.ImageCombined),
		}
	}
	return rec, nil
}

// Images classifies every image on the page without building a full record.
func Images(rawHTML string, pageURL string) ([]lesson.Image, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	base, _ := url.Parse(pageURL)
	return collectImages(doc, findSections(doc), base), nil
}

// findSections maps each known label to the first heading that carries it.
func findSections(doc *goquery.Document) map[sectionKind]section {
	found := make(map[sectionKind]section)
	doc.Find(headingSelector).Each(func(_ int, h *goquery.Selection) {
		kind, ok := classifyHeading(h.Text())
		if !ok {
			return
		}
		if _, dup := found[kind]; dup {
			return
		}
		found[kind] = section{nodes: siblingsUntilHeading(h.Nodes[0])}
	})
	return found
}

func classifyHeading(text string) (sectionKind, bool) {
	lower := strings.ToLower(normalizeSpace(text))
	for _, entry := range sectionLabels {
		for _, label := range entry.labels {
			if strings.Contains(lower, label) {
				return entry.kind, true
			}
		}
	}
	return 0, false
}

// siblingsUntilHeading collects the nodes after h up to, but excluding, the next
// sibling that is or contains an h1-h3 element.
func siblingsUntilHeading(h *html.Node) []*html.Node {
	var nodes []*html.Node
	for n := h.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && (isHeading(n) || containsHeading(n)) {
			break
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func isHeading(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "h1", "h2", "h3":
		return true
	}
	return false
}

func containsHeading(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isHeading(c) || containsHeading(c) {
			return true
		}
	}
	return false
}
