package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
)

var wiringTableVocabulary = []string{"motor", "servo"}

// Ports named in prose, e.g. "the left motor is connected to the M1 interface".
var (
	leftPortClause  = regexp.MustCompile(`(?i)M1[^.]*interface[^.]*`)
	rightPortClause = regexp.MustCompile(`(?i)M3[^.]*interface[^.]*`)
)

// extractWiring combines the wiring section text with any motor/servo table on the page.
func extractWiring(doc *goquery.Document, sections map[sectionKind]section) *lesson.Wiring {
	var w lesson.Wiring
	if s, ok := sections[sectionWiring]; ok {
		w.Description = lesson.StringPtr(joinLines(sectionLines(s, true)))
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if !containsAny(strings.ToLower(table.Text()), wiringTableVocabulary) {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td, th")
			if cells.Length() < 2 {
				return
			}
			port := lesson.Port{Port: normalizeSpace(cells.Eq(1).Text())}
			if port.Port == "" {
				return
			}
			if cells.Length() > 2 {
				port.Note = normalizeSpace(cells.Eq(2).Text())
			}
			assignPort(&w, strings.ToLower(normalizeSpace(cells.Eq(0).Text())), port)
		})
	})

	if w.Description != nil {
		portsFromText(&w, *w.Description)
	}

	if w.Empty() {
		return nil
	}
	return &w
}

// assignPort fills the slot named by label. A slot keeps its first value.
func assignPort(w *lesson.Wiring, label string, port lesson.Port) {
	var slot **lesson.Port
	switch {
	case strings.Contains(label, "left"):
		slot = &w.LeftMotor
	case strings.Contains(label, "right"):
		slot = &w.RightMotor
	case strings.Contains(label, "servo"):
		slot = &w.Servo
	case strings.Contains(label, "camera"), strings.Contains(label, "wifi"):
		slot = &w.Camera
	default:
		return
	}
	if *slot == nil {
		p := port
		*slot = &p
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// portsFromText fills motor slots the tables left empty.
func portsFromText(w *lesson.Wiring, text string) {
	if w.LeftMotor == nil {
		if m := leftPortClause.FindString(text); m != "" {
			w.LeftMotor = &lesson.Port{Port: "M1", Note: strings.TrimSpace(m)}
		}
	}
	if w.RightMotor == nil {
		if m := rightPortClause.FindString(text); m != "" {
			w.RightMotor = &lesson.Port{Port: "M3", Note: strings.TrimSpace(m)}
		}
	}
}
