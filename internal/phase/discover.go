package phase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/catalog"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

// CourseMappingsKey marks discovery as done in the checkpoint.
const CourseMappingsKey = "course_mappings"

const menuSelector = ".left-menu"

// menuScript lists every navigation link of the course menu in document order.
const menuScript = `Array.from(document.querySelectorAll('.left-menu a, .menu a, nav a')).map(a => ({text: (a.textContent || '').trim(), href: a.href || ''}))`

var (
	courseHeader = regexp.MustCompile(`^(\d+\.[A-Z])\b`)
	sensorTopic  = regexp.MustCompile(`(?i)sensor|ultrasonic|PIR|light|temperature|color|joystick`)
)

// MenuLink is one anchor from the course menu.
type MenuLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// MappedLesson is a lesson link under a course section.
type MappedLesson struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

// CourseMapping lists the lessons found for one gallery build.
type CourseMapping struct {
	Section string         `json:"section"`
	Name    string         `json:"name"`
	Lessons []MappedLesson `json:"lessons"`
}

// CourseMappings is the discovery output document.
type CourseMappings struct {
	Subjects         map[string]map[string]CourseMapping `json:"-"`
	SensorPrinciples []MappedLesson                      `json:"sensorPrinciples"`
	DiscoveredAt     time.Time                           `json:"discoveredAt"`
}

// document flattens subjects to top-level keys: {"makecode": {...}, "python": {...}, ...}.
func (m CourseMappings) document() map[string]any {
	doc := make(map[string]any, len(m.Subjects)+2)
	for subject, builds := range m.Subjects {
		doc[subject] = builds
	}
	doc["sensorPrinciples"] = m.SensorPrinciples
	doc["discoveredAt"] = m.DiscoveredAt
	return doc
}

// CourseDiscovery maps the site's course menu onto gallery builds.
type CourseDiscovery struct {
	deps    Deps
	cat     *catalog.Catalog
	browser Browser
	baseURL string
	outPath string
}

// NewCourseDiscovery builds the discover phase.
func NewCourseDiscovery(deps Deps, cat *catalog.Catalog, browser Browser, baseURL, outPath string) *CourseDiscovery {
	return &CourseDiscovery{deps: deps, cat: cat, browser: browser, baseURL: baseURL, outPath: outPath}
}

// Name implements Runner.
func (d *CourseDiscovery) Name() string {
	return Discover
}

// Run implements Runner.
func (d *CourseDiscovery) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	log := d.deps.logger().With(zap.String("phase", Discover))
	if d.deps.Tracker.IsKeyComplete(CourseMappingsKey) {
		log.Info("Course mappings already discovered")
		summary.Skipped++
		observe(Discover, "skipped")
		return summary, nil
	}
	if err := d.deps.Tracker.SetBuildStatus(CourseMappingsKey, Discover, state.InProgress); err != nil {
		return summary, err
	}

	links, err := withBrowser(ctx, d.deps, "discover menu", func(ctx context.Context) ([]MenuLink, error) {
		var out []MenuLink
		err := d.browser.Evaluate(ctx, d.baseURL, menuSelector, menuScript, &out)
		return out, err
	})
	if err != nil {
		if isCanceled(ctx, err) {
			return summary, ctx.Err()
		}
		log.Error("Course discovery failed", zap.Error(err))
		summary.Failed++
		observe(Discover, "failed")
		return summary, d.deps.Tracker.MarkFailed(CourseMappingsKey, Discover, fmt.Sprintf("discover courses: %v", err))
	}

	mappings := GroupLinks(d.cat, links, d.deps.Clock.Now())
	if err := output.WriteJSON(d.outPath, mappings.document()); err != nil {
		return summary, err
	}
	log.Info("Saved course mappings", zap.String("path", d.outPath), zap.Int("links", len(links)))

	if err := d.deps.Tracker.MarkKeyComplete(CourseMappingsKey); err != nil {
		return summary, err
	}
	if err := d.deps.Tracker.MarkComplete(CourseMappingsKey, Discover); err != nil {
		return summary, err
	}
	summary.Processed++
	observe(Discover, "complete")
	return summary, nil
}

// GroupLinks assigns menu links to catalog courses. A link whose text starts
// with a course label such as "3.A" opens that course; following links are
// its lessons until the next course label.
func GroupLinks(cat *catalog.Catalog, links []MenuLink, now time.Time) CourseMappings {
	bySection := make(map[string][]MappedLesson)
	current := ""
	var sensors []MappedLesson

	for _, link := range links {
		text := strings.TrimSpace(link.Text)
		if text == "" {
			continue
		}
		if m := courseHeader.FindStringSubmatch(text); m != nil {
			current = m[1]
			continue
		}
		item := MappedLesson{Title: text, Href: link.Href}
		if current != "" {
			bySection[current] = append(bySection[current], item)
		}
		if sensorTopic.MatchString(text) {
			sensors = append(sensors, item)
		}
	}

	out := CourseMappings{
		Subjects:         make(map[string]map[string]CourseMapping),
		SensorPrinciples: sensors,
		DiscoveredAt:     now,
	}
	if out.SensorPrinciples == nil {
		out.SensorPrinciples = []MappedLesson{}
	}
	for _, course := range cat.Courses {
		builds, ok := out.Subjects[course.Subject]
		if !ok {
			builds = make(map[string]CourseMapping)
			out.Subjects[course.Subject] = builds
		}
		lessons := bySection[course.Section]
		if lessons == nil {
			lessons = []MappedLesson{}
		}
		builds[course.Build] = CourseMapping{Section: course.Section, Name: course.Name, Lessons: lessons}
	}
	return out
}
