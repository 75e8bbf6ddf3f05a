package phase

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/catalog"
	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
)

// galleryKey identifies the integration unit in the checkpoint.
const galleryKey = "gallery"

// DisplayLesson is the gallery-facing view of a complete lesson record.
type DisplayLesson struct {
	Title      string         `json:"title"`
	Objective  string         `json:"objective"`
	Phenomenon string         `json:"phenomenon"`
	SourceURL  *string        `json:"sourceUrl"`
	Code       *DisplayCode   `json:"code"`
	Images     []lesson.Image `json:"images"`
}

// DisplayCode keeps only the program description.
type DisplayCode struct {
	Description string `json:"description"`
}

// DisplayCourse is build.codingCourses.<subject>.
type DisplayCourse struct {
	Section string          `json:"section"`
	Name    string          `json:"name"`
	Lessons []DisplayLesson `json:"lessons"`
}

// ToDisplay converts rec, reporting false for failed records. Images whose
// URL starts with "<" are markup fragments and are dropped.
func ToDisplay(rec lesson.Record) (DisplayLesson, bool) {
	if rec.IsFailed() {
		return DisplayLesson{}, false
	}
	out := DisplayLesson{
		Title:      rec.Title,
		Objective:  deref(rec.Objective),
		Phenomenon: deref(rec.Phenomenon),
		SourceURL:  lesson.StringPtr(rec.SourceURL),
		Images:     []lesson.Image{},
	}
	if rec.Code != nil {
		out.Code = &DisplayCode{Description: deref(rec.Code.Description)}
	}
	for _, img := range rec.Images {
		if img.URL == "" || strings.HasPrefix(img.URL, "<") {
			continue
		}
		out.Images = append(out.Images, img)
	}
	return out, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GalleryIntegration folds scraped content into the gallery data file.
type GalleryIntegration struct {
	deps          Deps
	cat           *catalog.Catalog
	collections   map[string]*output.Collection
	diagrams      *output.Diagrams
	buildsPath    string
	sensorsPath   string
	sensorSubject string
}

// NewGalleryIntegration builds the integrate phase. collections is keyed by
// subject name; sensorSubject names the collection copied to sensorsPath.
func NewGalleryIntegration(
	deps Deps,
	cat *catalog.Catalog,
	collections map[string]*output.Collection,
	diagrams *output.Diagrams,
	buildsPath, sensorsPath, sensorSubject string,
) *GalleryIntegration {
	return &GalleryIntegration{
		deps:          deps,
		cat:           cat,
		collections:   collections,
		diagrams:      diagrams,
		buildsPath:    buildsPath,
		sensorsPath:   sensorsPath,
		sensorSubject: sensorSubject,
	}
}

// Name implements Runner.
func (g *GalleryIntegration) Name() string {
	return Integrate
}

// Run implements Runner. A missing or unreadable gallery file is fatal.
func (g *GalleryIntegration) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	log := g.deps.logger().With(zap.String("phase", Integrate))
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	doc, err := loadGallery(g.buildsPath)
	if err != nil {
		return summary, err
	}
	index := doc.index()

	for _, subject := range g.cat.Subjects {
		if subject.CourseNumber == "" {
			continue
		}
		coll, ok := g.collections[subject.Name]
		if !ok {
			continue
		}
		for _, section := range subject.Sections {
			buildID, ok := g.cat.BuildForSection(section.Name)
			if !ok {
				log.Debug("Section has no gallery build", zap.String("section", section.Name))
				continue
			}
			build, ok := index[buildID]
			if !ok {
				log.Warn("Gallery build not found", zap.String("target_id", buildID), zap.String("section", section.Name))
				summary.NotFound++
				continue
			}
			var lessons []DisplayLesson
			for _, rec := range coll.Records(section.Name) {
				if dl, ok := ToDisplay(rec); ok {
					lessons = append(lessons, dl)
				}
			}
			if len(lessons) == 0 {
				summary.Skipped++
				continue
			}
			courses := childMap(build, "codingCourses")
			courses[subject.Name] = DisplayCourse{
				Section: subject.CourseSection(section.Name),
				Name:    catalog.SectionDisplayName(section.Name),
				Lessons: lessons,
			}
			summary.Processed++
			log.Info("Merged lessons", zap.String("target_id", buildID), zap.String("asset_type", subject.Name), zap.Int("lessons", len(lessons)))
		}
	}

	if g.diagrams != nil {
		for buildID, diag := range g.diagrams.All() {
			build, ok := index[buildID]
			if !ok {
				continue
			}
			build["wiringImageUrl"] = diag.ImageURL
			childMap(build, "localImages")["wiring"] = diag.LocalPath
		}
	}

	if err := output.WriteJSON(g.buildsPath, doc.root); err != nil {
		return summary, err
	}
	if coll, ok := g.collections[g.sensorSubject]; ok && g.sensorsPath != "" {
		if err := output.WriteJSON(g.sensorsPath, coll.Complete()); err != nil {
			return summary, err
		}
	}
	if err := g.deps.Tracker.MarkComplete(galleryKey, Integrate); err != nil {
		return summary, err
	}
	observe(Integrate, "complete")
	return summary, nil
}

// gallery wraps the decoded builds file: either {"builds": [...], ...} or a bare array.
type gallery struct {
	root   any
	builds []any
}

func loadGallery(path string) (*gallery, error) {
	// #nosec G304 -- the gallery path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gallery: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode gallery %s: %w", path, err)
	}

	switch v := root.(type) {
	case []any:
		g := &gallery{builds: v}
		g.root = g.builds
		return g, nil
	case map[string]any:
		list, ok := v["builds"].([]any)
		if !ok {
			return nil, fmt.Errorf("decode gallery %s: missing builds array", path)
		}
		return &gallery{root: v, builds: list}, nil
	default:
		return nil, fmt.Errorf("decode gallery %s: unexpected document type %T", path, root)
	}
}

// index maps build id to its mutable object. Builds share storage with root.
func (g *gallery) index() map[string]map[string]any {
	out := make(map[string]map[string]any, len(g.builds))
	for _, item := range g.builds {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := obj["id"].(string); ok {
			out[id] = obj
		}
	}
	return out
}

// childMap returns obj[key] as an object, creating it when absent.
func childMap(obj map[string]any, key string) map[string]any {
	if child, ok := obj[key].(map[string]any); ok {
		return child
	}
	child := make(map[string]any)
	obj[key] = child
	return child
}
