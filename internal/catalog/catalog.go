// Package catalog loads the hand-curated list of remote content identifiers.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
)

// ErrMissing reports that the catalog file does not exist.
var ErrMissing = errors.New("catalog file not found")

// Section groups targets under a course section name such as "A.Mobile shooter".
type Section struct {
	Name    string          `yaml:"name" validate:"required"`
	Targets []lesson.Target `yaml:"targets" validate:"dive"`
}

// Subject is one scraped content area with its own output file.
type Subject struct {
	Name         string    `yaml:"name" validate:"required"`
	AssetType    string    `yaml:"asset_type" validate:"required"`
	CourseNumber string    `yaml:"course_number"`
	OutputFile   string    `yaml:"output_file" validate:"required"`
	Sections     []Section `yaml:"sections" validate:"required,dive"`
}

// AssemblyBuild is a gallery entry (a model the kit can be assembled into).
type AssemblyBuild struct {
	Build string `yaml:"build" validate:"required"`
	Title string `yaml:"title" validate:"required"`
	ID    string `yaml:"id" validate:"required"`
}

// WiringTarget names a build whose wiring diagram lives on a sensor lesson page.
type WiringTarget struct {
	Build    string   `yaml:"build" validate:"required"`
	Section  string   `yaml:"section" validate:"required"`
	LessonID string   `yaml:"lesson_id" validate:"required"`
	Sensors  []string `yaml:"sensors"`
}

// Course maps a gallery build to its coding course section for discovery.
type Course struct {
	Subject string `yaml:"subject" validate:"required"`
	Build   string `yaml:"build" validate:"required"`
	Section string `yaml:"section" validate:"required"`
	Name    string `yaml:"name" validate:"required"`
}

// Catalog is the full static target list.
type Catalog struct {
	Subjects      []Subject         `yaml:"subjects" validate:"required,dive"`
	Assembly      []AssemblyBuild   `yaml:"assembly" validate:"dive"`
	Wiring        []WiringTarget    `yaml:"wiring" validate:"dive"`
	Courses       []Course          `yaml:"courses" validate:"dive"`
	SectionBuilds map[string]string `yaml:"section_builds"`
}

// Load reads and validates the catalog at path. A missing file is fatal.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML and validates it.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces required fields and per-subject identifier uniqueness.
func (c *Catalog) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate catalog: %w", err)
	}
	names := make(map[string]struct{}, len(c.Subjects))
	for _, s := range c.Subjects {
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("validate catalog: duplicate subject %q", s.Name)
		}
		names[s.Name] = struct{}{}

		ids := make(map[string]struct{})
		for _, sec := range s.Sections {
			for _, t := range sec.Targets {
				if _, dup := ids[t.ID]; dup {
					return fmt.Errorf("validate catalog: subject %q lists id %s twice", s.Name, t.ID)
				}
				ids[t.ID] = struct{}{}
			}
		}
	}
	for _, course := range c.Courses {
		if _, ok := names[course.Subject]; !ok {
			return fmt.Errorf("validate catalog: course %s references unknown subject %q", course.Section, course.Subject)
		}
	}
	return nil
}

// Subject returns the subject named name.
func (c *Catalog) Subject(name string) (Subject, bool) {
	for _, s := range c.Subjects {
		if s.Name == name {
			return s, true
		}
	}
	return Subject{}, false
}

// CoursesFor lists discovery courses for one subject, in catalog order.
func (c *Catalog) CoursesFor(subject string) []Course {
	var out []Course
	for _, course := range c.Courses {
		if course.Subject == subject {
			out = append(out, course)
		}
	}
	return out
}

// BuildForSection returns the gallery build a catalog section maps to.
// Unmapped sections, or sections mapped to an empty id, return false.
func (c *Catalog) BuildForSection(section string) (string, bool) {
	build, ok := c.SectionBuilds[section]
	if !ok || strings.TrimSpace(build) == "" {
		return "", false
	}
	return build, true
}

// TargetCount is the number of identifiers in the subject.
func (s Subject) TargetCount() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Targets)
	}
	return n
}

// CourseSection derives the gallery course label, e.g. "3.A" for section "A.Mobile shooter".
func (s Subject) CourseSection(section string) string {
	letter, _, _ := strings.Cut(section, ".")
	if s.CourseNumber == "" {
		return letter
	}
	return s.CourseNumber + "." + letter
}

// SectionDisplayName strips the ordering prefix: "A.Mobile shooter" -> "Mobile shooter".
func SectionDisplayName(section string) string {
	if _, name, ok := strings.Cut(section, "."); ok && name != "" {
		return name
	}
	return section
}
