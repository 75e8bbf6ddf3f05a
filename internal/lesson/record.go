// Package lesson defines the structured record produced by parsing one remote lesson page.
package lesson

import "time"

// ImageType classifies what an image depicts.
type ImageType string

// Image classifications, checked in this order by the parser heuristic.
const (
	ImageWiring   ImageType = "wiring"
	ImageBlocks   ImageType = "blocks"
	ImageCombined ImageType = "combined"
	ImageContent  ImageType = "content"
)

// Target names one remote content unit in the static catalog.
type Target struct {
	Title string `json:"title" yaml:"title" validate:"required"`
	ID    string `json:"id" yaml:"id" validate:"required"`
}

// Image is one picture found on a lesson page.
type Image struct {
	URL       string    `json:"url"`
	Type      ImageType `json:"type"`
	Alt       string    `json:"alt"`
	LocalPath string    `json:"localPath,omitempty"`
}

// Port is one row of a motor wiring table.
type Port struct {
	Port string `json:"port"`
	Note string `json:"note,omitempty"`
}

// Wiring captures the motor wiring section.
type Wiring struct {
	LeftMotor   *Port   `json:"leftMotor,omitempty"`
	RightMotor  *Port   `json:"rightMotor,omitempty"`
	Camera      *Port   `json:"camera,omitempty"`
	Servo       *Port   `json:"servo,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether no wiring detail was extracted.
func (w Wiring) Empty() bool {
	return w.LeftMotor == nil && w.RightMotor == nil && w.Camera == nil && w.Servo == nil && w.Description == nil
}

// BlockGroup lists the blocks used from one editor category.
type BlockGroup struct {
	Category string   `json:"category"`
	Blocks   []string `json:"blocks"`
}

// Code describes the combined program.
type Code struct {
	Description *string `json:"description,omitempty"`
	Images      []Image `json:"images"`
}

// Record is either complete (Error nil) or failed (Error set, content fields empty).
type Record struct {
	ID          string       `json:"buildId"`
	Title       string       `json:"title"`
	Section     string       `json:"section,omitempty"`
	Objective   *string      `json:"objective,omitempty"`
	MotorWiring *Wiring      `json:"motorWiring,omitempty"`
	BlocksUsed  []BlockGroup `json:"blocksUsed,omitempty"`
	Code        *Code        `json:"code,omitempty"`
	HexFiles    []string     `json:"hexFiles,omitempty"`
	Phenomenon  *string      `json:"phenomenon,omitempty"`
	PythonCode  *string      `json:"pythonCode,omitempty"`
	Images      []Image      `json:"images,omitempty"`
	SourceURL   string       `json:"sourceUrl,omitempty"`
	ScrapedAt   time.Time    `json:"scrapedAt"`
	ContentHash string       `json:"contentHash,omitempty"`
	Error       *string      `json:"error,omitempty"`
}

// IsFailed reports whether the record carries an error.
func (r Record) IsFailed() bool {
	return r.Error != nil
}

// Failed builds a failed record for target carrying only identity fields.
func Failed(target Target, section string, err error, at time.Time) Record {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Record{
		ID:        target.ID,
		Title:     target.Title,
		Section:   section,
		ScrapedAt: at,
		Error:     &msg,
	}
}

// AllImages returns the record images followed by code images not already listed.
func (r Record) AllImages() []Image {
	seen := make(map[string]struct{}, len(r.Images))
	out := make([]Image, 0, len(r.Images))
	for _, img := range r.Images {
		if _, ok := seen[img.URL]; ok {
			continue
		}
		seen[img.URL] = struct{}{}
		out = append(out, img)
	}
	if r.Code != nil {
		for _, img := range r.Code.Images {
			if _, ok := seen[img.URL]; ok {
				continue
			}
			seen[img.URL] = struct{}{}
			out = append(out, img)
		}
	}
	return out
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
