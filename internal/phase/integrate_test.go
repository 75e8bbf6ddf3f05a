package phase

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
)

const galleryFixture = `{
  "version": 2,
  "builds": [
    {"id": "1.1", "name": "Mobile shooter", "difficulty": 1.5, "localImages": {"hero": "/images/1.1.png"}},
    {"id": "1.17", "name": "Ultrasonic car"}
  ]
}`

type integrateFixture struct {
	runner      *GalleryIntegration
	tracker     *spyTracker
	buildsPath  string
	sensorsPath string
}

func newIntegrateFixture(t *testing.T, gallery string) integrateFixture {
	t.Helper()
	dir := t.TempDir()
	buildsPath := filepath.Join(dir, "builds.json")
	require.NoError(t, os.WriteFile(buildsPath, []byte(gallery), 0o600))
	sensorsPath := filepath.Join(dir, "public", "sensor-principles.json")

	makecode := openCollection(t)
	_, err := makecode.Upsert("A.Mobile shooter", lesson.Record{
		ID:         "3757",
		Title:      "1.Cannonball shooting",
		Objective:  lesson.StringPtr("Fire the cannon."),
		SourceURL:  "https://x/3757.html",
		PythonCode: lesson.StringPtr("print(1)"),
		Code:       &lesson.Code{Description: lesson.StringPtr("Combined program")},
		Images: []lesson.Image{
			{URL: "https://cdn/a.png", Type: lesson.ImageBlocks},
			{URL: "<span>", Type: lesson.ImageContent},
		},
	})
	require.NoError(t, err)
	_, err = makecode.Upsert("A.Mobile shooter", lesson.Failed(lesson.Target{ID: "3759", Title: "2.Music fortress"}, "A.Mobile shooter", assert.AnError, testNow))
	require.NoError(t, err)

	sensors := openCollection(t)
	_, err = sensors.Upsert("Ultrasonic", lesson.Record{ID: "15636", Title: "Ultrasonic ranging"})
	require.NoError(t, err)
	_, err = sensors.Upsert("Ultrasonic", lesson.Failed(lesson.Target{ID: "15637", Title: "PIR"}, "Ultrasonic", assert.AnError, testNow))
	require.NoError(t, err)

	diagrams := openDiagrams(t)
	require.NoError(t, diagrams.Put(output.Diagram{
		Build:     "1.17",
		LessonID:  "15636",
		ImageURL:  "https://cdn/wiring.png",
		LocalPath: "wiring/1.17-wiring.png",
	}))

	tracker := newTracker(t)
	runner := NewGalleryIntegration(
		newDeps(tracker),
		mustCatalog(t, discoverCatalog),
		map[string]*output.Collection{"makecode": makecode, "sensors": sensors},
		diagrams,
		buildsPath,
		sensorsPath,
		"sensors",
	)
	return integrateFixture{runner: runner, tracker: tracker, buildsPath: buildsPath, sensorsPath: sensorsPath}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestGalleryIntegrationMergesContent(t *testing.T) {
	t.Parallel()

	fx := newIntegrateFixture(t, galleryFixture)
	summary, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.True(t, fx.tracker.IsComplete(galleryKey, Integrate))

	var doc struct {
		Version float64          `json:"version"`
		Builds  []map[string]any `json:"builds"`
	}
	readJSON(t, fx.buildsPath, &doc)
	assert.Equal(t, float64(2), doc.Version)
	require.Len(t, doc.Builds, 2)

	shooter := doc.Builds[0]
	assert.Equal(t, 1.5, shooter["difficulty"], "unknown fields survive")
	assert.Equal(t, "/images/1.1.png", shooter["localImages"].(map[string]any)["hero"])

	course := shooter["codingCourses"].(map[string]any)["makecode"].(map[string]any)
	assert.Equal(t, "3.A", course["section"])
	assert.Equal(t, "Mobile shooter", course["name"])
	lessons := course["lessons"].([]any)
	require.Len(t, lessons, 1, "failed records are dropped")
	first := lessons[0].(map[string]any)
	assert.Equal(t, "1.Cannonball shooting", first["title"])
	assert.Equal(t, "https://x/3757.html", first["sourceUrl"])
	assert.NotContains(t, first, "pythonCode")
	assert.Len(t, first["images"].([]any), 1, "markup fragments are dropped")

	ultrasonic := doc.Builds[1]
	assert.Equal(t, "https://cdn/wiring.png", ultrasonic["wiringImageUrl"])
	assert.Equal(t, "wiring/1.17-wiring.png", ultrasonic["localImages"].(map[string]any)["wiring"])

	var sensors map[string][]lesson.Record
	readJSON(t, fx.sensorsPath, &sensors)
	require.Len(t, sensors["Ultrasonic"], 1)
	assert.Equal(t, "15636", sensors["Ultrasonic"][0].ID)
}

func TestGalleryIntegrationAcceptsBareArray(t *testing.T) {
	t.Parallel()

	fx := newIntegrateFixture(t, `[{"id": "1.1"}]`)
	_, err := fx.runner.Run(context.Background())
	require.NoError(t, err)

	var builds []map[string]any
	readJSON(t, fx.buildsPath, &builds)
	require.Len(t, builds, 1)
	assert.Contains(t, builds[0], "codingCourses")
}

func TestGalleryIntegrationRequiresGallery(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"NotJSON":       `{`,
		"MissingBuilds": `{"version": 1}`,
		"Scalar":        `"builds"`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fx := newIntegrateFixture(t, body)
			_, err := fx.runner.Run(context.Background())
			require.Error(t, err)
			assert.False(t, fx.tracker.IsComplete(galleryKey, Integrate))
		})
	}

	t.Run("Absent", func(t *testing.T) {
		t.Parallel()
		fx := newIntegrateFixture(t, galleryFixture)
		require.NoError(t, os.Remove(fx.buildsPath))
		_, err := fx.runner.Run(context.Background())
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestToDisplay(t *testing.T) {
	t.Parallel()

	_, ok := ToDisplay(lesson.Failed(lesson.Target{ID: "1"}, "s", nil, testNow))
	assert.False(t, ok)

	got, ok := ToDisplay(lesson.Record{Title: "t"})
	require.True(t, ok)
	assert.Nil(t, got.Code)
	assert.Nil(t, got.SourceURL)
	assert.NotNil(t, got.Images)
}
