package output

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
)

var scrapedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func completeRecord(id, title string) lesson.Record {
	return lesson.Record{ID: id, Title: title, Objective: lesson.StringPtr("learn"), ScrapedAt: scrapedAt}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	c, err := Open(filepath.Join(t.TempDir(), "makecode-lessons.json"))
	require.NoError(t, err)
	assert.Empty(t, c.Sections())
}

func TestOpenCorruptFileFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "python-lessons.json")
	require.NoError(t, os.WriteFile(path, []byte("[broken"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
}

func TestUpsertPersistsAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "makecode-lessons.json")
	c, err := Open(path)
	require.NoError(t, err)

	stored, err := c.Upsert("A.Mobile shooter", completeRecord("3757", "1.Cannonball shooting"))
	require.NoError(t, err)
	assert.True(t, stored)
	_, err = c.Upsert("A.Mobile shooter", completeRecord("3759", "2.Music fortress"))
	require.NoError(t, err)

	reloaded, err := Open(path)
	require.NoError(t, err)
	records := reloaded.Records("A.Mobile shooter")
	require.Len(t, records, 2)
	assert.Equal(t, "3757", records[0].ID)
	assert.Equal(t, "3759", records[1].ID)
}

// TestFailedNeverReplacesComplete ensures a later failure keeps good content.
func TestFailedNeverReplacesComplete(t *testing.T) {
	t.Parallel()

	c, err := Open(filepath.Join(t.TempDir(), "o.json"))
	require.NoError(t, err)
	good := completeRecord("1", "one")
	_, err = c.Upsert("S", good)
	require.NoError(t, err)

	failed := lesson.Failed(lesson.Target{ID: "1", Title: "one"}, "S", errors.New("timeout"), scrapedAt)
	stored, err := c.Upsert("S", failed)
	require.NoError(t, err)
	assert.False(t, stored)
	got, ok := c.Get("S", "1")
	require.True(t, ok)
	assert.False(t, got.IsFailed())

	// A complete record may replace a failed one.
	_, err = c.Upsert("S", lesson.Failed(lesson.Target{ID: "2", Title: "two"}, "S", errors.New("x"), scrapedAt))
	require.NoError(t, err)
	stored, err = c.Upsert("S", completeRecord("2", "two"))
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Len(t, c.Records("S"), 2)
}

func TestCompleteDropsFailedRecords(t *testing.T) {
	t.Parallel()

	c, err := Open(filepath.Join(t.TempDir(), "o.json"))
	require.NoError(t, err)
	_, _ = c.Upsert("A", completeRecord("1", "one"))
	_, _ = c.Upsert("A", lesson.Failed(lesson.Target{ID: "2"}, "A", errors.New("x"), scrapedAt))
	_, _ = c.Upsert("B", lesson.Failed(lesson.Target{ID: "3"}, "B", errors.New("x"), scrapedAt))

	complete := c.Complete()
	require.Len(t, complete, 1)
	require.Len(t, complete["A"], 1)
	assert.Equal(t, "1", complete["A"][0].ID)
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "o.json")
	c, err := Open(path)
	require.NoError(t, err)
	rec := completeRecord("1", "one")
	rec.Images = []lesson.Image{{URL: "https://h/a.png", Type: lesson.ImageWiring}}
	_, err = c.Upsert("A", rec)
	require.NoError(t, err)

	found, err := c.Update("A", "1", func(r *lesson.Record) { r.Images[0].LocalPath = "lessons/1/wiring/wiring-1.png" })
	require.NoError(t, err)
	assert.True(t, found)

	found, err = c.Update("A", "missing", func(*lesson.Record) { t.Fatal("must not be called") })
	require.NoError(t, err)
	assert.False(t, found)

	reloaded, err := Open(path)
	require.NoError(t, err)
	got, _ := reloaded.Get("A", "1")
	assert.Equal(t, "lessons/1/wiring/wiring-1.png", got.Images[0].LocalPath)
}

func TestDiagramsPersist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wiring-diagrams.json")
	d, err := OpenDiagrams(path)
	require.NoError(t, err)
	require.NoError(t, d.Put(Diagram{Build: "1.17", LessonID: "15636", ImageURL: "https://h/w.png", LocalPath: "wiring/1.17-wiring.png"}))

	reloaded, err := OpenDiagrams(path)
	require.NoError(t, err)
	got, ok := reloaded.Get("1.17")
	require.True(t, ok)
	assert.Equal(t, "wiring/1.17-wiring.png", got.LocalPath)
	assert.Len(t, reloaded.All(), 1)
}
