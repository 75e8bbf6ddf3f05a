package phase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

const section = "A.Mobile shooter"

func seedRecord(t *testing.T, c *output.Collection) {
	t.Helper()
	rec := lesson.Record{
		ID:    "3757",
		Title: "1.Cannonball shooting",
		Images: []lesson.Image{
			{URL: "https://cdn.example/a.png", Type: lesson.ImageBlocks},
			{URL: "https://cdn.example/b.jpg", Type: lesson.ImageBlocks},
			{URL: "<br>", Type: lesson.ImageContent},
		},
		Code: &lesson.Code{Images: []lesson.Image{
			{URL: "https://cdn.example/a.png", Type: lesson.ImageBlocks},
			{URL: "https://cdn.example/c.png", Type: lesson.ImageCombined},
		}},
	}
	_, err := c.Upsert(section, rec)
	require.NoError(t, err)
	_, err = c.Upsert(section, lesson.Failed(lesson.Target{ID: "3759", Title: "2.Music fortress"}, section, assert.AnError, testNow))
	require.NoError(t, err)
}

func TestImageObjectPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "images/3757/blocks/blocks-2.jpg",
		ImageObjectPath("images", "3757", lesson.ImageBlocks, 2, "https://cdn.example/x.JPG?v=1"))
	assert.Equal(t, "3757/content/content-1.png",
		ImageObjectPath("", "3757", lesson.ImageContent, 1, "https://cdn.example/noext"))
}

func TestImageKeyIsStable(t *testing.T) {
	t.Parallel()

	h := newHasher()
	key := ImageKey(h, "https://cdn.example/a.png")
	assert.Equal(t, key, ImageKey(h, "https://cdn.example/a.png"))
	assert.NotEqual(t, key, ImageKey(h, "https://cdn.example/b.png"))
	assert.Len(t, key, len("image_")+16)
}

func TestImageDownloadStoresPathsAndKeys(t *testing.T) {
	t.Parallel()

	tracker := newTracker(t)
	c := openCollection(t)
	seedRecord(t, c)
	downloader := newDownloader()

	summary, err := NewImageDownload(newDeps(tracker), []*output.Collection{c}, downloader, newHasher(), "images").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, summary)
	assert.Equal(t, 3, downloader.calls)

	assert.Equal(t, map[string]string{
		"https://cdn.example/a.png": "images/3757/blocks/blocks-1.png",
		"https://cdn.example/b.jpg": "images/3757/blocks/blocks-2.jpg",
		"https://cdn.example/c.png": "images/3757/combined/combined-1.png",
	}, downloader.saved)

	rec, ok := c.Get(section, "3757")
	require.True(t, ok)
	assert.Equal(t, "images/3757/blocks/blocks-1.png", rec.Images[0].LocalPath)
	assert.Empty(t, rec.Images[2].LocalPath)
	assert.Equal(t, "images/3757/combined/combined-1.png", rec.Code.Images[1].LocalPath)

	h := newHasher()
	assert.True(t, tracker.IsKeyComplete(ImageKey(h, "https://cdn.example/c.png")))
	assert.True(t, tracker.IsComplete("3757", Images))
	assert.Equal(t, state.Pending, tracker.Status("3759", Images), "failed records are not downloaded")
}

func TestImageDownloadPartialFailureRetriesOnlyMissing(t *testing.T) {
	t.Parallel()

	tracker := newTracker(t)
	c := openCollection(t)
	seedRecord(t, c)
	downloader := newDownloader()
	downloader.fails["https://cdn.example/b.jpg"] = true
	runner := NewImageDownload(newDeps(tracker), []*output.Collection{c}, downloader, newHasher(), "images")

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)
	assert.Equal(t, state.Failed, tracker.Status("3757", Images))
	errs := tracker.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "1 of 3 image downloads failed")

	delete(downloader.fails, "https://cdn.example/b.jpg")
	downloader.calls = 0
	summary, err = runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1}, summary)
	assert.Equal(t, 1, downloader.calls, "keys already stored are skipped")

	rec, _ := c.Get(section, "3757")
	assert.Equal(t, "images/3757/blocks/blocks-2.jpg", rec.Images[1].LocalPath)
	assert.Equal(t, "images/3757/blocks/blocks-1.png", rec.Images[0].LocalPath)
}

func TestImageDownloadSharedURLStoresPerRecord(t *testing.T) {
	t.Parallel()

	tracker := newTracker(t)
	c := openCollection(t)
	for _, id := range []string{"3757", "3759"} {
		_, err := c.Upsert(section, lesson.Record{
			ID:     id,
			Images: []lesson.Image{{URL: "https://cdn.example/logo.png", Type: lesson.ImageContent}},
		})
		require.NoError(t, err)
	}
	downloader := newDownloader()

	summary, err := NewImageDownload(newDeps(tracker), []*output.Collection{c}, downloader, newHasher(), "images").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2}, summary)
	assert.Equal(t, 2, downloader.calls)

	for _, id := range []string{"3757", "3759"} {
		rec, ok := c.Get(section, id)
		require.True(t, ok)
		want := "images/" + id + "/content/content-1.png"
		assert.Equal(t, want, rec.Images[0].LocalPath)
		assert.True(t, downloader.objects[want], "%s was never stored", want)
	}
}
