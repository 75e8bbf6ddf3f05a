package phase

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/download"
	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

// imageKeyLength is the number of digest characters in an image key.
const imageKeyLength = 16

// ImageKey is the checkpoint key marking one image URL as downloaded.
func ImageKey(h Hasher, url string) string {
	return "image_" + h.Short(url, imageKeyLength)
}

// ImageObjectPath is <prefix>/<record id>/<type>/<type>-<n><ext>, n counting from 1 per type.
func ImageObjectPath(prefix, recordID string, imageType lesson.ImageType, n int, url string) string {
	name := fmt.Sprintf("%s-%d%s", imageType, n, download.Extension(url, ""))
	return path.Join(prefix, recordID, string(imageType), name)
}

// ImageDownload stores every image of every complete lesson record.
type ImageDownload struct {
	deps        Deps
	collections []*output.Collection
	downloader  Downloader
	hasher      Hasher
	prefix      string
}

// NewImageDownload builds the images phase over the given subject collections.
func NewImageDownload(deps Deps, collections []*output.Collection, downloader Downloader, hasher Hasher, prefix string) *ImageDownload {
	return &ImageDownload{deps: deps, collections: collections, downloader: downloader, hasher: hasher, prefix: prefix}
}

// Name implements Runner.
func (p *ImageDownload) Name() string {
	return Images
}

// Run implements Runner.
func (p *ImageDownload) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	log := p.deps.logger().With(zap.String("phase", Images))

	for _, c := range p.collections {
		for _, section := range c.Sections() {
			for _, rec := range c.Records(section) {
				if err := ctx.Err(); err != nil {
					return summary, err
				}
				if rec.IsFailed() {
					continue
				}
				if p.deps.Tracker.IsComplete(rec.ID, Images) {
					summary.Skipped++
					observe(Images, "skipped")
					continue
				}
				if err := p.deps.Tracker.SetBuildStatus(rec.ID, Images, state.InProgress); err != nil {
					return summary, err
				}

				outcome, err := p.processRecord(ctx, log, c, section, rec)
				if err != nil {
					return summary, err
				}
				if outcome.failures > 0 {
					msg := fmt.Sprintf("%d of %d image downloads failed: %v", outcome.failures, outcome.attempts, outcome.firstErr)
					if markErr := p.deps.Tracker.MarkFailed(rec.ID, Images, msg); markErr != nil {
						return summary, markErr
					}
					summary.Failed++
					observe(Images, "failed")
				} else {
					if markErr := p.deps.Tracker.MarkComplete(rec.ID, Images); markErr != nil {
						return summary, markErr
					}
					summary.Processed++
					observe(Images, "complete")
				}

				if err := p.deps.pause(ctx); err != nil {
					return summary, err
				}
			}
		}
	}
	return summary, nil
}

type imageOutcome struct {
	attempts int
	failures int
	firstErr error
}

// processRecord downloads the record's images. Per-image failures are
// counted in the outcome; the returned error is fatal.
func (p *ImageDownload) processRecord(
	ctx context.Context,
	log *zap.Logger,
	c *output.Collection,
	section string,
	rec lesson.Record,
) (imageOutcome, error) {
	localPaths := make(map[string]string)
	counters := make(map[lesson.ImageType]int)
	var out imageOutcome

	for _, img := range rec.AllImages() {
		if img.URL == "" || strings.HasPrefix(img.URL, "<") {
			continue
		}
		counters[img.Type]++
		objectPath := ImageObjectPath(p.prefix, rec.ID, img.Type, counters[img.Type], img.URL)
		key := ImageKey(p.hasher, img.URL)
		if p.deps.Tracker.IsKeyComplete(key) {
			// The key is per URL but the object is per record, so a URL shared
			// with another lesson still needs its own copy.
			stored, err := p.downloader.Exists(ctx, objectPath)
			if err != nil {
				if isCanceled(ctx, err) {
					return out, ctx.Err()
				}
				log.Warn("Image lookup failed", zap.String("target_id", rec.ID), zap.String("path", objectPath), zap.Error(err))
			}
			if stored {
				localPaths[img.URL] = objectPath
				continue
			}
		}
		out.attempts++
		if _, err := p.downloader.Save(ctx, img.URL, objectPath); err != nil {
			if isCanceled(ctx, err) {
				return out, ctx.Err()
			}
			log.Warn("Image download failed", zap.String("target_id", rec.ID), zap.String("url", img.URL), zap.Error(err))
			out.failures++
			if out.firstErr == nil {
				out.firstErr = err
			}
			continue
		}
		if err := p.deps.Tracker.MarkKeyComplete(key); err != nil {
			return out, err
		}
		localPaths[img.URL] = objectPath
	}

	if len(localPaths) > 0 {
		_, err := c.Update(section, rec.ID, func(r *lesson.Record) {
			setLocalPaths(r.Images, localPaths)
			if r.Code != nil {
				setLocalPaths(r.Code.Images, localPaths)
			}
		})
		if err != nil {
			return out, err
		}
	}
	log.Info("Record images processed",
		zap.String("target_id", rec.ID),
		zap.Int("stored", len(localPaths)),
		zap.Int("downloaded", out.attempts-out.failures),
		zap.Int("failed", out.failures),
	)
	return out, nil
}

func setLocalPaths(images []lesson.Image, localPaths map[string]string) {
	for i := range images {
		if p, ok := localPaths[images[i].URL]; ok {
			images[i].LocalPath = p
		}
	}
}
