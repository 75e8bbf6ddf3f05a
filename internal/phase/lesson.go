package phase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/catalog"
	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
	"github.com/JakeFAU/buildingbit-scraper/internal/parser"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

// LessonScrape fetches and parses every target of one catalog subject.
type LessonScrape struct {
	deps    Deps
	subject catalog.Subject
	fetcher ContentFetcher
	hasher  Hasher
	out     *output.Collection
}

// NewLessonScrape builds the scrape phase for subject. Its name is the subject name.
func NewLessonScrape(deps Deps, subject catalog.Subject, fetcher ContentFetcher, hasher Hasher, out *output.Collection) *LessonScrape {
	return &LessonScrape{deps: deps, subject: subject, fetcher: fetcher, hasher: hasher, out: out}
}

// Name implements Runner.
func (l *LessonScrape) Name() string {
	return l.subject.Name
}

// Run implements Runner.
func (l *LessonScrape) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	log := l.deps.logger().With(zap.String("phase", l.Name()))
	asset := l.subject.AssetType
	total := l.subject.TargetCount()
	n := 0

	for _, section := range l.subject.Sections {
		for _, target := range section.Targets {
			n++
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if l.deps.Tracker.IsComplete(target.ID, asset) {
				summary.Skipped++
				observe(l.Name(), "skipped")
				continue
			}
			if err := l.deps.Tracker.SetBuildStatus(target.ID, asset, state.InProgress); err != nil {
				return summary, err
			}

			itemLog := log.With(
				zap.String("target_id", target.ID),
				zap.String("title", target.Title),
				zap.String("section", section.Name),
			)
			rec, err := l.scrape(ctx, section.Name, target)
			if err != nil {
				if isCanceled(ctx, err) {
					return summary, ctx.Err()
				}
				itemLog.Error("Lesson scrape failed", zap.Error(err))
				if _, upErr := l.out.Upsert(section.Name, lesson.Failed(target, section.Name, err, l.deps.Clock.Now())); upErr != nil {
					return summary, upErr
				}
				if markErr := l.deps.Tracker.MarkFailed(target.ID, asset, err.Error()); markErr != nil {
					return summary, markErr
				}
				summary.Failed++
				observe(l.Name(), "failed")
			} else {
				if _, upErr := l.out.Upsert(section.Name, rec); upErr != nil {
					return summary, upErr
				}
				if markErr := l.deps.Tracker.MarkComplete(target.ID, asset); markErr != nil {
					return summary, markErr
				}
				summary.Processed++
				observe(l.Name(), "complete")
				itemLog.Info("Lesson scraped",
					zap.Int("item", n),
					zap.Int("total", total),
					zap.Int("images", len(rec.Images)),
					zap.Int("hex_files", len(rec.HexFiles)),
				)
			}

			if err := l.deps.pause(ctx); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

func (l *LessonScrape) scrape(ctx context.Context, section string, target lesson.Target) (lesson.Record, error) {
	page, err := l.fetcher.Fetch(ctx, target.ID)
	if err != nil {
		return lesson.Record{}, err
	}
	rec, err := parser.Parse(page.HTML, page.URL)
	if err != nil {
		return lesson.Record{}, fmt.Errorf("parse %s: %w", page.URL, err)
	}
	rec.ID = target.ID
	rec.Title = target.Title
	rec.Section = section
	rec.SourceURL = page.URL
	rec.ScrapedAt = l.deps.Clock.Now().Truncate(time.Second)
	if l.hasher != nil {
		digest, hashErr := l.hasher.Hash([]byte(page.HTML))
		if hashErr != nil {
			return lesson.Record{}, fmt.Errorf("hash %s: %w", page.URL, hashErr)
		}
		rec.ContentHash = digest
	}
	return rec, nil
}
