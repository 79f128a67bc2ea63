// Package relay runs one ingestion cycle: list the target's stories, skip
// what was already relayed, download and read each new image, drop noise and
// deliver the rest.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"storyrelay/pkg/denylist"
	errs "storyrelay/pkg/errors"
	"storyrelay/pkg/instagram"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/metrics"
	"storyrelay/pkg/notify"
	"storyrelay/pkg/seen"
	"storyrelay/pkg/storage"
	"storyrelay/pkg/textnorm"
)

// Post is one story considered for relaying
type Post = instagram.Story

// Feed lists and fetches the target's stories
type Feed interface {
	ResolveAccountID(ctx context.Context, username string) (string, error)
	ListActiveStories(ctx context.Context, accountID string) ([]instagram.Story, error)
	Download(ctx context.Context, imageURL, destination string) error
}

// Recognizer extracts text lines from an image
type Recognizer interface {
	Lines(ctx context.Context, imagePath string) ([]string, error)
}

// Notifier delivers a relayed post
type Notifier interface {
	Deliver(ctx context.Context, text, imagePath string) error
}

// SeenStore persists the ids already relayed
type SeenStore interface {
	Load() (seen.Set, error)
	Save(seen.Set) error
}

// Story outcomes, also used as metric labels
const (
	OutcomeSeen           = "seen"
	OutcomeDownloadFailed = "download_failed"
	OutcomeOCRFailed      = "ocr_failed"
	OutcomeSuppressed     = "suppressed"
	OutcomeDelivered      = "delivered"
	OutcomeDeliveryFailed = "delivery_failed"
)

// Report summarises one cycle
type Report struct {
	CycleID          string
	AccountID        string
	Listed           int
	AlreadySeen      int
	Downloaded       int
	DownloadFailures int
	OCRFailures      int
	Suppressed       int
	Delivered        int
	DeliveryFailures int
	SaveFailures     int
	Duration         time.Duration
}

// Fields returns the report as log fields
func (r Report) Fields() map[string]interface{} {
	return map[string]interface{}{
		"cycle_id":          r.CycleID,
		"listed":            r.Listed,
		"already_seen":      r.AlreadySeen,
		"downloaded":        r.Downloaded,
		"download_failures": r.DownloadFailures,
		"ocr_failures":      r.OCRFailures,
		"suppressed":        r.Suppressed,
		"delivered":         r.Delivered,
		"delivery_failures": r.DeliveryFailures,
		"save_failures":     r.SaveFailures,
		"duration":          r.Duration.String(),
	}
}

// Config holds the per-cycle settings
type Config struct {
	// Target is the username whose stories are relayed
	Target string
	// RemoveSuppressed deletes images of filtered posts instead of keeping them
	RemoveSuppressed bool
}

// Deps are the collaborators a cycle drives. Metrics and Logger may be nil.
type Deps struct {
	Feed      Feed
	OCR       Recognizer
	Notifier  Notifier
	Seen      SeenStore
	Workspace *storage.Workspace
	Filter    *denylist.Filter
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

// Cycle is one pass of the relay pipeline. It is not safe for concurrent use;
// the scheduler never overlaps cycles.
type Cycle struct {
	cfg Config
	Deps
}

// NewCycle creates a cycle
func NewCycle(cfg Config, deps Deps) *Cycle {
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}
	if deps.Filter == nil {
		deps.Filter = denylist.New(nil)
	}
	return &Cycle{cfg: cfg, Deps: deps}
}

// Run executes one cycle. The error is non-nil when the cycle could not
// start or was aborted; per-post failures are only counted in the report.
func (c *Cycle) Run(ctx context.Context) (report Report, err error) {
	report.CycleID = uuid.NewString()
	log := c.Logger.WithField("cycle_id", report.CycleID)
	start := time.Now()

	defer func() {
		report.Duration = time.Since(start)
		c.record(report)
		if err != nil {
			log.WithError(err).ErrorWithFields("Cycle aborted", report.Fields())
			return
		}
		log.InfoWithFields("Cycle finished", report.Fields())
	}()

	set, err := c.Seen.Load()
	if err != nil {
		return report, fmt.Errorf("load seen set: %w", err)
	}
	c.Metrics.SetSeen(set.Len())

	accountID, err := c.Feed.ResolveAccountID(ctx, c.cfg.Target)
	if err != nil {
		return report, fmt.Errorf("resolve %s: %w", c.cfg.Target, err)
	}
	report.AccountID = accountID

	stories, err := c.Feed.ListActiveStories(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("list stories: %w", err)
	}
	report.Listed = len(stories)
	if len(stories) == 0 {
		log.Debug("No active stories")
		return report, nil
	}

	for _, post := range stories {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if set.Has(post.ID) {
			report.AlreadySeen++
			log.WithField("post_id", post.ID).Debug("Already relayed, skipping")
			continue
		}

		if err := c.process(ctx, log.WithField("post_id", post.ID), post, set, &report); err != nil {
			return report, err
		}
	}

	return report, nil
}

// process relays one unseen post. Only session expiry is returned;
// everything else is logged and counted so the next post still runs.
func (c *Cycle) process(ctx context.Context, log logger.Logger, post Post, set seen.Set, report *Report) error {
	path := c.Workspace.ImagePath(post.ID)

	if err := c.Feed.Download(ctx, post.ImageURL, path); err != nil {
		// A 403 from the CDN is an expired media URL, not an expired session
		if errs.IsLoginRequired(err) {
			return fmt.Errorf("download %s: %w", post.ID, err)
		}
		report.DownloadFailures++
		log.WithError(err).Warn("Download failed, will retry next cycle")
		return nil
	}
	report.Downloaded++

	lines, err := c.OCR.Lines(ctx, path)
	if err != nil {
		report.OCRFailures++
		log.WithError(err).WithField("image", path).Warn("OCR failed, keeping image")
		return nil
	}
	text := textnorm.Merge(lines)
	canonical := textnorm.Canonicalize(text)
	log.DebugWithFields("Text extracted", map[string]interface{}{
		"lines": len(lines),
		"text":  text,
	})

	if c.Filter.ShouldSuppress(canonical) {
		report.Suppressed++
		log.InfoWithFields("Suppressed by denylist", map[string]interface{}{
			"matches": c.Filter.Matches(canonical),
		})
		if c.cfg.RemoveSuppressed {
			if err := c.Workspace.Remove(path); err != nil {
				log.WithError(err).Warn("Failed to remove suppressed image")
			}
		}
		return nil
	}

	if err := c.Notifier.Deliver(ctx, text, path); err != nil {
		report.DeliveryFailures++
		if errors.Is(err, notify.ErrChannelNotFound) {
			log.WithError(err).Error("Delivery channel missing, post kept for the next cycle")
		} else {
			log.WithError(err).Warn("Delivery failed, post kept for the next cycle")
		}
		return nil
	}
	report.Delivered++

	if err := c.Workspace.Remove(path); err != nil {
		log.WithError(err).Warn("Failed to remove delivered image")
	}

	set.Add(post.ID)
	if err := c.Seen.Save(set); err != nil {
		report.SaveFailures++
		log.WithError(err).Error("Failed to persist seen set, post may be relayed again after a restart")
	}
	c.Metrics.SetSeen(set.Len())

	log.Info("Story relayed")
	return nil
}

func (c *Cycle) record(r Report) {
	c.Metrics.AddStories(OutcomeSeen, r.AlreadySeen)
	c.Metrics.AddStories(OutcomeDownloadFailed, r.DownloadFailures)
	c.Metrics.AddStories(OutcomeOCRFailed, r.OCRFailures)
	c.Metrics.AddStories(OutcomeSuppressed, r.Suppressed)
	c.Metrics.AddStories(OutcomeDelivered, r.Delivered)
	c.Metrics.AddStories(OutcomeDeliveryFailed, r.DeliveryFailures)
}
