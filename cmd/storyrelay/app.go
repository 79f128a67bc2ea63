package main

import (
	"context"
	"errors"
	"fmt"

	"storyrelay/pkg/config"
	"storyrelay/pkg/denylist"
	"storyrelay/pkg/feed"
	"storyrelay/pkg/instagram"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/metrics"
	"storyrelay/pkg/notify"
	"storyrelay/pkg/ocr"
	"storyrelay/pkg/ratelimit"
	"storyrelay/pkg/relay"
	"storyrelay/pkg/scheduler"
	"storyrelay/pkg/seen"
	"storyrelay/pkg/session"
	"storyrelay/pkg/storage"
)

// app holds the wired relay components
type app struct {
	cfg       *config.Config
	log       logger.Logger
	metrics   *metrics.Metrics
	feed      *feed.Adapter
	ocr       *ocr.Tesseract
	seen      *seen.Store
	workspace *storage.Workspace
	cycle     *relay.Cycle
	scheduler *scheduler.Scheduler

	last relay.Report
}

// newFeed builds the Instagram client and the session adapter on top of it
func newFeed(cfg *config.Config, log logger.Logger, m *metrics.Metrics) (*feed.Adapter, session.Store, error) {
	store, err := session.NewStore(cfg.Instagram)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}

	client := instagram.NewClient(cfg.Instagram.Timeout, log.WithField("component", "instagram"),
		instagram.WithBaseURL(cfg.Instagram.BaseURL),
		instagram.WithUserAgent(cfg.Instagram.UserAgent),
		instagram.WithLimiter(ratelimit.PerMinute(cfg.Instagram.RequestsPerMinute)),
		instagram.WithObserver(m.ObserveInstagramRequest),
	)

	adapter := feed.New(client, store, feed.Credentials{
		Username: cfg.Instagram.Username,
		Password: cfg.Instagram.Password,
	}, log, m)
	return adapter, store, nil
}

func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	m := metrics.New()

	adapter, _, err := newFeed(cfg, log, m)
	if err != nil {
		return nil, err
	}

	workspace, err := storage.NewWorkspace(cfg.Storage.DownloadDir, cfg.Storage.ImageExt)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		feed:      adapter,
		ocr:       ocr.New(cfg.OCR, log),
		seen:      seen.NewStore(cfg.Storage.SeenFile, log),
		workspace: workspace,
	}

	a.cycle = relay.NewCycle(relay.Config{
		Target:           cfg.Instagram.TargetUser,
		RemoveSuppressed: cfg.Storage.RemoveSuppressed,
	}, relay.Deps{
		Feed:      adapter,
		OCR:       a.ocr,
		Notifier:  notify.NewDiscord(cfg.Discord, log),
		Seen:      a.seen,
		Workspace: workspace,
		Filter:    denylist.New(cfg.Denylist),
		Metrics:   m,
		Logger:    log,
	})

	policy := scheduler.DelayPolicy{Min: cfg.Schedule.MinDelay, Max: cfg.Schedule.MaxDelay}
	a.scheduler = scheduler.New(a.runCycle, policy, log, scheduler.WithMetrics(m))
	return a, nil
}

func (a *app) runCycle(ctx context.Context) error {
	report, err := a.cycle.Run(ctx)
	a.last = report
	return err
}

// startup checks everything a cycle depends on. Any error here is fatal.
func (a *app) startup(ctx context.Context) error {
	set, err := a.seen.Load()
	if err != nil {
		return fmt.Errorf("load seen file %s: %w", a.seen.Path(), err)
	}
	a.metrics.SetSeen(set.Len())

	tesseract, err := a.ocr.Check(ctx)
	if errors.Is(err, ocr.ErrNotInstalled) {
		return err
	}
	if err != nil {
		a.log.WithError(err).Warn("Could not determine tesseract version")
	}

	if retained, err := a.workspace.Retained(); err == nil && len(retained) > 0 {
		a.log.WithField("count", len(retained)).Info("Images retained from earlier cycles")
	}

	if err := a.feed.EnsureSession(ctx, false); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	a.log.InfoWithFields("Relay ready", map[string]interface{}{
		"account":   a.cfg.Instagram.Username,
		"target":    a.cfg.Instagram.TargetUser,
		"seen":      set.Len(),
		"tesseract": tesseract,
		"denylist":  len(a.cfg.Denylist),
	})
	return nil
}
