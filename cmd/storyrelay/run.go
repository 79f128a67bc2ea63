package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/relay"
	"storyrelay/pkg/ui"
)

var runFlags struct {
	target      string
	seenFile    string
	downloadDir string
	metricsAddr string
	minDelay    time.Duration
	maxDelay    time.Duration
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Relay new stories until interrupted",
	Long: `Authenticate, then poll the target account forever. Between cycles the
relay sleeps a random delay between --min-delay and --max-delay.

A failed cycle is logged and retried after the next delay. SIGINT or SIGTERM
stops the loop between steps.`,
	Example: `  # Run with configuration from storyrelay.yaml and the environment
  storyrelay run

  # Expose Prometheus metrics
  storyrelay run --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

// onceCmd represents the once command
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single relay cycle",
	Long:  `Run one cycle and print its report. The exit status is non-zero when the cycle failed.`,
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, onceCmd} {
		cmd.Flags().StringVarP(&runFlags.target, "target", "t", "", "username whose stories are relayed")
		cmd.Flags().StringVar(&runFlags.seenFile, "seen-file", "", "file holding the relayed story ids")
		cmd.Flags().StringVar(&runFlags.downloadDir, "download-dir", "", "directory for downloaded images")
	}
	runCmd.Flags().StringVar(&runFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().DurationVar(&runFlags.minDelay, "min-delay", 0, "shortest pause between cycles")
	runCmd.Flags().DurationVar(&runFlags.maxDelay, "max-delay", 0, "longest pause between cycles")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
}

func runFlagMap() map[string]interface{} {
	return map[string]interface{}{
		"target":       runFlags.target,
		"seen-file":    runFlags.seenFile,
		"download-dir": runFlags.downloadDir,
		"metrics-addr": runFlags.metricsAddr,
		"min-delay":    runFlags.minDelay,
		"max-delay":    runFlags.maxDelay,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runFlagMap())
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	if err := a.startup(ctx); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	return a.scheduler.Run(ctx)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runFlagMap())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(cfg, logger.GetLogger())
	if err != nil {
		return err
	}
	if err := a.startup(ctx); err != nil {
		return err
	}

	err = a.scheduler.RunOnce(ctx)
	printReport(a.last)
	return err
}

func printReport(r relay.Report) {
	ui.PrintCounts("Cycle "+r.CycleID, map[string]int{
		"listed":            r.Listed,
		"already seen":      r.AlreadySeen,
		"downloaded":        r.Downloaded,
		"download failures": r.DownloadFailures,
		"ocr failures":      r.OCRFailures,
		"suppressed":        r.Suppressed,
		"delivered":         r.Delivered,
		"delivery failures": r.DeliveryFailures,
		"save failures":     r.SaveFailures,
	})
}
