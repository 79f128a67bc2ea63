// Package ocr extracts text from story images with the tesseract binary.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"storyrelay/pkg/config"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/textnorm"
)

// DefaultCommand is looked up in PATH when no command is configured
const DefaultCommand = "tesseract"

// ErrNotInstalled is returned when the tesseract binary cannot be found
var ErrNotInstalled = errors.New("ocr: tesseract not found: install it or set TESSERACT_CMD")

// Tesseract runs `tesseract <image> stdout` for every image
type Tesseract struct {
	command   string
	languages string
	timeout   time.Duration
	logger    logger.Logger
}

// New creates a Tesseract engine from the OCR config section
func New(cfg config.OCRConfig, log logger.Logger) *Tesseract {
	if log == nil {
		log = logger.GetLogger()
	}
	command := cfg.Command
	if command == "" {
		command = DefaultCommand
	}
	return &Tesseract{
		command:   command,
		languages: cfg.Languages,
		timeout:   cfg.Timeout,
		logger:    log.WithField("component", "ocr"),
	}
}

// Command returns the configured binary
func (t *Tesseract) Command() string {
	return t.command
}

// Lines returns the non-empty trimmed lines recognised in the image
func (t *Tesseract) Lines(ctx context.Context, imagePath string) ([]string, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := []string{imagePath, "stdout"}
	if t.languages != "" {
		args = append(args, "-l", t.languages)
	}

	cmd := exec.CommandContext(ctx, t.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrNotInstalled
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ocr: %s: %w", imagePath, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ocr: tesseract failed: %s", msg)
		}
		return nil, fmt.Errorf("ocr: tesseract failed: %w", err)
	}

	lines := textnorm.SplitLines(stdout.String())
	t.logger.DebugWithFields("Image recognised", map[string]interface{}{
		"image":    imagePath,
		"lines":    len(lines),
		"duration": time.Since(start).String(),
	})
	return lines, nil
}

// Text returns the recognised text merged into sentences
func (t *Tesseract) Text(ctx context.Context, imagePath string) (string, error) {
	lines, err := t.Lines(ctx, imagePath)
	if err != nil {
		return "", err
	}
	return textnorm.Merge(lines), nil
}

// Check verifies the binary can be executed
func (t *Tesseract) Check(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, t.command, "--version").CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrNotInstalled
		}
		return "", fmt.Errorf("ocr: %s --version: %w", t.command, err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(first), nil
}
