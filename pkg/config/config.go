package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the story relay
type Config struct {
	// Instagram account, target and session persistence
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Discord delivery channel
	Discord DiscordConfig `yaml:"discord" json:"discord"`

	// OCR engine settings
	OCR OCRConfig `yaml:"ocr" json:"ocr"`

	// Local files
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Delay between polling cycles
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// Substrings that suppress a story unless it carries a link
	Denylist []string `yaml:"denylist" json:"denylist"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// Session backends
const (
	SessionBackendFile      = "file"
	SessionBackendEncrypted = "encrypted"
	SessionBackendKeyring   = "keyring"
)

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password" json:"password"`
	TargetUser        string        `yaml:"target_user" json:"target_user"`
	SessionFile       string        `yaml:"session_file" json:"session_file"`
	SessionBackend    string        `yaml:"session_backend" json:"session_backend"`
	SessionPassphrase string        `yaml:"session_passphrase" json:"session_passphrase"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// DiscordConfig holds the notification channel configuration
type DiscordConfig struct {
	Token      string        `yaml:"token" json:"token"`
	ChannelID  string        `yaml:"channel_id" json:"channel_id"`
	Title      string        `yaml:"title" json:"title"`
	Color      int           `yaml:"color" json:"color"`
	APIBaseURL string        `yaml:"api_base_url" json:"api_base_url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// OCRConfig holds tesseract settings
type OCRConfig struct {
	Command   string        `yaml:"command" json:"command"`
	Languages string        `yaml:"languages" json:"languages"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// StorageConfig holds local state and download locations
type StorageConfig struct {
	SeenFile         string `yaml:"seen_file" json:"seen_file"`
	DownloadDir      string `yaml:"download_dir" json:"download_dir"`
	ImageExt         string `yaml:"image_ext" json:"image_ext"`
	RemoveSuppressed bool   `yaml:"remove_suppressed" json:"remove_suppressed"`
}

// ScheduleConfig holds the jittered delay range between cycles
type ScheduleConfig struct {
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// MetricsConfig holds the metrics listener address; empty disables it
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// DefaultDenylist is the denylist used when none is configured
var DefaultDenylist = []string{
	"lmao", "lol", "lmk", "imo", "tysm", "stress", "type something...",
	"imk", "dumb", "wanna", "sudo", "zero", "sorry", "replied", "zero2sudo", "proud",
	"congrats", "dm'd", "dm", "dms", "mistake", "before i post them.",
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			SessionFile:       "session.json",
			SessionBackend:    SessionBackendFile,
			BaseURL:           "https://i.instagram.com/api/v1",
			Timeout:           30 * time.Second,
			RequestsPerMinute: 30,
		},
		Discord: DiscordConfig{
			Title:      "🌟New Update",
			Color:      0x5865F2,
			APIBaseURL: "https://discord.com/api/v10",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		OCR: OCRConfig{
			Command: "tesseract",
			Timeout: time.Minute,
		},
		Storage: StorageConfig{
			SeenFile:    "seen.json",
			DownloadDir: "stories",
			ImageExt:    ".jpg",
		},
		Schedule: ScheduleConfig{
			MinDelay: 270 * time.Second,
			MaxDelay: 550 * time.Second,
		},
		Denylist: append([]string(nil), DefaultDenylist...),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Names kept compatible with existing deployments
	setString(&c.Instagram.Username, "IG_USERNAME")
	setString(&c.Instagram.Password, "IG_PASSWORD")
	setString(&c.Instagram.TargetUser, "TARGET_USER")
	setString(&c.Discord.Token, "DISCORD_TOKEN")
	setString(&c.Discord.ChannelID, "CHANNEL_ID")
	setString(&c.OCR.Command, "TESSERACT_CMD")

	setString(&c.Instagram.SessionFile, "STORYRELAY_SESSION_FILE")
	setString(&c.Instagram.SessionBackend, "STORYRELAY_SESSION_BACKEND")
	setString(&c.Instagram.SessionPassphrase, "STORYRELAY_SESSION_PASSPHRASE")
	setString(&c.Instagram.UserAgent, "STORYRELAY_USER_AGENT")
	setString(&c.OCR.Languages, "STORYRELAY_OCR_LANGUAGES")
	setString(&c.Storage.SeenFile, "STORYRELAY_SEEN_FILE")
	setString(&c.Storage.DownloadDir, "STORYRELAY_DOWNLOAD_DIR")
	setString(&c.Logging.Level, "STORYRELAY_LOG_LEVEL")
	setString(&c.Logging.File, "STORYRELAY_LOG_FILE")
	setString(&c.Metrics.Addr, "STORYRELAY_METRICS_ADDR")

	var errs []error
	for key, target := range map[string]*time.Duration{
		"STORYRELAY_MIN_DELAY": &c.Schedule.MinDelay,
		"STORYRELAY_MAX_DELAY": &c.Schedule.MaxDelay,
	} {
		if raw := os.Getenv(key); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*target = d
		}
	}

	if raw := os.Getenv("STORYRELAY_REMOVE_SUPPRESSED"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("STORYRELAY_REMOVE_SUPPRESSED: %w", err))
		} else {
			c.Storage.RemoveSuppressed = v
		}
	}

	if raw := os.Getenv("STORYRELAY_DENYLIST"); raw != "" {
		c.Denylist = splitList(raw)
	}

	return errors.Join(errs...)
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"storyrelay.yaml",
		"storyrelay.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "storyrelay", "config.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Required values, all reported at once
	required := []struct {
		value string
		name  string
	}{
		{c.Instagram.Username, "Instagram username (IG_USERNAME)"},
		{c.Instagram.Password, "Instagram password (IG_PASSWORD)"},
		{c.Instagram.TargetUser, "target username (TARGET_USER)"},
		{c.Discord.Token, "Discord bot token (DISCORD_TOKEN)"},
		{c.Discord.ChannelID, "Discord channel ID (CHANNEL_ID)"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	if c.Discord.ChannelID != "" {
		if _, err := strconv.ParseUint(c.Discord.ChannelID, 10, 64); err != nil {
			errs = append(errs, errors.New("Discord channel ID must be numeric"))
		}
	}

	switch c.Instagram.SessionBackend {
	case SessionBackendFile, SessionBackendKeyring:
	case SessionBackendEncrypted:
		if c.Instagram.SessionPassphrase == "" {
			errs = append(errs, errors.New("encrypted session backend requires a passphrase"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Instagram.SessionBackend))
	}
	if c.Instagram.SessionBackend != SessionBackendKeyring && c.Instagram.SessionFile == "" {
		errs = append(errs, errors.New("session file is required"))
	}
	if c.Instagram.Timeout <= 0 {
		errs = append(errs, errors.New("instagram timeout must be positive"))
	}
	if c.Instagram.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	if c.Discord.MaxRetries < 0 {
		errs = append(errs, errors.New("discord max retries cannot be negative"))
	}
	if c.Discord.Timeout <= 0 {
		errs = append(errs, errors.New("discord timeout must be positive"))
	}

	if c.OCR.Command == "" {
		errs = append(errs, errors.New("OCR command is required"))
	}

	if c.Storage.SeenFile == "" {
		errs = append(errs, errors.New("seen file is required"))
	}
	if c.Storage.DownloadDir == "" {
		errs = append(errs, errors.New("download directory is required"))
	}
	if !strings.HasPrefix(c.Storage.ImageExt, ".") {
		errs = append(errs, errors.New("image extension must start with a dot"))
	}

	if c.Schedule.MinDelay <= 0 {
		errs = append(errs, errors.New("minimum delay must be positive"))
	}
	if c.Schedule.MaxDelay < c.Schedule.MinDelay {
		errs = append(errs, errors.New("maximum delay must not be below minimum delay"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if target, ok := flags["target"].(string); ok && target != "" {
		c.Instagram.TargetUser = target
	}
	if seenFile, ok := flags["seen-file"].(string); ok && seenFile != "" {
		c.Storage.SeenFile = seenFile
	}
	if dir, ok := flags["download-dir"].(string); ok && dir != "" {
		c.Storage.DownloadDir = dir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Addr = addr
	}
	if d, ok := flags["min-delay"].(time.Duration); ok && d > 0 {
		c.Schedule.MinDelay = d
	}
	if d, ok := flags["max-delay"].(time.Duration); ok && d > 0 {
		c.Schedule.MaxDelay = d
	}
}

// Save writes the configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// Secrets may be present, keep the file private
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SecretSource supplies the Instagram password when no other source has one
type SecretSource func(username string) (string, error)

// LoadEnvFiles loads .env files without overriding variables already set
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".storyrelay.env"))
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}, secrets ...SecretSource) (*Config, error) {
	LoadEnvFiles()

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if config.Instagram.Password == "" && config.Instagram.Username != "" {
		for _, source := range secrets {
			if password, err := source(config.Instagram.Username); err == nil && password != "" {
				config.Instagram.Password = password
				break
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Masked returns a copy safe for display, with secrets shortened
func (c *Config) Masked() *Config {
	masked := *c
	masked.Denylist = append([]string(nil), c.Denylist...)
	masked.Instagram.Password = maskString(c.Instagram.Password)
	masked.Instagram.SessionPassphrase = maskString(c.Instagram.SessionPassphrase)
	masked.Discord.Token = maskString(c.Discord.Token)
	return &masked
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
