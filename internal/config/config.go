package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thinkscotty/newsroom/internal/automation"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	AI       AIConfig       `yaml:"ai"`
	Topics   []TopicSeed    `yaml:"topics"`
}

type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	MetricsEnabled      bool   `yaml:"metrics_enabled"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type DedupConfig struct {
	ShingleSize      int `yaml:"shingle_size"`
	WindowDays       int `yaml:"window_days"`
	MaxCompare       int `yaml:"max_compare"`
	ScanBatchSize    int `yaml:"scan_batch_size"`
	ScanBatchPauseMS int `yaml:"scan_batch_pause_ms"`
}

type PipelineConfig struct {
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds"`
	DefaultPollMinutes       int `yaml:"default_poll_minutes"`
	FetchTimeoutSeconds      int `yaml:"fetch_timeout_seconds"`
	GenerateTimeoutSeconds   int `yaml:"generate_timeout_seconds"`
	MaxParallelFetches       int `yaml:"max_parallel_fetches"`
	HighWatermark            int `yaml:"high_watermark"`
	LowWatermark             int `yaml:"low_watermark"`
	PersistRetries           int `yaml:"persist_retries"`
	DefaultQualityThreshold  int `yaml:"default_quality_threshold"`
}

type ScraperConfig struct {
	UserAgent          string `yaml:"user_agent"`
	HostIntervalMillis int    `yaml:"host_interval_ms"`
	MaxItemsPerFetch   int    `yaml:"max_items_per_fetch"`
}

type AIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxSlides   int     `yaml:"max_slides"`
}

// TopicSeed declares a topic and its sources so a fresh database can be
// bootstrapped from the config file. Existing topics are matched by name.
type TopicSeed struct {
	Name                string          `yaml:"name"`
	Mode                automation.Mode `yaml:"mode"`
	QualityThreshold    int             `yaml:"quality_threshold"`
	NegativeKeywords    []string        `yaml:"negative_keywords"`
	CompetingRegions    []string        `yaml:"competing_regions"`
	PollIntervalMinutes int             `yaml:"poll_interval_minutes"`
	Sources             []SourceSeed    `yaml:"sources"`
}

type SourceSeed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Kind string `yaml:"kind"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
			MetricsEnabled:      true,
		},
		Database: DatabaseConfig{
			Path: "./newsroom.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Dedup: DedupConfig{
			ShingleSize:      3,
			WindowDays:       7,
			MaxCompare:       500,
			ScanBatchSize:    50,
			ScanBatchPauseMS: 10,
		},
		Pipeline: PipelineConfig{
			ReconcileIntervalSeconds: 60,
			DefaultPollMinutes:       30,
			FetchTimeoutSeconds:      30,
			GenerateTimeoutSeconds:   300,
			MaxParallelFetches:       4,
			HighWatermark:            200,
			LowWatermark:             100,
			PersistRetries:           3,
			DefaultQualityThreshold:  60,
		},
		Scraper: ScraperConfig{
			UserAgent:          "Newsroom/1.0 (Local news pipeline)",
			HostIntervalMillis: 1000,
			MaxItemsPerFetch:   50,
		},
		AI: AIConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "mistral-nemo",
			Temperature: 0.4,
			MaxSlides:   5,
		},
	}
}

// Load reads a YAML config file and merges it over defaults.
// If the file does not exist, defaults are returned without error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No config file found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the pipeline relies on.
func (c Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.LowWatermark <= 0 || p.LowWatermark >= p.HighWatermark {
		errs = append(errs, fmt.Errorf("pipeline watermarks must satisfy 0 < low (%d) < high (%d)", p.LowWatermark, p.HighWatermark))
	}
	if p.DefaultQualityThreshold < 0 || p.DefaultQualityThreshold > 100 {
		errs = append(errs, fmt.Errorf("default_quality_threshold %d out of range 0-100", p.DefaultQualityThreshold))
	}
	if p.FetchTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch_timeout_seconds must be positive"))
	}
	if p.MaxParallelFetches <= 0 {
		errs = append(errs, errors.New("max_parallel_fetches must be positive"))
	}
	if c.Dedup.ScanBatchSize <= 0 {
		errs = append(errs, errors.New("dedup scan_batch_size must be positive"))
	}
	if c.Dedup.ShingleSize <= 0 {
		errs = append(errs, errors.New("dedup shingle_size must be positive"))
	}
	for _, t := range c.Topics {
		if t.Name == "" {
			errs = append(errs, errors.New("seeded topic without a name"))
		}
		if t.QualityThreshold < 0 || t.QualityThreshold > 100 {
			errs = append(errs, fmt.Errorf("topic %q quality_threshold %d out of range 0-100", t.Name, t.QualityThreshold))
		}
	}
	return errors.Join(errs...)
}

func (p PipelineConfig) FetchTimeout() time.Duration {
	return time.Duration(p.FetchTimeoutSeconds) * time.Second
}

func (p PipelineConfig) GenerateTimeout() time.Duration {
	return time.Duration(p.GenerateTimeoutSeconds) * time.Second
}

func (p PipelineConfig) ReconcileInterval() time.Duration {
	return time.Duration(p.ReconcileIntervalSeconds) * time.Second
}

func (d DedupConfig) Window() time.Duration {
	return time.Duration(d.WindowDays) * 24 * time.Hour
}

func (d DedupConfig) ScanPause() time.Duration {
	return time.Duration(d.ScanBatchPauseMS) * time.Millisecond
}
