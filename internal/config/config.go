// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Discover DiscoverConfig `mapstructure:"discover"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Index    IndexConfig    `mapstructure:"index"`
	Search   SearchConfig   `mapstructure:"search"`
	Server   ServerConfig   `mapstructure:"server"`
	GenAI    GenAIConfig    `mapstructure:"genai"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig controls the Postgres content store.
type StoreConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ClaimTTLMinutes int    `mapstructure:"claim_ttl_minutes"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// ClaimTTL converts the reclaim window into a duration.
func (s StoreConfig) ClaimTTL() time.Duration {
	return time.Duration(s.ClaimTTLMinutes) * time.Minute
}

// DiscoverConfig selects and tunes the URL discovery strategy.
type DiscoverConfig struct {
	Strategy         string `mapstructure:"strategy"` // "crawl" or "cdx"
	MaxDepth         int    `mapstructure:"max_depth"`
	MaxURLsPerDomain int    `mapstructure:"max_urls_per_domain"`
	CDXServer        string `mapstructure:"cdx_server"`
	CDXIndex         string `mapstructure:"cdx_index"`
}

// ScraperConfig governs the worker pool and claim loop.
type ScraperConfig struct {
	Processes           int    `mapstructure:"processes"`
	ThreadsPerProcess   int    `mapstructure:"threads_per_process"`
	BatchSize           int    `mapstructure:"batch_size"`
	UserAgent           string `mapstructure:"user_agent"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	IdlePolls           int    `mapstructure:"idle_polls"`
}

// Workers is the total goroutine pool size. The original design ran
// several OS processes with several threads each; one Go process
// covers both axes, so the two knobs multiply.
func (s ScraperConfig) Workers() int {
	return s.Processes * s.ThreadsPerProcess
}

// Timeout converts the HTTP timeout into a duration.
func (s ScraperConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// PollInterval is the sleep between empty claim polls.
func (s ScraperConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// IndexConfig tunes the vector index and its snapshot location.
type IndexConfig struct {
	Path string `mapstructure:"path"`
	M    int    `mapstructure:"m"`
	EF   int    `mapstructure:"ef"`
}

// SearchConfig holds query-time defaults.
type SearchConfig struct {
	TopK           int `mapstructure:"top_k"`
	MaxChunkTokens int `mapstructure:"max_chunk_tokens"`
}

// ServerConfig controls the optional status/metrics HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// GenAIConfig names the embedding and report models. The API key is
// read from the environment, never from config files.
type GenAIConfig struct {
	EmbedModel  string `mapstructure:"embed_model"`
	ReportModel string `mapstructure:"report_model"`
	Dimension   int    `mapstructure:"dimension"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZEROWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.claim_ttl_minutes", 15)
	v.SetDefault("store.max_retries", 10)
	v.SetDefault("discover.strategy", "crawl")
	v.SetDefault("discover.max_depth", 3)
	v.SetDefault("discover.max_urls_per_domain", 10000)
	v.SetDefault("discover.cdx_server", "http://index.commoncrawl.org")
	v.SetDefault("discover.cdx_index", "CC-MAIN-2024-10")
	v.SetDefault("scraper.processes", 4)
	v.SetDefault("scraper.threads_per_process", 8)
	v.SetDefault("scraper.batch_size", 100)
	v.SetDefault("scraper.user_agent", "zeroweb-bot/1.0 (+https://github.com/zerolabs/zeroweb)")
	v.SetDefault("scraper.timeout_seconds", 10)
	v.SetDefault("scraper.poll_interval_seconds", 5)
	v.SetDefault("scraper.idle_polls", 3)
	v.SetDefault("index.path", "zeroweb_index")
	v.SetDefault("index.m", 16)
	v.SetDefault("index.ef", 200)
	v.SetDefault("search.top_k", 10)
	v.SetDefault("search.max_chunk_tokens", 24000)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("genai.embed_model", "text-embedding-004")
	v.SetDefault("genai.report_model", "gemini-2.5-flash")
	v.SetDefault("genai.dimension", 768)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Scraper.Processes <= 0 || c.Scraper.ThreadsPerProcess <= 0 {
		return fmt.Errorf("scraper.processes and scraper.threads_per_process must be > 0")
	}
	if c.Scraper.BatchSize <= 0 {
		return fmt.Errorf("scraper.batch_size must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	switch c.Discover.Strategy {
	case "crawl", "cdx":
	default:
		return fmt.Errorf("discover.strategy must be \"crawl\" or \"cdx\", got %q", c.Discover.Strategy)
	}
	if c.Store.ClaimTTLMinutes <= 0 {
		return fmt.Errorf("store.claim_ttl_minutes must be > 0")
	}
	if c.Index.Path == "" {
		return fmt.Errorf("index.path is required")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.GenAI.Dimension <= 0 {
		return fmt.Errorf("genai.dimension must be > 0")
	}
	return nil
}
