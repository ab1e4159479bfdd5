// Package config loads harvester settings from defaults, an optional YAML
// file, .env and HARVESTER_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/researchaccelerator-hub/catalog-harvester/client"
	"github.com/researchaccelerator-hub/catalog-harvester/crawl"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/researchaccelerator-hub/catalog-harvester/state"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the harvester reads.
const EnvPrefix = "HARVESTER"

// DefaultSearchQuery is the catalog query harvested when none is configured.
const DefaultSearchQuery = `"universidad de la frontera" OR "university of the frontier" OR "university of la frontera" OR "university of frontier" OR "frontier university" OR "univ la frontera"`

// Config holds all harvester settings.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Renderer  RendererConfig  `mapstructure:"renderer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Reprocess ReprocessConfig `mapstructure:"reprocess"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// CrawlerConfig controls pagination and batching.
type CrawlerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SearchPath     string `mapstructure:"search_path"`
	SearchQuery    string `mapstructure:"search_query"`
	PageParam      string `mapstructure:"page_param"`
	BatchSize      int    `mapstructure:"batch_size"`
	LinksPerPage   int    `mapstructure:"links_per_page"`
	MaxPages       int    `mapstructure:"max_pages"`
	AbstractMaxLen int    `mapstructure:"abstract_max_len"`
}

// RendererConfig controls how catalog pages are fetched.
type RendererConfig struct {
	PageLoadTimeout time.Duration    `mapstructure:"page_load_timeout"`
	ElementTimeout  time.Duration    `mapstructure:"element_timeout"`
	RequestInterval time.Duration    `mapstructure:"request_interval"`
	RetryInterval   time.Duration    `mapstructure:"retry_interval"`
	FullViewRetries int              `mapstructure:"full_view_retries"`
	UserAgent       string           `mapstructure:"user_agent"`
	Selectors       client.Selectors `mapstructure:"selectors"`
}

// StorageConfig selects and locates the durable stores.
type StorageConfig struct {
	Backend        string     `mapstructure:"backend"`
	RecordsPath    string     `mapstructure:"records_path"`
	SQLitePath     string     `mapstructure:"sqlite_path"`
	StateBackend   string     `mapstructure:"state_backend"`
	CheckpointPath string     `mapstructure:"checkpoint_path"`
	ErrorQueuePath string     `mapstructure:"error_queue_path"`
	Dapr           DaprConfig `mapstructure:"dapr"`
}

// DaprConfig locates the Dapr state store.
type DaprConfig struct {
	StateStore string `mapstructure:"state_store"`
	GRPCPort   string `mapstructure:"grpc_port"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// ReprocessConfig controls the startup retry of failed URLs.
type ReprocessConfig struct {
	DuplicatePolicy       string `mapstructure:"duplicate_policy"`
	ClearOnPartialFailure bool   `mapstructure:"clear_on_partial_failure"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the optional Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// SetDefaults registers every option with its default value.
func SetDefaults(v *viper.Viper) {
	sel := client.DefaultSelectors()

	v.SetDefault("crawler.base_url", "https://repositorio.anid.cl")
	v.SetDefault("crawler.search_path", "/search")
	v.SetDefault("crawler.search_query", DefaultSearchQuery)
	v.SetDefault("crawler.page_param", "spc.page")
	v.SetDefault("crawler.batch_size", crawl.DefaultBatchSize)
	v.SetDefault("crawler.links_per_page", crawl.DefaultLinksPerPage)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.abstract_max_len", model.DefaultAbstractMaxLen)

	v.SetDefault("renderer.page_load_timeout", 40*time.Second)
	v.SetDefault("renderer.element_timeout", 10*time.Second)
	v.SetDefault("renderer.request_interval", 3*time.Second)
	v.SetDefault("renderer.retry_interval", 2*time.Second)
	v.SetDefault("renderer.full_view_retries", 2)
	v.SetDefault("renderer.user_agent", "")
	v.SetDefault("renderer.selectors.ready_marker", sel.ReadyMarker)
	v.SetDefault("renderer.selectors.list_item", sel.ListItem)
	v.SetDefault("renderer.selectors.item_link", sel.ItemLink)
	v.SetDefault("renderer.selectors.title", sel.Title)
	v.SetDefault("renderer.selectors.authors", sel.Authors)
	v.SetDefault("renderer.selectors.date", sel.Date)
	v.SetDefault("renderer.selectors.abstract", sel.Abstract)
	v.SetDefault("renderer.selectors.full_view_link", sel.FullViewLink)
	v.SetDefault("renderer.selectors.metadata_rows", sel.MetadataRows)

	v.SetDefault("storage.backend", "csv")
	v.SetDefault("storage.records_path", "articles_data.csv")
	v.SetDefault("storage.sqlite_path", "articles_data.db")
	v.SetDefault("storage.state_backend", "file")
	v.SetDefault("storage.checkpoint_path", "checkpoint_page.txt")
	v.SetDefault("storage.error_queue_path", "error_links.txt")
	v.SetDefault("storage.dapr.state_store", "statestore")
	v.SetDefault("storage.dapr.grpc_port", "")
	v.SetDefault("storage.dapr.key_prefix", "catalog-harvester")

	v.SetDefault("reprocess.duplicate_policy", string(crawl.DuplicateAppend))
	v.SetDefault("reprocess.clear_on_partial_failure", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("metrics.textfile", "")
}

// New returns a viper instance with defaults and HARVESTER_* environment
// binding. Nested keys map to variables with "_", e.g. HARVESTER_CRAWLER_BATCH_SIZE.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the harvester cannot run with.
func (c *Config) Validate() error {
	if c.Crawler.BatchSize < 1 {
		return fmt.Errorf("crawler.batch_size must be at least 1")
	}
	if c.Crawler.LinksPerPage < 1 {
		return fmt.Errorf("crawler.links_per_page must be at least 1")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages cannot be negative")
	}
	if strings.TrimSpace(c.Crawler.SearchQuery) == "" {
		return fmt.Errorf("crawler.search_query is required")
	}
	if u, err := url.Parse(c.Crawler.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_url %q is not an absolute url", c.Crawler.BaseURL)
	}
	if c.Renderer.PageLoadTimeout <= 0 || c.Renderer.ElementTimeout <= 0 {
		return fmt.Errorf("renderer timeouts must be positive")
	}
	if c.Renderer.FullViewRetries < 0 {
		return fmt.Errorf("renderer.full_view_retries cannot be negative")
	}

	switch c.Storage.Backend {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("invalid storage.backend '%s', must be one of: csv, sqlite", c.Storage.Backend)
	}
	switch c.Storage.StateBackend {
	case "file", "dapr":
	default:
		return fmt.Errorf("invalid storage.state_backend '%s', must be one of: file, dapr", c.Storage.StateBackend)
	}
	switch crawl.DuplicatePolicy(c.Reprocess.DuplicatePolicy) {
	case crawl.DuplicateAppend, crawl.DuplicateReplace:
	default:
		return fmt.Errorf("invalid reprocess.duplicate_policy '%s', must be one of: append, replace", c.Reprocess.DuplicatePolicy)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log.format '%s', must be one of: console, json", c.Log.Format)
	}
	return nil
}

// SearchURL is the catalog search the crawl paginates over.
func (c *Config) SearchURL() string {
	base := strings.TrimRight(c.Crawler.BaseURL, "/")
	path := "/" + strings.TrimLeft(c.Crawler.SearchPath, "/")
	return base + path + "?query=" + url.QueryEscape(c.Crawler.SearchQuery)
}

// StateConfig maps the storage section onto the store factory.
func (c *Config) StateConfig() state.Config {
	return state.Config{
		RecordBackend:  c.Storage.Backend,
		RecordsPath:    c.Storage.RecordsPath,
		SQLitePath:     c.Storage.SQLitePath,
		StateBackend:   c.Storage.StateBackend,
		CheckpointPath: c.Storage.CheckpointPath,
		ErrorQueuePath: c.Storage.ErrorQueuePath,
		DaprConfig: &state.DaprConfig{
			StateStoreName: c.Storage.Dapr.StateStore,
			GRPCPort:       c.Storage.Dapr.GRPCPort,
			KeyPrefix:      c.Storage.Dapr.KeyPrefix,
		},
	}
}

// RendererConfig maps the renderer section onto the DSpace client.
func (c *Config) RendererConfig() client.DSpaceConfig {
	return client.DSpaceConfig{
		BaseURL:         c.Crawler.BaseURL,
		UserAgent:       c.Renderer.UserAgent,
		PageLoadTimeout: c.Renderer.PageLoadTimeout,
		ElementTimeout:  c.Renderer.ElementTimeout,
		RequestInterval: c.Renderer.RequestInterval,
		RetryInterval:   c.Renderer.RetryInterval,
		FullViewRetries: c.Renderer.FullViewRetries,
		AbstractMaxLen:  c.Crawler.AbstractMaxLen,
		Selectors:       c.Renderer.Selectors,
	}
}

// PipelineOptions maps the crawler and reprocess sections onto the pipeline.
func (c *Config) PipelineOptions() crawl.Options {
	return crawl.Options{
		Crawler: crawl.CrawlerOptions{
			SearchURL:      c.SearchURL(),
			PageParam:      c.Crawler.PageParam,
			LinksPerPage:   c.Crawler.LinksPerPage,
			MaxPages:       c.Crawler.MaxPages,
			AbstractMaxLen: c.Crawler.AbstractMaxLen,
		},
		Reprocess: crawl.ReprocessOptions{
			Policy:                crawl.DuplicatePolicy(c.Reprocess.DuplicatePolicy),
			ClearOnPartialFailure: c.Reprocess.ClearOnPartialFailure,
			AbstractMaxLen:        c.Crawler.AbstractMaxLen,
		},
		BatchSize:       c.Crawler.BatchSize,
		MetricsTextfile: c.Metrics.Textfile,
	}
}
