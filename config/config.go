package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"estate_hunter/models"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Apify     ApifyConfig     `yaml:"apify"`
	RunAPI    RunAPIConfig    `yaml:"run_api"`
	Scraping  ScrapingConfig  `yaml:"scraping"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`

	Sites map[string]*SiteConfig `yaml:"-"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // supabase, postgres, sqlite
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
}

type SupabaseConfig struct {
	URL            string `yaml:"url"`
	ServiceRoleKey string `yaml:"service_role_key"`
}

type ApifyConfig struct {
	Token         string `yaml:"token"`
	WebhookSecret string `yaml:"webhook_secret"`
	BaseURL       string `yaml:"base_url"`
	Actor         string `yaml:"actor"`
}

type RunAPIConfig struct {
	Secret string `yaml:"secret"`
}

type ScrapingConfig struct {
	Sources             []string `yaml:"sources"`
	DelaySeconds        float64  `yaml:"httpx_delay_seconds"`
	BrowserDelaySeconds float64  `yaml:"playwright_delay_seconds"`
	TimeoutSeconds      float64  `yaml:"timeout_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
	MaxPagesAuctions    int      `yaml:"max_pages_auctions"`
	MaxPagesClassifieds int      `yaml:"max_pages_classifieds"`
	KomornikRegion      *string  `yaml:"komornik_region"`
	ErrorPagePhrases    []string `yaml:"error_page_phrases"`
	ArchiveAfterRuns    int      `yaml:"archive_after_runs"`
}

type SchedulerConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Cron     string        `yaml:"cron"`
	Timezone string        `yaml:"timezone"`
	Interval time.Duration `yaml:"interval"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	Backups   int    `yaml:"backups"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type SnapshotConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SiteConfig holds per-source overrides from config/sites/*.yaml.
type SiteConfig struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	Handler        string  `yaml:"handler"` // html, list, browser, dataset
	Kind           string  `yaml:"kind"`    // auctions, classifieds
	BaseURL        string  `yaml:"base_url"`
	MaxPages       int     `yaml:"max_pages"`
	DelaySeconds   float64 `yaml:"delay_seconds"`
	RegionFilter   *string `yaml:"region_filter"`
	DateWindowDays int     `yaml:"date_window_days"`
}

const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// siteHandlers is the adapter kind each source is built with; site files must agree.
var siteHandlers = map[models.Source]string{
	models.SourceKomornik:   "html",
	models.SourceELicytacje: "html",
	models.SourceOLX:        "html",
	models.SourceGratka:     "html",
	models.SourceAMW:        "list",
	models.SourceOtodom:     "browser",
	models.SourceFacebook:   "dataset",
}

// DefaultKomornikRegion limits bailiff notices to the Kielce region unless configured otherwise.
const DefaultKomornikRegion = "świętokrzyskie"

// Load reads .env, config.yaml (or config.example.yaml) and config/sites/*.yaml.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := getEnv("CONFIG_PATH", "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.example.yaml"
	}
	return LoadFrom(path, getEnv("CONFIG_SITES_DIR", filepath.Join("config", "sites")))
}

// LoadFrom is Load without the .env step and with explicit paths. A missing config
// file is not an error; defaults and env apply.
func LoadFrom(path, sitesDir string) (*Config, error) {
	cfg := &Config{Sites: make(map[string]*SiteConfig)}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if cfg.Sites == nil {
			cfg.Sites = make(map[string]*SiteConfig)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.loadSiteConfigs(sitesDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Supabase.URL = getEnv("SUPABASE_URL", c.Supabase.URL)
	c.Supabase.ServiceRoleKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", c.Supabase.ServiceRoleKey)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)
	c.Apify.Token = getEnv("APIFY_TOKEN", c.Apify.Token)
	c.Apify.WebhookSecret = getEnv("APIFY_WEBHOOK_SECRET", c.Apify.WebhookSecret)
	c.RunAPI.Secret = getEnv("RUN_API_SECRET", c.RunAPI.Secret)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSupabase
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "hunter.db"
	}
	if c.Apify.BaseURL == "" {
		c.Apify.BaseURL = "https://api.apify.com/v2"
	}
	if c.Apify.Actor == "" {
		c.Apify.Actor = "facebook"
	}

	s := &c.Scraping
	if len(s.Sources) == 0 {
		s.Sources = []string{"komornik", "e_licytacje"}
	}
	if s.DelaySeconds <= 0 {
		s.DelaySeconds = 1.5
	}
	if s.BrowserDelaySeconds <= 0 {
		s.BrowserDelaySeconds = 4
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = 20
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.MaxPagesAuctions <= 0 {
		s.MaxPagesAuctions = 50
	}
	if s.MaxPagesClassifieds <= 0 {
		s.MaxPagesClassifieds = 10
	}
	if s.ArchiveAfterRuns <= 0 {
		s.ArchiveAfterRuns = 5
	}

	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = "0 8 * * *"
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Europe/Warsaw"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.Backups <= 0 {
		c.Logging.Backups = 3
	}
	if c.Redis.DedupTTL <= 0 {
		c.Redis.DedupTTL = 24 * time.Hour
	}
	if c.Snapshots.Prefix == "" {
		c.Snapshots.Prefix = "raw"
	}
}

func (c *Config) loadSiteConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if site.ID == "" {
			site.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

// SchedulerEnabled defaults to true when unset.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// RunSecret guards the run-control API; it falls back to the webhook secret.
func (c *Config) RunSecret() string {
	if s := strings.TrimSpace(c.RunAPI.Secret); s != "" {
		return s
	}
	return strings.TrimSpace(c.Apify.WebhookSecret)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) FetchTimeout() time.Duration {
	return seconds(c.Scraping.TimeoutSeconds)
}

// Validate checks what must hold before any run can start.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceRoleKey == "" {
			return fmt.Errorf("supabase.url and supabase.service_role_key required (config or env)")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url or DATABASE_URL required for postgres driver")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	for _, s := range c.Scraping.Sources {
		if _, err := models.ParseSource(s); err != nil {
			return fmt.Errorf("scraping.sources: %w", err)
		}
	}

	for id, site := range c.Sites {
		src, err := models.ParseSource(id)
		if err != nil {
			return fmt.Errorf("site %s: %w", id, err)
		}
		if site.Handler != "" && site.Handler != siteHandlers[src] {
			return fmt.Errorf("site %s: handler %q, want %q", id, site.Handler, siteHandlers[src])
		}
	}
	return nil
}

// SiteName is the display name from the site file, or the source ID.
func (c *Config) SiteName(src models.Source) string {
	if site, ok := c.Sites[string(src)]; ok && site.Name != "" {
		return site.Name
	}
	return string(src)
}

// EnabledSources returns scraping.sources in configured order, de-duplicated.
func (c *Config) EnabledSources() []models.Source {
	seen := make(map[models.Source]bool)
	var out []models.Source
	for _, s := range c.Scraping.Sources {
		src, err := models.ParseSource(s)
		if err != nil || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// SourceSettings is the resolved per-source tuning handed to adapters.
type SourceSettings struct {
	BaseURL        string
	MaxPages       int
	Delay          time.Duration
	RegionFilter   string
	DateWindowDays int
}

// Source resolves global scraping defaults with the matching site file, if any.
func (c *Config) Source(src models.Source) SourceSettings {
	s := SourceSettings{
		MaxPages: c.Scraping.MaxPagesAuctions,
		Delay:    seconds(c.Scraping.DelaySeconds),
	}

	switch src {
	case models.SourceOLX, models.SourceGratka, models.SourceOtodom:
		s.MaxPages = c.Scraping.MaxPagesClassifieds
	}
	if src == models.SourceOtodom {
		s.Delay = seconds(c.Scraping.BrowserDelaySeconds)
	}
	if src == models.SourceKomornik {
		s.RegionFilter = DefaultKomornikRegion
		if c.Scraping.KomornikRegion != nil {
			s.RegionFilter = strings.TrimSpace(*c.Scraping.KomornikRegion)
		}
	}

	site, ok := c.Sites[string(src)]
	if !ok {
		return s
	}
	if site.Kind == "classifieds" && site.MaxPages <= 0 {
		s.MaxPages = c.Scraping.MaxPagesClassifieds
	}
	if site.BaseURL != "" {
		s.BaseURL = site.BaseURL
	}
	if site.MaxPages > 0 {
		s.MaxPages = site.MaxPages
	}
	if site.DelaySeconds > 0 {
		s.Delay = seconds(site.DelaySeconds)
	}
	if site.RegionFilter != nil {
		s.RegionFilter = strings.TrimSpace(*site.RegionFilter)
	}
	if site.DateWindowDays > 0 {
		s.DateWindowDays = site.DateWindowDays
	}
	return s
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
