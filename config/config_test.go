package config

import (
	"path/filepath"
	"testing"
	"time"

	"estate_hunter/models"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "DB_DRIVER", "DATABASE_URL", "SQLITE_PATH",
		"APIFY_TOKEN", "APIFY_WEBHOOK_SECRET", "RUN_API_SECRET", "REDIS_ADDR", "HOST", "PORT", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := LoadFrom(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "sites"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != DriverSupabase {
		t.Fatalf("expected supabase driver, got %s", cfg.Database.Driver)
	}
	if cfg.Scraping.DelaySeconds != 1.5 {
		t.Fatalf("expected 1.5s delay, got %v", cfg.Scraping.DelaySeconds)
	}
	if cfg.FetchTimeout() != 20*time.Second {
		t.Fatalf("expected 20s timeout, got %v", cfg.FetchTimeout())
	}
	if cfg.Scraping.ArchiveAfterRuns != 5 {
		t.Fatalf("expected 5 runs before archival, got %d", cfg.Scraping.ArchiveAfterRuns)
	}
	if cfg.Scheduler.Cron != "0 8 * * *" || cfg.Scheduler.Timezone != "Europe/Warsaw" {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if !cfg.SchedulerEnabled() {
		t.Fatalf("expected scheduler enabled by default")
	}
	if got := cfg.EnabledSources(); len(got) != 2 || got[0] != models.SourceKomornik || got[1] != models.SourceELicytacje {
		t.Fatalf("expected [komornik e_licytacje], got %v", got)
	}
	if cfg.Addr() != "0.0.0.0:5000" {
		t.Fatalf("expected 0.0.0.0:5000, got %s", cfg.Addr())
	}
	if got := cfg.Source(models.SourceKomornik).RegionFilter; got != DefaultKomornikRegion {
		t.Fatalf("expected default komornik region, got %q", got)
	}
}

func TestLoadFrom_FileAndSites(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFrom(filepath.Join("testdata", "config.yaml"), filepath.Join("testdata", "sites"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if cfg.SchedulerEnabled() {
		t.Fatalf("expected scheduler disabled")
	}
	if cfg.Scheduler.Interval != 6*time.Hour {
		t.Fatalf("expected 6h interval, got %v", cfg.Scheduler.Interval)
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("expected 1 site file, got %d", len(cfg.Sites))
	}

	komornik := cfg.Source(models.SourceKomornik)
	if komornik.RegionFilter != "" {
		t.Fatalf("expected explicit empty region to disable the filter, got %q", komornik.RegionFilter)
	}
	if komornik.MaxPages != 7 {
		t.Fatalf("expected auctions budget 7, got %d", komornik.MaxPages)
	}
	if komornik.Delay != 500*time.Millisecond {
		t.Fatalf("expected 500ms delay, got %v", komornik.Delay)
	}

	olx := cfg.Source(models.SourceOLX)
	if olx.BaseURL != "http://olx.test" || olx.MaxPages != 2 || olx.DateWindowDays != 14 || olx.RegionFilter != "mazowieckie" {
		t.Fatalf("unexpected olx settings: %+v", olx)
	}

	gratka := cfg.Source(models.SourceGratka)
	if gratka.MaxPages != 10 {
		t.Fatalf("expected classifieds budget 10, got %d", gratka.MaxPages)
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/hunter")
	t.Setenv("PORT", "9090")
	t.Setenv("APIFY_WEBHOOK_SECRET", "hook")

	cfg, err := LoadFrom(filepath.Join("testdata", "config.yaml"), filepath.Join("testdata", "sites"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Fatalf("expected env driver to win, got %s", cfg.Database.Driver)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.RunSecret() != "hook" {
		t.Fatalf("expected run secret to fall back to webhook secret, got %q", cfg.RunSecret())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	t.Setenv("RUN_API_SECRET", "run")
	cfg, _ = LoadFrom(filepath.Join("testdata", "config.yaml"), filepath.Join("testdata", "sites"))
	if cfg.RunSecret() != "run" {
		t.Fatalf("expected dedicated run secret, got %q", cfg.RunSecret())
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: DriverSupabase}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing supabase credentials to fail")
	}

	cfg = &Config{Database: DatabaseConfig{Driver: DriverSQLite}, Scraping: ScrapingConfig{Sources: []string{"komornik", "allegro"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown source to fail")
	}

	cfg = &Config{Database: DatabaseConfig{Driver: "mysql"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestValidate_SiteFiles(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: DriverSQLite},
		Sites: map[string]*SiteConfig{
			"amw":    {ID: "amw", Handler: "list"},
			"otodom": {ID: "otodom", Name: "Otodom"},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected matching site files to pass, got %v", err)
	}

	cfg.Sites["otodom"].Handler = "html"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected mismatched handler to fail")
	}

	delete(cfg.Sites, "otodom")
	cfg.Sites["allegro"] = &SiteConfig{ID: "allegro"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown site file to fail")
	}
}

func TestSiteName(t *testing.T) {
	cfg := &Config{Sites: map[string]*SiteConfig{"olx": {ID: "olx", Name: "OLX nieruchomości"}}}
	if got := cfg.SiteName(models.SourceOLX); got != "OLX nieruchomości" {
		t.Fatalf("expected site name, got %q", got)
	}
	if got := cfg.SiteName(models.SourceAMW); got != "amw" {
		t.Fatalf("expected source id fallback, got %q", got)
	}
}
