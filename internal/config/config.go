package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service settings, read from config.yaml with
// environment-variable overrides (prefix ALERT_ETL, dots become
// underscores: ALERT_ETL_DASHBOARD_ADDR overrides dashboard.addr).
type Config struct {
	Region    RegionConfig    `mapstructure:"region"`
	Source    SourceConfig    `mapstructure:"source"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	History   HistoryConfig   `mapstructure:"history"`

	HealthAddr      string        `mapstructure:"health_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RegionConfig identifies the target region. The district set itself
// lives in reference-data files under Paths.ReferenceDir; swapping
// regions is a data change, not a code change.
type RegionConfig struct {
	Name       string `mapstructure:"name"`
	Prefix     string `mapstructure:"prefix"`
	Department string `mapstructure:"department"`
}

type SourceConfig struct {
	PageURL      string        `mapstructure:"page_url"`
	WFSURL       string        `mapstructure:"wfs_url"`
	PageTimeout  time.Duration `mapstructure:"page_timeout"`
	WFSTimeout   time.Duration `mapstructure:"wfs_timeout"`
	FallbackYear string        `mapstructure:"fallback_year"`
}

// MatcherConfig controls the geometry-fetch stage. Workers outside
// [1,8] are clamped rather than rejected.
type MatcherConfig struct {
	Parallel bool `mapstructure:"parallel"`
	Workers  int  `mapstructure:"workers"`
}

// PathsConfig locates the service's files on disk. ReferenceURL is an
// optional base URL used to fetch missing reference files on startup;
// when empty, missing files are a startup error.
type PathsConfig struct {
	OutputCSV    string `mapstructure:"output_csv"`
	Database     string `mapstructure:"database"`
	MapsDir      string `mapstructure:"maps_dir"`
	ReportsDir   string `mapstructure:"reports_dir"`
	ReferenceDir string `mapstructure:"reference_dir"`
	ReferenceURL string `mapstructure:"reference_url"`
}

type ScheduleConfig struct {
	CheckTimes []string `mapstructure:"check_times"`
	Timezone   string   `mapstructure:"timezone"`
}

type DashboardConfig struct {
	Addr     string        `mapstructure:"addr"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// Load reads configuration from the given file (or config.yaml in . and
// ./config when path is empty), applying defaults where unset. A missing
// config file is not an error; an unreadable or invalid one is.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("region.name", "Moquegua")
	v.SetDefault("region.prefix", "18")
	v.SetDefault("region.department", "MOQUEGUA")
	v.SetDefault("source.page_url", "https://www.senamhi.gob.pe/?&p=aviso-meteorologico")
	v.SetDefault("source.wfs_url", "https://idesep.senamhi.gob.pe/geoserver/g_aviso/ows")
	v.SetDefault("source.page_timeout", "30s")
	v.SetDefault("source.wfs_timeout", "60s")
	v.SetDefault("source.fallback_year", "2025")
	v.SetDefault("matcher.parallel", false)
	v.SetDefault("matcher.workers", 4)
	v.SetDefault("paths.output_csv", "alertas_moquegua.csv")
	v.SetDefault("paths.database", "alertas_moquegua.db")
	v.SetDefault("paths.maps_dir", "maps")
	v.SetDefault("paths.reports_dir", "reports")
	v.SetDefault("paths.reference_dir", "data/reference")
	v.SetDefault("paths.reference_url", "")
	v.SetDefault("schedule.check_times", []string{"06:00", "12:00", "18:00"})
	v.SetDefault("schedule.timezone", "America/Lima")
	v.SetDefault("dashboard.addr", ":8081")
	v.SetDefault("dashboard.cache_ttl", "5m")
	v.SetDefault("history.retention_days", 365)
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetEnvPrefix("ALERT_ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Matcher.Workers < 1 {
		cfg.Matcher.Workers = 1
	}
	if cfg.Matcher.Workers > 8 {
		cfg.Matcher.Workers = 8
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Region.Prefix == "" {
		return errors.New("region.prefix is required")
	}
	if c.Source.PageURL == "" {
		return errors.New("source.page_url is required")
	}
	if c.Source.WFSURL == "" {
		return errors.New("source.wfs_url is required")
	}
	if c.Source.PageTimeout <= 0 {
		return errors.New("source.page_timeout must be positive")
	}
	if c.Source.WFSTimeout <= 0 {
		return errors.New("source.wfs_timeout must be positive")
	}
	if c.Paths.OutputCSV == "" {
		return errors.New("paths.output_csv is required")
	}
	if c.Paths.Database == "" {
		return errors.New("paths.database is required")
	}
	if c.Paths.ReferenceDir == "" {
		return errors.New("paths.reference_dir is required")
	}
	if len(c.Schedule.CheckTimes) == 0 {
		return errors.New("schedule.check_times must not be empty")
	}
	for _, ct := range c.Schedule.CheckTimes {
		if _, err := time.Parse("15:04", ct); err != nil {
			return fmt.Errorf("schedule.check_times entry %q is not HH:MM", ct)
		}
	}
	if c.Schedule.Timezone == "" {
		return errors.New("schedule.timezone is required")
	}
	if c.Dashboard.CacheTTL <= 0 {
		return errors.New("dashboard.cache_ttl must be positive")
	}
	if c.History.RetentionDays <= 0 {
		return errors.New("history.retention_days must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}
