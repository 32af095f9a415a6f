package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	EnvLogLevel  = "MODSYNC_LOG_LEVEL"
	EnvRedisURL  = "MODSYNC_REDIS_URL"
	EnvRateLimit = "MODSYNC_RATE_LIMIT"

	defaultModuleBase          = "node_modules"
	defaultDescriptorFileName  = "module.json"
	defaultDataDir             = "node_modules/tera-data"
	defaultDataServer          = "https://raw.githubusercontent.com/hackerman-caali/tera-data/master/"
	defaultMaxManifestRestarts = 1
	defaultHTTPTimeout         = 30 * time.Second
	defaultSupportURL          = "https://discord.gg/maqBmJV"
	defaultReportTTL           = 7 * 24 * time.Hour
)

type SelfConfig struct {
	Root    string   `yaml:"root"`
	Servers []string `yaml:"servers"`
	DRMKey  string   `yaml:"drm_key"`
}

type SyncConfig struct {
	ModuleBase          string        `yaml:"module_base"`
	DescriptorFileName  string        `yaml:"descriptor_filename"`
	LegacyExtensions    []string      `yaml:"legacy_extensions"`
	DataDir             string        `yaml:"data_dir"`
	DataServers         []string      `yaml:"data_servers"`
	RateLimit           bool          `yaml:"rate_limit"`
	ManifestRestarts    *int          `yaml:"max_manifest_restarts"` // nil when absent from the file
	MaxManifestRestarts int           `yaml:"-"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	SupportURL          string        `yaml:"support_url"`
}

type ReportConfig struct {
	HTMLFileName string        `yaml:"html"`
	RedisURL     string        `yaml:"redis_url"`
	TTL          time.Duration `yaml:"ttl"`
}

type Config struct {
	LogLevel string       `yaml:"log_level"`
	Sync     SyncConfig   `yaml:"sync"`
	Self     SelfConfig   `yaml:"self"`
	Report   ReportConfig `yaml:"report"`
}

func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}

	if c.Sync.ModuleBase == "" {
		c.Sync.ModuleBase = defaultModuleBase
	}

	if c.Sync.DescriptorFileName == "" {
		c.Sync.DescriptorFileName = defaultDescriptorFileName
	}

	if c.Sync.LegacyExtensions == nil {
		c.Sync.LegacyExtensions = []string{".js"}
	}

	if c.Sync.DataDir == "" {
		c.Sync.DataDir = defaultDataDir
	}

	if len(c.Sync.DataServers) == 0 {
		c.Sync.DataServers = []string{defaultDataServer}
	}

	c.Sync.MaxManifestRestarts = defaultMaxManifestRestarts
	if c.Sync.ManifestRestarts != nil {
		c.Sync.MaxManifestRestarts = *c.Sync.ManifestRestarts
	}

	if c.Sync.HTTPTimeout <= 0 {
		c.Sync.HTTPTimeout = defaultHTTPTimeout
	}

	if c.Sync.SupportURL == "" {
		c.Sync.SupportURL = defaultSupportURL
	}

	if c.Report.TTL <= 0 {
		c.Report.TTL = defaultReportTTL
	}
}

// Load reads the yaml config file. A missing file is not an error, defaults are used instead.
// Variables from .env (if present) and the process environment override the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot load .env file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if r := cfg.Sync.ManifestRestarts; r != nil && *r < 0 {
		return nil, fmt.Errorf("max_manifest_restarts must not be negative, got %d", *r)
	}

	cfg.SetDefaults()

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Report.RedisURL = v
	}

	if v := os.Getenv(EnvRateLimit); v != "" {
		rl, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("cannot parse %s: %w", EnvRateLimit, err)
		}
		c.Sync.RateLimit = rl
	}

	return nil
}
