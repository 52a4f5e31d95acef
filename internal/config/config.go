package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8080"
	defaultHealthCachePath = "fleetsync-health.db"
	defaultAgentTimeout    = 10 * time.Second
	defaultAgentPort       = 8888
	defaultPollInterval    = time.Minute
	defaultErrorInterval   = 30 * time.Second
	defaultRetries         = 2
	defaultRetryDelay      = 2 * time.Second
	defaultDedupWindow     = 5 * time.Second
	defaultResolver        = "1.1.1.1:53"
)

type Config struct {
	Listen          string     `yaml:"listen"`
	DatabaseURL     string     `yaml:"databaseUrl"`
	HealthCachePath string     `yaml:"healthCachePath"`
	Log             Log        `yaml:"log"`
	Agent           Agent      `yaml:"agent"`
	Cloudflare      Cloudflare `yaml:"cloudflare"`
	Health          Health     `yaml:"health"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type Agent struct {
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Port    int           `yaml:"port"`
}

type Cloudflare struct {
	Token string `yaml:"token"`
}

type Health struct {
	Interval      time.Duration `yaml:"interval"`
	ErrorInterval time.Duration `yaml:"errorInterval"`
	Retries       int           `yaml:"retries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	DedupWindow   time.Duration `yaml:"dedupWindow"`
	Resolver      string        `yaml:"resolver"`
}

func Load(path string) (*Config, error) {
	configFile := true
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, proceeding", "path", path)
		configFile = false
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, err
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.HealthCachePath == "" {
		cfg.HealthCachePath = defaultHealthCachePath
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = defaultAgentTimeout
	}
	if cfg.Agent.Port == 0 {
		cfg.Agent.Port = defaultAgentPort
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = defaultPollInterval
	}
	if cfg.Health.ErrorInterval == 0 {
		cfg.Health.ErrorInterval = defaultErrorInterval
	}
	if cfg.Health.Retries == 0 {
		cfg.Health.Retries = defaultRetries
	}
	if cfg.Health.RetryDelay == 0 {
		cfg.Health.RetryDelay = defaultRetryDelay
	}
	if cfg.Health.DedupWindow == 0 {
		cfg.Health.DedupWindow = defaultDedupWindow
	}
	if cfg.Health.Resolver == "" {
		cfg.Health.Resolver = defaultResolver
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = "prod"
	}

	// Override from environment if set
	if listen := os.Getenv("FLEET_SYNC_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if dbURL := os.Getenv("FLEET_SYNC_DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if cachePath := os.Getenv("FLEET_SYNC_HEALTH_CACHE_PATH"); cachePath != "" {
		cfg.HealthCachePath = cachePath
	}
	if token := os.Getenv("FLEET_SYNC_AGENT_TOKEN"); token != "" {
		cfg.Agent.Token = token
	}
	if timeout := os.Getenv("FLEET_SYNC_AGENT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Agent.Timeout = d
		} else {
			slog.Default().Warn("fail parse agent timeout to duration from string", "timeout", timeout, "error", err)
		}
	}
	if port := os.Getenv("FLEET_SYNC_AGENT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Agent.Port = p
		} else {
			slog.Default().Warn("fail parse agent port to int from string", "port", port, "error", err)
		}
	}
	if cfToken := os.Getenv("FLEET_SYNC_CLOUDFLARE_TOKEN"); cfToken != "" {
		cfg.Cloudflare.Token = cfToken
	}
	if interval := os.Getenv("FLEET_SYNC_HEALTH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Health.Interval = d
		} else {
			slog.Default().Warn("fail parse health interval to duration from string", "interval", interval, "error", err)
		}
	}
	if resolver := os.Getenv("FLEET_SYNC_HEALTH_RESOLVER"); resolver != "" {
		cfg.Health.Resolver = resolver
	}
	if loglevel := os.Getenv("FLEET_SYNC_LOG_LEVEL"); loglevel != "" {
		cfg.Log.Level = loglevel
	}
	if logenv := os.Getenv("FLEET_SYNC_LOG_ENV"); logenv != "" {
		cfg.Log.Env = strings.ToLower(logenv)
	}
	return &cfg, nil
}
