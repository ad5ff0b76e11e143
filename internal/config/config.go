package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	NodeInfo NodeInfo `yaml:"nodeInfo"`
	Server   Server   `yaml:"server"`
	Cache    Cache    `yaml:"cache"`
}

type NodeInfo struct {
	FQDN    string `yaml:"fqdn"`
	Version string `yaml:"version"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
	LogLevel      string `yaml:"logLevel"`
	AutoMigrate   bool   `yaml:"autoMigrate"`
}

type Cache struct {
	// LocalTTL bounds how long a loaded application instance, with its
	// memoized views, is reused by this process.
	LocalTTL  time.Duration `yaml:"localTTL"`
	SharedTTL time.Duration `yaml:"sharedTTL"`
}

const (
	defaultListen    = ":8000"
	defaultLogLevel  = "info"
	defaultLocalTTL  = 30 * time.Second
	defaultSharedTTL = 5 * time.Minute
)

// Load reads the yaml file at path, then applies environment overrides.
// An empty path skips the file and relies on defaults and environment.
func Load(path string) (Config, error) {
	var config Config

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "open config")
		}
		defer file.Close()

		err = yaml.NewDecoder(file).Decode(&config)
		if err != nil {
			return Config{}, errors.Wrap(err, "decode config")
		}
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	if err := config.applyEnv(); err != nil {
		return Config{}, err
	}
	config.applyDefaults()

	if config.Server.PostgresDsn == "" {
		return Config{}, errors.New("server.postgresDsn is required")
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaultLogLevel
	}
	if c.Cache.LocalTTL <= 0 {
		c.Cache.LocalTTL = defaultLocalTTL
	}
	if c.Cache.SharedTTL <= 0 {
		c.Cache.SharedTTL = defaultSharedTTL
	}
}

func (c *Config) applyEnv() error {
	overrides := map[string]*string{
		"APPFORGE_LISTEN":         &c.Server.Listen,
		"APPFORGE_POSTGRES_DSN":   &c.Server.PostgresDsn,
		"APPFORGE_REDIS_ADDR":     &c.Server.RedisAddr,
		"APPFORGE_REDIS_PASSWORD": &c.Server.RedisPassword,
		"APPFORGE_MEMCACHED_ADDR": &c.Server.MemcachedAddr,
		"APPFORGE_TRACE_ENDPOINT": &c.Server.TraceEndpoint,
		"APPFORGE_LOG_LEVEL":      &c.Server.LogLevel,
		"APPFORGE_FQDN":           &c.NodeInfo.FQDN,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("APPFORGE_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "APPFORGE_REDIS_DB")
		}
		c.Server.RedisDB = db
	}
	if v, ok := os.LookupEnv("APPFORGE_ENABLE_TRACE"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "APPFORGE_ENABLE_TRACE")
		}
		c.Server.EnableTrace = enabled
	}
	return nil
}
