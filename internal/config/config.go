package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-yaml/yaml"

	"github.com/totegamma/ortto-dashboard/client"
	"github.com/totegamma/ortto-dashboard/internal/domain"
)

type Config struct {
	Server  Server              `yaml:"server"`
	Logging Logging             `yaml:"logging"`
	Ortto   client.Options      `yaml:"ortto"`
	Cache   domain.CacheConfig  `yaml:"cache"`
	Refill  domain.RefillConfig `yaml:"refill"`
	Auth    domain.AuthConfig   `yaml:"auth"`
}

type Server struct {
	Listen        string   `yaml:"listen" env:"LISTEN_ADDR"`
	PostgresDsn   string   `yaml:"postgresDsn" env:"POSTGRES_DSN"`
	RedisAddr     string   `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword string   `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	RedisDB       int      `yaml:"redisDB" env:"REDIS_DB"`
	MemcachedAddr string   `yaml:"memcachedAddr" env:"MEMCACHED_ADDR"`
	EnableTrace   bool     `yaml:"enableTrace" env:"ENABLE_TRACE"`
	TraceEndpoint string   `yaml:"traceEndpoint" env:"TRACE_ENDPOINT"`
	CORSOrigins   []string `yaml:"corsOrigins" env:"CORS_ORIGINS" envSeparator:","`
}

type Logging struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

func Default() Config {
	return Config{
		Server: Server{
			Listen: ":8000",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Ortto: client.Options{
			Queue: client.DefaultQueueOptions(),
		},
		Cache:  domain.DefaultCacheConfig(),
		Refill: domain.DefaultRefillConfig(),
	}
}

// Load reads the YAML file at path over the defaults, then applies environment overrides.
// An empty path or a missing file leaves only defaults and environment.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(&config); err != nil {
				return Config{}, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if config.Server.EnableTrace && config.Server.TraceEndpoint == "" {
		return Config{}, fmt.Errorf("traceEndpoint is required when enableTrace is set")
	}

	config.Cache = config.Cache.WithDefaults()
	config.Refill = config.Refill.WithDefaults()
	return config, nil
}

// RequireUpstream checks the settings needed to call Ortto. Commands that only touch the store skip it.
func (c Config) RequireUpstream() error {
	if c.Ortto.APIKey == "" {
		return errors.New("ortto api key is required (ortto.apiKey or ORTTO_API_KEY)")
	}
	return nil
}
