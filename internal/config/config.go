package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Origin     string           `yaml:"origin"`
	Cache      CacheConfig      `yaml:"cache"`
	Deployment DeploymentConfig `yaml:"deployment"`
	Precache   []string         `yaml:"precache"`
	Version    VersionConfig    `yaml:"version"`
	Store      StoreConfig      `yaml:"store"`

	FetchTimeout time.Duration `yaml:"fetchTimeout"`
}

type ServerConfig struct {
	Address string    `yaml:"address"`
	TLS     TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type CacheConfig struct {
	Name string `yaml:"name"`
}

type DeploymentConfig struct {
	Version string `yaml:"version"`
}

type VersionConfig struct {
	Descriptor string        `yaml:"descriptor"`
	CheckEvery time.Duration `yaml:"checkEvery"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// DefaultPrecache is the game's core resource manifest: the documents and a
// representative image subset fetched and dual-cached at install time.
var DefaultPrecache = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/version.json",
	"/resources/apple.png",
	"/resources/orange.png",
	"/resources/grape.png",
	"/resources/basket.png",
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")

	if cfg.Deployment.Version == "" {
		return fmt.Errorf("deployment.version is required")
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	if cfg.Cache.Name == "" {
		cfg.Cache.Name = "fruit-game-cache"
	}

	if len(cfg.Precache) == 0 {
		cfg.Precache = append([]string(nil), DefaultPrecache...)
	}
	for i, p := range cfg.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("precache[%d]: %q is not an origin path", i, p)
		}
	}

	if cfg.Version.Descriptor == "" {
		cfg.Version.Descriptor = "/version.json"
	}

	switch cfg.Store.Backend {
	case "":
		cfg.Store.Backend = "leveldb"
	case "leveldb", "redis":
	default:
		return fmt.Errorf("store.backend: unknown backend %q", cfg.Store.Backend)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/store"
	}

	if cfg.Store.Backend == "redis" && cfg.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr is required for the redis backend")
	}

	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	return nil
}

// GenerationName returns the cache generation tag for the configured
// deployment, e.g. "fruit-game-cache-v1.0.0". Changing deployment.version is
// the sole trigger for garbage-collecting the previous generation on the next
// activation.
func (cfg *Config) GenerationName() string {
	return cfg.Cache.Name + "-" + cfg.Deployment.Version
}
