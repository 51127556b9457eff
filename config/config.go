// Package config loads kvault settings from a YAML file, KVAULT_*
// environment variables and built-in defaults, in that order of precedence
// (environment first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stevemurr/knowledge-vault/ingest"
	"github.com/stevemurr/knowledge-vault/logging"
)

// FileName is the config file base name searched for when no explicit path
// is given.
const FileName = "kvault"

type Config struct {
	DataDir         string          `yaml:"data_dir" mapstructure:"data_dir"`
	Backend         string          `yaml:"backend" mapstructure:"backend"`
	InitialSnapshot bool            `yaml:"initial_snapshot" mapstructure:"initial_snapshot"`
	Log             LogConfig       `yaml:"log" mapstructure:"log"`
	Retrieval       RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Archive         ArchiveConfig   `yaml:"archive" mapstructure:"archive"`
	Ingest          IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k" mapstructure:"top_k"`
}

// ArchiveConfig selects where exported snapshot bundles go. Kind "dir"
// writes under Dir; kind "minio" talks to an S3-compatible endpoint.
type ArchiveConfig struct {
	Kind        string `yaml:"kind" mapstructure:"kind"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix"`
	AccessKey   string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey   string `yaml:"secret_key" mapstructure:"secret_key"`
	Secure      bool   `yaml:"secure" mapstructure:"secure"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// IngestConfig controls how source files are cut into documents.
type IngestConfig struct {
	ChunkSize int      `yaml:"chunk_size" mapstructure:"chunk_size"`
	Overlap   int      `yaml:"overlap" mapstructure:"overlap"`
	Include   []string `yaml:"include" mapstructure:"include"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:         "knowledge_agents",
		Backend:         "json",
		InitialSnapshot: true,
		Log:             LogConfig{Level: "info", Format: logging.FormatText},
		Retrieval:       RetrievalConfig{TopK: 3},
		Archive: ArchiveConfig{
			Kind:        "dir",
			Dir:         "knowledge_archive",
			Prefix:      "kvault",
			Secure:      true,
			Concurrency: 4,
		},
		Ingest: IngestConfig{
			ChunkSize: ingest.DefaultChunkSize,
			Overlap:   ingest.DefaultOverlap,
			Include:   slices.Clone(ingest.DefaultInclude),
		},
	}
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

// expandEnv replaces $NAME references with the environment value, leaving
// unknown names untouched.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(strings.TrimPrefix(match, "$")); ok {
			return val
		}
		return match
	})
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("initial_snapshot", cfg.InitialSnapshot)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("retrieval.top_k", cfg.Retrieval.TopK)
	v.SetDefault("archive.kind", cfg.Archive.Kind)
	v.SetDefault("archive.dir", cfg.Archive.Dir)
	v.SetDefault("archive.endpoint", cfg.Archive.Endpoint)
	v.SetDefault("archive.bucket", cfg.Archive.Bucket)
	v.SetDefault("archive.prefix", cfg.Archive.Prefix)
	v.SetDefault("archive.access_key", cfg.Archive.AccessKey)
	v.SetDefault("archive.secret_key", cfg.Archive.SecretKey)
	v.SetDefault("archive.secure", cfg.Archive.Secure)
	v.SetDefault("archive.concurrency", cfg.Archive.Concurrency)
	v.SetDefault("ingest.chunk_size", cfg.Ingest.ChunkSize)
	v.SetDefault("ingest.overlap", cfg.Ingest.Overlap)
	v.SetDefault("ingest.include", cfg.Ingest.Include)
}

// Load reads the configuration. With an empty path, kvault.yaml is looked up
// in the working directory, $XDG_CONFIG_HOME/kvault and ~/.config/kvault,
// and a missing file just means defaults. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "kvault"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "kvault"))
		}
	}

	v.SetEnvPrefix("KVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Archive.AccessKey = expandEnv(cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = expandEnv(cfg.Archive.SecretKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors. A non-positive archive
// concurrency is reset to the default.
func (c *Config) Validate() error {
	switch c.Backend {
	case "json", "sqlite", "memory":
	default:
		return fmt.Errorf("config: backend %q is invalid (must be json, sqlite or memory)", c.Backend)
	}
	if c.DataDir == "" && c.Backend != "memory" {
		return fmt.Errorf("config: data_dir is required for the %s backend", c.Backend)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("config: log.format %q is invalid (must be text or json)", c.Log.Format)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("config: retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	switch c.Archive.Kind {
	case "dir":
		if c.Archive.Dir == "" {
			return fmt.Errorf("config: archive.dir is required for the dir archive")
		}
	case "minio":
		if c.Archive.Endpoint == "" || c.Archive.Bucket == "" {
			return fmt.Errorf("config: archive.endpoint and archive.bucket are required for the minio archive")
		}
	default:
		return fmt.Errorf("config: archive.kind %q is invalid (must be dir or minio)", c.Archive.Kind)
	}
	if err := ingest.CheckChunking(c.Ingest.ChunkSize, c.Ingest.Overlap); err != nil {
		return fmt.Errorf("config: ingest: %w", err)
	}
	if err := ingest.CheckPatterns(c.Ingest.Include); err != nil {
		return fmt.Errorf("config: ingest.include: %w", err)
	}
	if c.Archive.Concurrency < 1 {
		c.Archive.Concurrency = DefaultConfig().Archive.Concurrency
	}
	return nil
}

// Write stores cfg as YAML at path, creating parent directories. The file
// may hold archive credentials, so it is readable by the owner only.
func Write(path string, cfg *Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
