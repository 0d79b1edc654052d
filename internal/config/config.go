package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// DefaultFilename is looked up in the working directory when no file is given
	DefaultFilename = ".sbomgraph.toml"
	// EnvPrefix prefixes environment overrides, e.g. SBOMGRAPH_BATCH_SIZE
	EnvPrefix = "SBOMGRAPH"
)

// Load reads the TOML config file on top of the defaults. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*models.Config, error) {
	cfg := models.DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultFilename
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			slog.Debug("no config file found", "path", path)
			return cfg, nil
		}
		return nil, errors.Wrap(err, "could not stat config file")
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		slog.Warn("unknown keys in config file", "path", path, "keys", undecoded)
	}

	return cfg, Validate(cfg)
}

// Apply layers environment variables and bound flags from v over cfg.
// Values already in cfg act as defaults, so only changed flags win over the file.
func Apply(v *viper.Viper, cfg *models.Config) error {
	for key, value := range settings(cfg) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return errors.Wrap(err, "could not apply configuration overrides")
	}
	return Validate(cfg)
}

// Validate rejects configurations the engine cannot run with
func Validate(cfg *models.Config) error {
	switch {
	case cfg.BatchSize < 1 || cfg.BatchSize > 100:
		return errors.Errorf("batch size must be between 1 and 100, got %d", cfg.BatchSize)
	case cfg.CheckpointEvery < 1:
		return errors.Errorf("checkpoint interval must be positive, got %d", cfg.CheckpointEvery)
	case cfg.MinFindingFields < 1:
		return errors.Errorf("minimum finding field count must be positive, got %d", cfg.MinFindingFields)
	case cfg.RequestInterval < 0 || cfg.FailureBackoff < 0:
		return errors.New("delays must not be negative")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	switch cfg.Store {
	case "file", "sqlite", "none":
	default:
		return errors.Errorf("unknown store %q (file, sqlite, none)", cfg.Store)
	}

	if cfg.FailOn != "" {
		if _, ok := models.ParseSeverity(cfg.FailOn); !ok {
			return errors.Errorf("unknown severity %q", cfg.FailOn)
		}
	}
	return nil
}

func settings(cfg *models.Config) map[string]any {
	return map[string]any{
		"format":             cfg.OutputFormat,
		"output":             cfg.OutputFile,
		"fail-on":            cfg.FailOn,
		"feed-url":           cfg.FeedURL,
		"batch-size":         cfg.BatchSize,
		"min-finding-fields": cfg.MinFindingFields,
		"request-interval":   cfg.RequestInterval,
		"failure-backoff":    cfg.FailureBackoff,
		"timeout":            cfg.Timeout,
		"checkpoint-every":   cfg.CheckpointEvery,
		"store":              cfg.Store,
		"store-path":         cfg.StorePath,
		"cache-size":         cfg.CacheSize,
		"cache-ttl":          cfg.CacheTTL,
		"disk-cache":         cfg.DiskCache,
		"kev":                cfg.KEV,
		"kev-url":            cfg.KEVURL,
	}
}
