package models

import "time"

// Config holds configuration for an analysis run
type Config struct {
	// Output settings
	OutputFormat string `toml:"output_format" mapstructure:"format"` // "terminal", "json", "sarif", "csv"
	OutputFile   string `toml:"output_file" mapstructure:"output"`
	FailOn       string `toml:"fail_on" mapstructure:"fail-on"` // lowest severity that yields a non-zero exit

	// Feed settings
	FeedURL          string        `toml:"feed_url" mapstructure:"feed-url"`
	BatchSize        int           `toml:"batch_size" mapstructure:"batch-size"`
	MinFindingFields int           `toml:"min_finding_fields" mapstructure:"min-finding-fields"`
	RequestInterval  time.Duration `toml:"request_interval" mapstructure:"request-interval"`
	FailureBackoff   time.Duration `toml:"failure_backoff" mapstructure:"failure-backoff"`
	Timeout          time.Duration `toml:"timeout" mapstructure:"timeout"`

	// Aggregation settings
	CheckpointEvery int    `toml:"checkpoint_every" mapstructure:"checkpoint-every"`
	Store           string `toml:"store" mapstructure:"store"` // "file", "sqlite", "none"
	StorePath       string `toml:"store_path" mapstructure:"store-path"`

	// Cache settings
	CacheSize int           `toml:"cache_size" mapstructure:"cache-size"`
	CacheTTL  time.Duration `toml:"cache_ttl" mapstructure:"cache-ttl"`
	DiskCache bool          `toml:"disk_cache" mapstructure:"disk-cache"`

	// Enrichment settings
	KEV    bool   `toml:"kev" mapstructure:"kev"` // flag findings listed in the CISA KEV catalog
	KEVURL string `toml:"kev_url" mapstructure:"kev-url"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputFormat:     "terminal",
		FailOn:           "",
		FeedURL:          "https://api.osv.dev",
		BatchSize:        100,
		MinFindingFields: 4,
		RequestInterval:  200 * time.Millisecond,
		FailureBackoff:   5 * time.Second,
		Timeout:          60 * time.Second,
		CheckpointEvery:  25,
		Store:            "file",
		StorePath:        ".sbomgraph",
		CacheSize:        4096,
		CacheTTL:         24 * time.Hour,
		DiskCache:        false,
		KEV:              false,
		KEVURL:           "https://raw.githubusercontent.com/cisagov/kev-data/main/known_exploited_vulnerabilities.json",
	}
}
