// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML file.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// SHEETS_CONFIG, environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/archive"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/runlock"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrNoSpreadsheets is returned by Validate when no status has a
// spreadsheet id.
var ErrNoSpreadsheets = errors.New("no spreadsheet ids configured")

// Config is the full service configuration.
type Config struct {
	Port     string
	LogLevel string
	APIKey   string

	CredentialsFile string
	CredentialsJSON string

	Sync syncer.Options

	ArchiveDir      string
	ArchiveBucket   string
	ArchiveMaxAge   time.Duration
	CleanupSchedule string

	RedisAddress  string
	RedisPassword string
	RedisLockKey  string
	RedisLockTTL  time.Duration

	BigQueryProject string
	BigQueryDataset string
}

// fileConfig is the YAML layout.
type fileConfig struct {
	Spreadsheets map[string]string `yaml:"spreadsheets"`
	Pacing       struct {
		BatchSize     int           `yaml:"batch_size"`
		BatchPause    time.Duration `yaml:"batch_pause"`
		BranchPause   time.Duration `yaml:"branch_pause"`
		RetryBackoff  time.Duration `yaml:"retry_backoff"`
		CallTimeout   time.Duration `yaml:"call_timeout"`
		RatePerMinute int           `yaml:"rate_per_minute"`
		CacheTTL      time.Duration `yaml:"cache_ttl"`
	} `yaml:"pacing"`
	Archive struct {
		Dir    string        `yaml:"dir"`
		Bucket string        `yaml:"bucket"`
		MaxAge time.Duration `yaml:"max_age"`
	} `yaml:"archive"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:            "8080",
		LogLevel:        "info",
		Sync:            syncer.DefaultOptions(),
		ArchiveDir:      archive.DefaultDir,
		ArchiveMaxAge:   time.Hour,
		CleanupSchedule: "@every 15m",
		RedisLockKey:    runlock.DefaultKey,
		RedisLockTTL:    2 * time.Minute,
	}
}

// Load reads .env (when present), the SHEETS_CONFIG file (when set) and the
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv without touching .env files.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path := getenv("SHEETS_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	e := envReader{getenv: getenv}

	e.str(&cfg.Port, "PORT")
	e.str(&cfg.LogLevel, "LOG_LEVEL")
	e.str(&cfg.APIKey, "API_KEY")

	e.str(&cfg.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	e.str(&cfg.CredentialsFile, "SHEETS_CREDENTIALS_FILE")
	e.str(&cfg.CredentialsJSON, "SHEETS_CREDENTIALS_JSON")

	for _, st := range records.Statuses {
		if id := strings.TrimSpace(getenv(SpreadsheetEnvKey(st))); id != "" {
			cfg.Sync.SpreadsheetIDs[st] = id
		}
	}

	e.integer(&cfg.Sync.BatchSize, "SYNC_BATCH_SIZE")
	e.duration(&cfg.Sync.BatchPause, "SYNC_BATCH_PAUSE")
	e.duration(&cfg.Sync.BranchPause, "SYNC_BRANCH_PAUSE")
	e.duration(&cfg.Sync.RetryBackoff, "SYNC_RETRY_BACKOFF")
	e.duration(&cfg.Sync.CacheTTL, "SYNC_CACHE_TTL")
	e.duration(&cfg.Sync.CallTimeout, "SYNC_CALL_TIMEOUT")
	e.integer(&cfg.Sync.RatePerMinute, "SYNC_RATE_PER_MINUTE")

	e.str(&cfg.ArchiveDir, "ARCHIVE_DIR")
	e.str(&cfg.ArchiveBucket, "ARCHIVE_BUCKET")
	e.duration(&cfg.ArchiveMaxAge, "ARCHIVE_MAX_AGE")
	e.str(&cfg.CleanupSchedule, "CLEANUP_SCHEDULE")

	e.str(&cfg.RedisAddress, "REDIS_ADDRESS")
	e.str(&cfg.RedisPassword, "REDIS_PASSWORD")
	e.str(&cfg.RedisLockKey, "REDIS_LOCK_KEY")
	e.duration(&cfg.RedisLockTTL, "REDIS_LOCK_TTL")

	e.str(&cfg.BigQueryProject, "BIGQUERY_PROJECT")
	e.str(&cfg.BigQueryDataset, "BIGQUERY_DATASET")

	if e.err != nil {
		return nil, fmt.Errorf("FromEnv: %w", e.err)
	}
	return cfg, nil
}

// SpreadsheetEnvKey is the variable holding a status's spreadsheet id,
// e.g. SHEET_ID_SUCCESS.
func SpreadsheetEnvKey(st records.Status) string {
	return "SHEET_ID_" + strings.ToUpper(string(st))
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for name, id := range fc.Spreadsheets {
		st, ok := records.ParseStatus(name)
		if !ok {
			return fmt.Errorf("%s: unknown status %q", path, name)
		}
		if id = strings.TrimSpace(id); id != "" {
			c.Sync.SpreadsheetIDs[st] = id
		}
	}

	p := fc.Pacing
	setInt(&c.Sync.BatchSize, p.BatchSize)
	setDuration(&c.Sync.BatchPause, p.BatchPause)
	setDuration(&c.Sync.BranchPause, p.BranchPause)
	setDuration(&c.Sync.RetryBackoff, p.RetryBackoff)
	setDuration(&c.Sync.CallTimeout, p.CallTimeout)
	setInt(&c.Sync.RatePerMinute, p.RatePerMinute)
	setDuration(&c.Sync.CacheTTL, p.CacheTTL)

	if fc.Archive.Dir != "" {
		c.ArchiveDir = fc.Archive.Dir
	}
	if fc.Archive.Bucket != "" {
		c.ArchiveBucket = fc.Archive.Bucket
	}
	setDuration(&c.ArchiveMaxAge, fc.Archive.MaxAge)
	return nil
}

// Validate reports configuration that cannot run a sync.
func (c *Config) Validate() error {
	if len(c.Sync.SpreadsheetIDs) == 0 {
		return ErrNoSpreadsheets
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", c.Sync.BatchSize)
	}
	if (c.BigQueryProject == "") != (c.BigQueryDataset == "") {
		return errors.New("BIGQUERY_PROJECT and BIGQUERY_DATASET must be set together")
	}
	return nil
}

// Credentials returns the service account JSON, reading CredentialsFile
// when no inline JSON is set. Both empty means application default
// credentials.
func (c *Config) Credentials() ([]byte, error) {
	if c.CredentialsJSON != "" {
		return []byte(c.CredentialsJSON), nil
	}
	if c.CredentialsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("Credentials: %w", err)
	}
	return data, nil
}

// envReader collects the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(dst *string, key string) {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		*dst = v
	}
}

func (e *envReader) integer(dst *int, key string) {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(dst *time.Duration, key string) {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
