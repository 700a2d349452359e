package fswatch

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/fswatch/internal/correlate"
	"github.com/tonimelisma/fswatch/internal/store"
)

// MoveDetectorConfig configures the Move-Detection Correlator.
type MoveDetectorConfig struct {
	Timeout                time.Duration `toml:"timeout"`
	ConfidenceThreshold    float64       `toml:"confidence_threshold"`
	WeightSize             float64       `toml:"weight_size"`
	WeightTime             float64       `toml:"weight_time"`
	WeightInode            float64       `toml:"weight_inode"`
	WeightHash             float64       `toml:"weight_hash"`
	WeightName             float64       `toml:"weight_name"`
	MaxPendingEvents       int           `toml:"max_pending_events"`
	ContentHashMaxFileSize int64         `toml:"content_hash_max_file_size"`
}

// StoreConfig configures the Multi-Watch Store.
type StoreConfig struct {
	DatabasePath                string        `toml:"database_path"`
	Retention                   time.Duration `toml:"retention"`
	RetentionInterval           time.Duration `toml:"retention_interval"`
	OverlapOptimisationInterval time.Duration `toml:"overlap_optimisation_interval"`
}

// WatcherConfig is the top-level configuration consumed at construction.
type WatcherConfig struct {
	Path         string             `toml:"path"`
	Recursive    bool               `toml:"recursive"`
	MoveDetector MoveDetectorConfig `toml:"move_detector"`
	Store        StoreConfig        `toml:"store"`
}

// DefaultConfig returns a WatcherConfig with every section at its
// recommended default, Path left empty for the caller to fill in.
func DefaultConfig() WatcherConfig {
	dc := correlate.DefaultConfig()
	rc := store.DefaultRetentionConfig()

	return WatcherConfig{
		Recursive: true,
		MoveDetector: MoveDetectorConfig{
			Timeout:                dc.Timeout,
			ConfidenceThreshold:    dc.ConfidenceThreshold,
			WeightSize:             dc.WeightSize,
			WeightTime:             dc.WeightTime,
			WeightInode:            dc.WeightInode,
			WeightHash:             dc.WeightHash,
			WeightName:             dc.WeightName,
			MaxPendingEvents:       dc.MaxPendingEvents,
			ContentHashMaxFileSize: dc.ContentHashMaxFileSize,
		},
		Store: StoreConfig{
			DatabasePath:                "fswatch.db",
			Retention:                   rc.MaxAge,
			RetentionInterval:           rc.Interval,
			OverlapOptimisationInterval: time.Minute,
		},
	}
}

// tomlConfig mirrors WatcherConfig but spells duration fields as strings
// ("250ms", "24h"), the shape BurntSushi/toml can decode directly; this
// codebase's config ancestor uses the same string-then-parse idiom for
// every duration-valued setting rather than relying on TOML-native
// duration support.
type tomlConfig struct {
	Path         string `toml:"path"`
	Recursive    bool   `toml:"recursive"`
	MoveDetector struct {
		Timeout                string  `toml:"timeout"`
		ConfidenceThreshold    float64 `toml:"confidence_threshold"`
		WeightSize             float64 `toml:"weight_size"`
		WeightTime             float64 `toml:"weight_time"`
		WeightInode            float64 `toml:"weight_inode"`
		WeightHash             float64 `toml:"weight_hash"`
		WeightName             float64 `toml:"weight_name"`
		MaxPendingEvents       int     `toml:"max_pending_events"`
		ContentHashMaxFileSize int64   `toml:"content_hash_max_file_size"`
	} `toml:"move_detector"`
	Store struct {
		DatabasePath                string `toml:"database_path"`
		Retention                   string `toml:"retention"`
		RetentionInterval           string `toml:"retention_interval"`
		OverlapOptimisationInterval string `toml:"overlap_optimisation_interval"`
	} `toml:"store"`
}

// LoadConfig reads an optional TOML file at path and layers it over
// DefaultConfig(); a missing file is not an error — callers that want a
// required file check os.Stat themselves first.
func LoadConfig(path string) (WatcherConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return WatcherConfig{}, fmt.Errorf("fswatch: reading config file %s: %w", path, err)
	}

	var raw tomlConfig
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return WatcherConfig{}, fmt.Errorf("fswatch: parsing config file %s: %w", path, err)
	}

	if md.IsDefined("path") {
		cfg.Path = raw.Path
	}
	if md.IsDefined("recursive") {
		cfg.Recursive = raw.Recursive
	}

	if err := applyDuration(md, "move_detector", "timeout", raw.MoveDetector.Timeout, &cfg.MoveDetector.Timeout); err != nil {
		return WatcherConfig{}, err
	}
	if md.IsDefined("move_detector", "confidence_threshold") {
		cfg.MoveDetector.ConfidenceThreshold = raw.MoveDetector.ConfidenceThreshold
	}
	if md.IsDefined("move_detector", "weight_size") {
		cfg.MoveDetector.WeightSize = raw.MoveDetector.WeightSize
	}
	if md.IsDefined("move_detector", "weight_time") {
		cfg.MoveDetector.WeightTime = raw.MoveDetector.WeightTime
	}
	if md.IsDefined("move_detector", "weight_inode") {
		cfg.MoveDetector.WeightInode = raw.MoveDetector.WeightInode
	}
	if md.IsDefined("move_detector", "weight_hash") {
		cfg.MoveDetector.WeightHash = raw.MoveDetector.WeightHash
	}
	if md.IsDefined("move_detector", "weight_name") {
		cfg.MoveDetector.WeightName = raw.MoveDetector.WeightName
	}
	if md.IsDefined("move_detector", "max_pending_events") {
		cfg.MoveDetector.MaxPendingEvents = raw.MoveDetector.MaxPendingEvents
	}
	if md.IsDefined("move_detector", "content_hash_max_file_size") {
		cfg.MoveDetector.ContentHashMaxFileSize = raw.MoveDetector.ContentHashMaxFileSize
	}

	if md.IsDefined("store", "database_path") {
		cfg.Store.DatabasePath = raw.Store.DatabasePath
	}
	if err := applyDuration(md, "store", "retention", raw.Store.Retention, &cfg.Store.Retention); err != nil {
		return WatcherConfig{}, err
	}
	if err := applyDuration(md, "store", "retention_interval", raw.Store.RetentionInterval, &cfg.Store.RetentionInterval); err != nil {
		return WatcherConfig{}, err
	}
	if err := applyDuration(md, "store", "overlap_optimisation_interval", raw.Store.OverlapOptimisationInterval, &cfg.Store.OverlapOptimisationInterval); err != nil {
		return WatcherConfig{}, err
	}

	return cfg, nil
}

func applyDuration(md toml.MetaData, section, key, raw string, out *time.Duration) error {
	if !md.IsDefined(section, key) {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("fswatch: parsing %s.%s %q: %w", section, key, raw, err)
	}
	*out = d
	return nil
}

// Validate checks every configuration value, accumulating all errors found
// rather than stopping at the first so a caller can fix everything in one
// pass.
func (c WatcherConfig) Validate() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.New("path must not be empty"))
	}

	md := c.toCorrelateConfig()
	if err := md.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Store.DatabasePath == "" {
		errs = append(errs, errors.New("store.database_path must not be empty"))
	}
	if c.Store.Retention <= 0 {
		errs = append(errs, errors.New("store.retention must be positive"))
	}
	if c.Store.RetentionInterval <= 0 {
		errs = append(errs, errors.New("store.retention_interval must be positive"))
	}
	if c.Store.OverlapOptimisationInterval <= 0 {
		errs = append(errs, errors.New("store.overlap_optimisation_interval must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return wrapError("validate config", ErrConfiguration, errors.Join(errs...))
}

func (c WatcherConfig) toCorrelateConfig() correlate.Config {
	return correlate.Config{
		Timeout:                c.MoveDetector.Timeout,
		ConfidenceThreshold:    c.MoveDetector.ConfidenceThreshold,
		WeightSize:             c.MoveDetector.WeightSize,
		WeightTime:             c.MoveDetector.WeightTime,
		WeightInode:            c.MoveDetector.WeightInode,
		WeightHash:             c.MoveDetector.WeightHash,
		WeightName:             c.MoveDetector.WeightName,
		MaxPendingEvents:       c.MoveDetector.MaxPendingEvents,
		ContentHashMaxFileSize: c.MoveDetector.ContentHashMaxFileSize,
		IsWindows:              isWindows(),
	}
}
