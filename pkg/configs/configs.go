// Package configs defines the versioned configuration model and the
// storage contract it is persisted through. A configuration is an
// append-only sequence of immutable versions sharing a config_id;
// "latest" is always the row with the maximum version number.
package configs

import (
	"context"
	"encoding/json"
	"time"
)

// ConfigurationVersion is a single immutable version of a configuration.
// AppName, Environment and CreatedAt are fixed at version 1 and copied
// into every later version of the same config_id.
type ConfigurationVersion struct {
	SurrogateID string          `json:"id"`
	ConfigID    string          `json:"config_id"`
	Version     int             `json:"version"`
	AppName     string          `json:"app_name"`
	Environment string          `json:"environment"`
	Settings    json.RawMessage `json:"settings"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	UpdatedBy   string          `json:"updated_by,omitempty"`
	ChangeNotes string          `json:"change_notes"`
}

// NewConfig holds the caller-supplied fields for creating version 1.
type NewConfig struct {
	ConfigID    string          `json:"config_id"`
	AppName     string          `json:"app_name"`
	Environment string          `json:"environment"`
	Settings    json.RawMessage `json:"settings"`
	UpdatedBy   string          `json:"updated_by,omitempty"`
	ChangeNotes string          `json:"change_notes,omitempty"`
}

// Filter narrows QueryLatest results. Empty fields match everything.
type Filter struct {
	AppName     string
	Environment string
}

// AppEnvCount is the number of distinct configurations for one
// app_name/environment pair.
type AppEnvCount struct {
	AppName     string
	Environment string
	Count       int
}

// ConfigUsage summarizes the version sequence of one configuration.
type ConfigUsage struct {
	ConfigID      string
	Versions      int
	LatestVersion int
}

// UsageStats aggregates store contents for the metrics collector.
type UsageStats struct {
	AppEnvCounts []AppEnvCount
	Configs      []ConfigUsage
}

// Store is the persistence contract for configuration versions. All
// mutation goes through InsertInitial and AppendVersion, both insert-only;
// the unique (config_id, version) constraint is the sole serialization
// point for concurrent writers.
type Store interface {
	// InsertInitial writes version 1 of a new configuration. It returns
	// ErrAlreadyExists when any version of the config_id is already
	// stored, including when a concurrent creator won the race.
	InsertInitial(ctx context.Context, cfg NewConfig) (*ConfigurationVersion, error)

	// AppendVersion writes the next version of an existing configuration,
	// copying app_name, environment and created_at from the current
	// latest. It returns ErrNotFound when no version exists and
	// ErrVersionConflict when a concurrent append claimed the same
	// version number first; the caller may re-read and retry.
	AppendVersion(ctx context.Context, configID string, settings json.RawMessage, actor, notes string) (*ConfigurationVersion, error)

	// GetLatest returns the highest-numbered version of a configuration.
	GetLatest(ctx context.Context, configID string) (*ConfigurationVersion, error)

	// GetVersion returns one specific version of a configuration.
	GetVersion(ctx context.Context, configID string, version int) (*ConfigurationVersion, error)

	// History returns every version of a configuration, newest first.
	History(ctx context.Context, configID string) ([]ConfigurationVersion, error)

	// QueryLatest returns the latest version of every configuration
	// matching the filter, ordered by config_id ascending.
	QueryLatest(ctx context.Context, filter Filter) ([]ConfigurationVersion, error)

	// DeleteAll removes every version of a configuration and returns the
	// number of rows removed.
	DeleteAll(ctx context.Context, configID string) (int64, error)

	// Stats aggregates store contents for gauge refreshes.
	Stats(ctx context.Context) (*UsageStats, error)
}
