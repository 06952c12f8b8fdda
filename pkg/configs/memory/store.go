// Package memory provides an in-memory configs.Store for tests and
// local runs without a database. It honors the same contract as the
// PostgreSQL store: insert-only writes and a unique (config_id,
// version) pair enforced under the store mutex.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shepherd-cms/shepherd/pkg/configs"
)

// Store implements configs.Store backed by a mutex-guarded map.
type Store struct {
	mu     sync.Mutex
	nextID int64
	byID   map[string][]configs.ConfigurationVersion
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{byID: make(map[string][]configs.ConfigurationVersion)}
}

// InsertInitial writes version 1 of a new configuration.
func (s *Store) InsertInitial(_ context.Context, cfg configs.NewConfig) (*configs.ConfigurationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byID[cfg.ConfigID]) > 0 {
		return nil, fmt.Errorf("config %q: %w", cfg.ConfigID, configs.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	s.nextID++
	v := configs.ConfigurationVersion{
		SurrogateID: strconv.FormatInt(s.nextID, 10),
		ConfigID:    cfg.ConfigID,
		Version:     1,
		AppName:     cfg.AppName,
		Environment: cfg.Environment,
		Settings:    slices.Clone(cfg.Settings),
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   cfg.UpdatedBy,
		ChangeNotes: cfg.ChangeNotes,
	}
	s.byID[cfg.ConfigID] = append(s.byID[cfg.ConfigID], v)
	return &v, nil
}

// AppendVersion writes the next version of an existing configuration.
func (s *Store) AppendVersion(_ context.Context, configID string, settings json.RawMessage, actor, notes string) (*configs.ConfigurationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byID[configID]
	if len(history) == 0 {
		return nil, fmt.Errorf("config %q: %w", configID, configs.ErrNotFound)
	}

	latest := history[len(history)-1]
	s.nextID++
	v := configs.ConfigurationVersion{
		SurrogateID: strconv.FormatInt(s.nextID, 10),
		ConfigID:    configID,
		Version:     latest.Version + 1,
		AppName:     latest.AppName,
		Environment: latest.Environment,
		Settings:    slices.Clone(settings),
		CreatedAt:   latest.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
		UpdatedBy:   actor,
		ChangeNotes: notes,
	}
	s.byID[configID] = append(s.byID[configID], v)
	return &v, nil
}

// GetLatest returns the highest-numbered version of a configuration.
func (s *Store) GetLatest(_ context.Context, configID string) (*configs.ConfigurationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byID[configID]
	if len(history) == 0 {
		return nil, fmt.Errorf("config %q: %w", configID, configs.ErrNotFound)
	}
	v := history[len(history)-1]
	return &v, nil
}

// GetVersion returns one specific version of a configuration.
func (s *Store) GetVersion(_ context.Context, configID string, version int) (*configs.ConfigurationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.byID[configID] {
		if v.Version == version {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("config %q version %d: %w", configID, version, configs.ErrNotFound)
}

// History returns every version of a configuration, newest first.
func (s *Store) History(_ context.Context, configID string) ([]configs.ConfigurationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byID[configID]
	out := make([]configs.ConfigurationVersion, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// QueryLatest returns the latest version of every configuration
// matching the filter, ordered by config_id.
func (s *Store) QueryLatest(_ context.Context, filter configs.Filter) ([]configs.ConfigurationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []configs.ConfigurationVersion
	for _, history := range s.byID {
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		if filter.AppName != "" && latest.AppName != filter.AppName {
			continue
		}
		if filter.Environment != "" && latest.Environment != filter.Environment {
			continue
		}
		out = append(out, latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigID < out[j].ConfigID })
	return out, nil
}

// DeleteAll removes every version of a configuration.
func (s *Store) DeleteAll(_ context.Context, configID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := int64(len(s.byID[configID]))
	delete(s.byID, configID)
	return count, nil
}

// Stats aggregates store contents for gauge refreshes.
func (s *Store) Stats(_ context.Context) (*configs.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &configs.UsageStats{}
	appEnv := make(map[[2]string]int)
	for configID, history := range s.byID {
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		stats.Configs = append(stats.Configs, configs.ConfigUsage{
			ConfigID:      configID,
			Versions:      len(history),
			LatestVersion: latest.Version,
		})
		appEnv[[2]string{latest.AppName, latest.Environment}]++
	}
	sort.Slice(stats.Configs, func(i, j int) bool {
		return stats.Configs[i].ConfigID < stats.Configs[j].ConfigID
	})
	for key, count := range appEnv {
		stats.AppEnvCounts = append(stats.AppEnvCounts, configs.AppEnvCount{
			AppName:     key[0],
			Environment: key[1],
			Count:       count,
		})
	}
	return stats, nil
}

// Verify interface compliance.
var _ configs.Store = (*Store)(nil)
