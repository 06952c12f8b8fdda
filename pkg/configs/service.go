package configs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shepherd-cms/shepherd/pkg/webhook"
)

// Default change notes applied when the caller omits them.
const (
	notesCreated = "Initial configuration creation"
	notesUpdated = "Configuration updated"
)

// Metric outcome labels.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Notifier receives an event for every committed write. Dispatch must
// not block; delivery outcomes are never surfaced back to the writer.
type Notifier interface {
	Dispatch(event webhook.Event)
}

// MetricsSink counts operations. Implementations must never fail the
// enclosing operation.
type MetricsSink interface {
	RecordOperation(kind, outcome string)
}

// Service implements the public versioning operations: each is a single
// Store transaction plus validation, followed by webhook and metrics
// fan-out that cannot fail the write.
type Service struct {
	store    Store
	notifier Notifier
	sink     MetricsSink
	logger   *slog.Logger
}

// NewService wires a Service. notifier and sink may be nil; logger
// defaults to slog.Default().
func NewService(store Store, notifier Notifier, sink MetricsSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		sink:     sink,
		logger:   logger,
	}
}

// Create stores version 1 of a new configuration.
func (s *Service) Create(ctx context.Context, cfg NewConfig) (*ConfigurationVersion, error) {
	if err := validateNew(cfg); err != nil {
		s.record("create", outcomeError)
		return nil, err
	}
	if cfg.ChangeNotes == "" {
		cfg.ChangeNotes = notesCreated
	}

	created, err := s.store.InsertInitial(ctx, cfg)
	if err != nil {
		s.record("create", outcomeError)
		return nil, err
	}

	s.record("create", outcomeSuccess)
	s.notify(webhook.EventCreated, created, nil)
	s.logger.Info("created configuration",
		"config_id", created.ConfigID, "version", created.Version)
	return created, nil
}

// Update appends a new version with caller-supplied settings.
func (s *Service) Update(ctx context.Context, configID string, settings json.RawMessage, actor, notes string) (*ConfigurationVersion, error) {
	if !isJSONObject(settings) {
		s.record("update", outcomeError)
		return nil, fmt.Errorf("%w: settings must be a JSON object", ErrValidation)
	}
	if notes == "" {
		notes = notesUpdated
	}

	updated, err := s.append(ctx, configID, settings, actor, notes)
	if err != nil {
		s.record("update", outcomeError)
		return nil, err
	}

	s.record("update", outcomeSuccess)
	previous := updated.Version - 1
	s.notify(webhook.EventUpdated, updated, &previous)
	s.logger.Info("updated configuration",
		"config_id", updated.ConfigID, "version", updated.Version)
	return updated, nil
}

// Rollback appends a new version whose settings are copied from the
// target historical version. Rolling back to the current version is
// permitted and simply re-notes the current settings as a new version.
func (s *Service) Rollback(ctx context.Context, configID string, targetVersion int, actor, notes string) (*ConfigurationVersion, error) {
	target, err := s.store.GetVersion(ctx, configID, targetVersion)
	if err != nil {
		s.record("rollback", outcomeError)
		return nil, err
	}
	if notes == "" {
		notes = fmt.Sprintf("Rolled back to version %d", targetVersion)
	}

	rolled, err := s.append(ctx, configID, target.Settings, actor, notes)
	if err != nil {
		s.record("rollback", outcomeError)
		return nil, err
	}

	s.record("rollback", outcomeSuccess)
	s.notify(webhook.EventRolledBack, rolled, &targetVersion)
	s.logger.Info("rolled back configuration",
		"config_id", rolled.ConfigID, "target_version", targetVersion, "version", rolled.Version)
	return rolled, nil
}

// GetLatest returns the current latest version of a configuration.
func (s *Service) GetLatest(ctx context.Context, configID string) (*ConfigurationVersion, error) {
	return s.store.GetLatest(ctx, configID)
}

// GetVersion returns one specific version of a configuration.
func (s *Service) GetVersion(ctx context.Context, configID string, version int) (*ConfigurationVersion, error) {
	return s.store.GetVersion(ctx, configID, version)
}

// History returns every version of a configuration, newest first.
func (s *Service) History(ctx context.Context, configID string) ([]ConfigurationVersion, error) {
	return s.store.History(ctx, configID)
}

// Query returns the latest version of every configuration matching the
// filter, ordered by config_id.
func (s *Service) Query(ctx context.Context, filter Filter) ([]ConfigurationVersion, error) {
	return s.store.QueryLatest(ctx, filter)
}

// Delete removes every version of a configuration and returns the count.
func (s *Service) Delete(ctx context.Context, configID string) (int64, error) {
	count, err := s.store.DeleteAll(ctx, configID)
	if err != nil {
		s.record("delete", outcomeError)
		return 0, err
	}
	s.record("delete", outcomeSuccess)
	s.logger.Info("deleted configuration", "config_id", configID, "versions", count)
	return count, nil
}

// append performs one AppendVersion with a single automatic retry on a
// version race. The race self-heals under concurrent load: the loser
// re-reads the new latest and claims the next number.
func (s *Service) append(ctx context.Context, configID string, settings json.RawMessage, actor, notes string) (*ConfigurationVersion, error) {
	v, err := s.store.AppendVersion(ctx, configID, settings, actor, notes)
	if errors.Is(err, ErrVersionConflict) {
		s.logger.Warn("version conflict, retrying append", "config_id", configID)
		v, err = s.store.AppendVersion(ctx, configID, settings, actor, notes)
	}
	return v, err
}

func (s *Service) notify(eventType string, v *ConfigurationVersion, previousVersion *int) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(webhook.NewEvent(eventType, webhook.EventConfig{
		ConfigID:        v.ConfigID,
		Version:         v.Version,
		PreviousVersion: previousVersion,
		AppName:         v.AppName,
		Environment:     v.Environment,
		UpdatedBy:       v.UpdatedBy,
		ChangeNotes:     v.ChangeNotes,
		Settings:        v.Settings,
	}))
}

func (s *Service) record(kind, outcome string) {
	if s.sink != nil {
		s.sink.RecordOperation(kind, outcome)
	}
}

func validateNew(cfg NewConfig) error {
	switch {
	case cfg.ConfigID == "":
		return fmt.Errorf("%w: config_id is required", ErrValidation)
	case cfg.AppName == "":
		return fmt.Errorf("%w: app_name is required", ErrValidation)
	case cfg.Environment == "":
		return fmt.Errorf("%w: environment is required", ErrValidation)
	case !isJSONObject(cfg.Settings):
		return fmt.Errorf("%w: settings must be a JSON object", ErrValidation)
	}
	return nil
}

// isJSONObject reports whether raw is a valid JSON object. Arrays,
// scalars and null are rejected.
func isJSONObject(raw json.RawMessage) bool {
	if !json.Valid(raw) {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
