// Package postgres provides PostgreSQL storage for configuration
// versions. The UNIQUE (config_id, version) index declared in the
// migrations is the sole serialization point for concurrent writers:
// both entry points are insert-only, so a lost race always surfaces as
// a unique violation instead of a silent overwrite.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/shepherd-cms/shepherd/pkg/configs"
)

// uniqueViolation is the PostgreSQL error code for a violated unique
// constraint.
const uniqueViolation = "23505"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// versionColumns lists columns returned by version SELECT queries.
var versionColumns = []string{
	"id", "config_id", "version", "app_name", "environment",
	"settings", "created_at", "updated_at", "updated_by", "change_notes",
}

const insertVersionSQL = `
	INSERT INTO config_versions
	(config_id, version, app_name, environment, settings, created_at, updated_at, updated_by, change_notes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id
`

// Store implements configs.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL version store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertInitial writes version 1 of a new configuration. Any prior
// version of the config_id makes the insert collide on (config_id, 1),
// so a concurrent duplicate create loses cleanly with ErrAlreadyExists.
func (s *Store) InsertInitial(ctx context.Context, cfg configs.NewConfig) (*configs.ConfigurationVersion, error) {
	now := time.Now().UTC()
	v := &configs.ConfigurationVersion{
		ConfigID:    cfg.ConfigID,
		Version:     1,
		AppName:     cfg.AppName,
		Environment: cfg.Environment,
		Settings:    cfg.Settings,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   cfg.UpdatedBy,
		ChangeNotes: cfg.ChangeNotes,
	}

	id, err := s.insertVersion(ctx, v)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("config %q: %w", cfg.ConfigID, configs.ErrAlreadyExists)
		}
		return nil, infraErr("inserting initial version", err)
	}

	v.SurrogateID = id
	return v, nil
}

// AppendVersion writes the next version of an existing configuration,
// copying app_name, environment and created_at from the latest row it
// read. Two racing appenders both compute the same next number; the
// unique index lets one through and the loser gets ErrVersionConflict.
func (s *Store) AppendVersion(ctx context.Context, configID string, settings json.RawMessage, actor, notes string) (*configs.ConfigurationVersion, error) {
	latest, err := s.GetLatest(ctx, configID)
	if err != nil {
		return nil, err
	}

	v := &configs.ConfigurationVersion{
		ConfigID:    configID,
		Version:     latest.Version + 1,
		AppName:     latest.AppName,
		Environment: latest.Environment,
		Settings:    settings,
		CreatedAt:   latest.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
		UpdatedBy:   actor,
		ChangeNotes: notes,
	}

	id, err := s.insertVersion(ctx, v)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("config %q version %d: %w",
				configID, v.Version, configs.ErrVersionConflict)
		}
		return nil, infraErr("appending version", err)
	}

	v.SurrogateID = id
	return v, nil
}

// GetLatest returns the highest-numbered version of a configuration.
func (s *Store) GetLatest(ctx context.Context, configID string) (*configs.ConfigurationVersion, error) {
	qb := psq.Select(versionColumns...).
		From("config_versions").
		Where(sq.Eq{"config_id": configID}).
		OrderBy("version DESC").
		Limit(1)
	return s.queryOne(ctx, qb, configID)
}

// GetVersion returns one specific version of a configuration.
func (s *Store) GetVersion(ctx context.Context, configID string, version int) (*configs.ConfigurationVersion, error) {
	qb := psq.Select(versionColumns...).
		From("config_versions").
		Where(sq.Eq{"config_id": configID, "version": version})
	return s.queryOne(ctx, qb, configID)
}

// History returns every version of a configuration, newest first.
func (s *Store) History(ctx context.Context, configID string) ([]configs.ConfigurationVersion, error) {
	qb := psq.Select(versionColumns...).
		From("config_versions").
		Where(sq.Eq{"config_id": configID}).
		OrderBy("version DESC")
	return s.queryMany(ctx, qb)
}

// QueryLatest returns the latest version of every configuration
// matching the filter, one row per config_id, ordered by config_id.
func (s *Store) QueryLatest(ctx context.Context, filter configs.Filter) ([]configs.ConfigurationVersion, error) {
	qb := psq.Select(versionColumns...).
		Options("DISTINCT ON (config_id)").
		From("config_versions").
		OrderBy("config_id ASC", "version DESC")
	if filter.AppName != "" {
		qb = qb.Where(sq.Eq{"app_name": filter.AppName})
	}
	if filter.Environment != "" {
		qb = qb.Where(sq.Eq{"environment": filter.Environment})
	}
	return s.queryMany(ctx, qb)
}

// DeleteAll removes every version of a configuration.
func (s *Store) DeleteAll(ctx context.Context, configID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM config_versions WHERE config_id = $1`, configID)
	if err != nil {
		return 0, infraErr("deleting configuration", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, infraErr("counting deleted rows", err)
	}
	return count, nil
}

// Stats aggregates per-config version counts and per-app/environment
// configuration counts for gauge refreshes.
func (s *Store) Stats(ctx context.Context) (*configs.UsageStats, error) {
	stats := &configs.UsageStats{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT config_id, COUNT(*), MAX(version)
		FROM config_versions
		GROUP BY config_id
		ORDER BY config_id`)
	if err != nil {
		return nil, infraErr("querying config usage", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var u configs.ConfigUsage
		if err := rows.Scan(&u.ConfigID, &u.Versions, &u.LatestVersion); err != nil {
			return nil, fmt.Errorf("scanning config usage: %w", err)
		}
		stats.Configs = append(stats.Configs, u)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("iterating config usage", err)
	}

	appEnvRows, err := s.db.QueryContext(ctx, `
		SELECT app_name, environment, COUNT(DISTINCT config_id)
		FROM config_versions
		GROUP BY app_name, environment`)
	if err != nil {
		return nil, infraErr("querying app/env counts", err)
	}
	defer func() { _ = appEnvRows.Close() }()
	for appEnvRows.Next() {
		var c configs.AppEnvCount
		if err := appEnvRows.Scan(&c.AppName, &c.Environment, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning app/env count: %w", err)
		}
		stats.AppEnvCounts = append(stats.AppEnvCounts, c)
	}
	if err := appEnvRows.Err(); err != nil {
		return nil, infraErr("iterating app/env counts", err)
	}

	return stats, nil
}

func (s *Store) insertVersion(ctx context.Context, v *configs.ConfigurationVersion) (string, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, insertVersionSQL,
		v.ConfigID,
		v.Version,
		v.AppName,
		v.Environment,
		[]byte(v.Settings),
		v.CreatedAt,
		v.UpdatedAt,
		nullString(v.UpdatedBy),
		v.ChangeNotes,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) queryOne(ctx context.Context, qb sq.SelectBuilder, configID string) (*configs.ConfigurationVersion, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version query: %w", err)
	}

	v, err := scanVersion(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config %q: %w", configID, configs.ErrNotFound)
	}
	if err != nil {
		return nil, infraErr("querying version", err)
	}
	return v, nil
}

func (s *Store) queryMany(ctx context.Context, qb sq.SelectBuilder) ([]configs.ConfigurationVersion, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building version query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, infraErr("querying versions", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []configs.ConfigurationVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("iterating version rows", err)
	}
	return versions, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (*configs.ConfigurationVersion, error) {
	var (
		v         configs.ConfigurationVersion
		id        int64
		settings  []byte
		updatedBy sql.NullString
	)
	err := row.Scan(
		&id,
		&v.ConfigID,
		&v.Version,
		&v.AppName,
		&v.Environment,
		&settings,
		&v.CreatedAt,
		&v.UpdatedAt,
		&updatedBy,
		&v.ChangeNotes,
	)
	if err != nil {
		return nil, err
	}
	v.SurrogateID = strconv.FormatInt(id, 10)
	v.Settings = json.RawMessage(settings)
	v.UpdatedBy = updatedBy.String
	return &v, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// infraErr marks a driver-level failure as transient so callers can
// tell it apart from domain errors.
func infraErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(configs.ErrUnavailable, err))
}

// Verify interface compliance.
var _ configs.Store = (*Store)(nil)
