package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eyeclinic/internal/model"
)

// MergeFunc derives the next clinic rules from the stored ones and names the
// fields it changed. Returning an error aborts the merge.
type MergeFunc = func(current *model.ClinicConfig) (next *model.ClinicConfig, changed []string, err error)

// LoadConfig reads the stored clinic rules. found is false on a fresh database.
func (db *DB) LoadConfig(ctx context.Context) (cfg *model.ClinicConfig, found bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin load config: %w", err)
	}
	defer tx.Rollback()
	return loadConfig(ctx, tx)
}

// MergeConfig runs fn against the stored rules and writes back only the
// changed fields, bumping the version. Two staff editing different fields
// never overwrite each other.
func (db *DB) MergeConfig(ctx context.Context, fn MergeFunc) (*model.ClinicConfig, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge config: %w", err)
	}
	defer tx.Rollback()

	current, found, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: clinic rules not initialised", model.ErrInvalidConfig)
	}

	next, changed, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return current, nil
	}
	next.Version = current.Version + 1

	if err := writeConfig(ctx, tx, next, changed); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit config: %w", err)
	}
	return next, nil
}

// SaveConfig overwrites every field with cfg and stores cfg.Version. It is
// used to seed a fresh database and to apply a reloaded rules file.
func (db *DB) SaveConfig(ctx context.Context, cfg *model.ClinicConfig) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save config: %w", err)
	}
	defer tx.Rollback()

	if err := writeConfig(ctx, tx, cfg, model.ConfigFields); err != nil {
		return err
	}
	return tx.Commit()
}

func loadConfig(ctx context.Context, tx *sql.Tx) (*model.ClinicConfig, bool, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM clinic_config_meta WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read config version: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT field, value FROM clinic_config`)
	if err != nil {
		return nil, false, fmt.Errorf("read config: %w", err)
	}
	defer rows.Close()

	doc := make(map[string]json.RawMessage, len(model.ConfigFields))
	for rows.Next() {
		var (
			field string
			value []byte
		)
		if err := rows.Scan(&field, &value); err != nil {
			return nil, false, err
		}
		doc[field] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	cfg := &model.ClinicConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, false, fmt.Errorf("decode config: %w", err)
	}
	cfg.Version = version
	return cfg.Clone(), true, nil
}

func writeConfig(ctx context.Context, tx *sql.Tx, cfg *model.ClinicConfig, fields []string) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	now := time.Now()
	for _, field := range fields {
		value, ok := doc[field]
		if !ok {
			return fmt.Errorf("%w: unknown field %q", model.ErrInvalidConfig, field)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO clinic_config (field, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			field, string(value), now); err != nil {
			return fmt.Errorf("write config field %s: %w", field, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO clinic_config_meta (id, version, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		cfg.Version, now); err != nil {
		return fmt.Errorf("write config version: %w", err)
	}
	return nil
}
