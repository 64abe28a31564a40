package session

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// Settings is the client-local key-value store. Values are opaque strings;
// a missing key reads back as empty with no error.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type settings struct {
	db *bun.DB
}

var _ Settings = (*settings)(nil)

// NewSettingsRepository builds the bun-backed Settings store.
func NewSettingsRepository(db *bun.DB) Settings {
	return &settings{db: db}
}

func (a *settings) Get(ctx context.Context, key string) (string, error) {
	record := &Setting{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", key).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}

	return record.Value, nil
}

func (a *settings) Set(ctx context.Context, key, value string) error {
	record := &Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: nowPtr(),
	}

	_, err := a.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}
