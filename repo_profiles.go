package session

import (
	"context"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles is the profile store: one row per user identity, selectable by
// id or username, inserted at most once.
type Profiles interface {
	repository.Repository[*Profile]

	GetByUsername(ctx context.Context, username string, criteria ...repository.SelectCriteria) (*Profile, error)
	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string, criteria ...repository.SelectCriteria) (*Profile, error)
	Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db *bun.DB
}

var _ Profiles = (*profiles)(nil)
var _ ProfileStore = (*profiles)(nil)

// NewProfilesRepository builds the bun-backed Profiles repository.
func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
	}
}

func (a *profiles) GetByUsername(ctx context.Context, username string, criteria ...repository.SelectCriteria) (*Profile, error) {
	return a.GetByUsernameTx(ctx, a.db, username, criteria...)
}

func (a *profiles) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string, criteria ...repository.SelectCriteria) (*Profile, error) {
	username = strings.TrimSpace(username)

	record := &Profile{}
	q := tx.NewSelect().Model(record)

	for _, c := range criteria {
		q.Apply(c)
	}

	err := q.
		Where("?TableAlias.username = ?", username).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"username": username,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *profiles) Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *profiles) CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	prepareProfileDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func prepareProfileDefaults(record *Profile) {
	if record == nil {
		return
	}
	if record.UseCase == "" {
		record.UseCase = UseCasePersonal
	}
	if record.CreatedAt == nil {
		record.CreatedAt = nowPtr()
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = nowPtr()
	}
}
