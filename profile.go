package session

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// ProfileService reads and lazily creates profiles. Every degraded outcome
// maps to "profile absent": a missing profile never blocks an authenticated
// user and never surfaces to the UI.
type ProfileService struct {
	store  ProfileStore
	logger Logger
}

var _ ProfileFetcher = (*ProfileService)(nil)

// NewProfileService wraps a profile store.
func NewProfileService(store ProfileStore) *ProfileService {
	return &ProfileService{
		store:  store,
		logger: defLogger{},
	}
}

func (s *ProfileService) WithLogger(logger Logger) *ProfileService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Fetch returns the profile for userID, (nil, nil) when no row exists, and
// a ProfileLookupFailed error for any other failure. Callers log and treat
// the error as absence.
func (s *ProfileService) Fetch(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	record, err := s.store.GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, goWrapProfileLookup(err)
	}
	return record, nil
}

// FindByUsername resolves a username to its profile, returning (nil, nil)
// when no profile carries it. Used by sign-in to map usernames to emails.
func (s *ProfileService) FindByUsername(ctx context.Context, username string) (*Profile, error) {
	record, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, goWrapProfileLookup(err)
	}
	return record, nil
}

// Ensure guarantees at most one profile row for the identity: it returns
// the existing row when present and inserts ProfileFromIdentity otherwise.
// Insert failures are logged and swallowed; the identity is already
// authenticated and profile completeness is a soft requirement.
func (s *ProfileService) Ensure(ctx context.Context, user *UserIdentity) *Profile {
	if user == nil {
		return nil
	}

	existing, err := s.Fetch(ctx, user.ID)
	if err != nil {
		s.logger.Error("profile lookup before create: %v", err)
	}
	if existing != nil {
		return existing
	}

	record := ProfileFromIdentity(user, true)
	created, err := s.store.Create(ctx, record)
	if err != nil {
		// A concurrent callback may have won the insert; read it back.
		if again, ferr := s.Fetch(ctx, user.ID); ferr == nil && again != nil {
			return again
		}
		s.logger.Error("profile create for %s swallowed: %v", user.ID, err)
		return nil
	}

	return created
}

// CreateFromRegistration performs the one-time insert right after sign-up.
// The record carries email_verified=false; failure is reported to the
// caller for logging but registration still succeeds.
func (s *ProfileService) CreateFromRegistration(ctx context.Context, user *UserIdentity, payload RegisterPayload) (*Profile, error) {
	record := &Profile{
		ID:            user.ID,
		Email:         user.Email,
		FullName:      payload.FullName,
		Username:      payload.Username,
		UseCase:       payload.UseCase,
		EmailVerified: false,
	}
	if payload.UseCase == UseCaseCompany {
		record.CompanyName = payload.CompanyName
		record.Role = payload.Role
	}

	return s.store.Create(ctx, record)
}

func goWrapProfileLookup(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "profile lookup failed").
		WithTextCode(textCodeProfileLookup)
}
