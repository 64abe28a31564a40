package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UseCase classifies why an account was created. Company accounts carry two
// extra required fields; the others carry none.
type UseCase = string

const (
	UseCasePersonal UseCase = "personal"
	UseCaseCompany  UseCase = "company"
	UseCaseStudent  UseCase = "student"
)

// ValidUseCase reports whether s is a known use-case category.
func ValidUseCase(s string) bool {
	switch s {
	case UseCasePersonal, UseCaseCompany, UseCaseStudent:
		return true
	}
	return false
}

// Profile is the application-owned record extending a user identity. Keyed
// by the identity id; exactly one row per identity once created.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:pro"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	FullName      string     `bun:"full_name,notnull" json:"full_name,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username,omitempty"`
	UseCase       UseCase    `bun:"use_case,notnull" json:"use_case,omitempty"`
	CompanyName   string     `bun:"company_name" json:"company_name,omitempty"`
	Role          string     `bun:"role" json:"role,omitempty"`
	EmailVerified bool       `bun:"email_verified" json:"email_verified,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Setting is a string key-value row backing client-local preferences. The
// theme store is its only consumer.
type Setting struct {
	bun.BaseModel `bun:"table:settings,alias:set"`
	Key           string     `bun:"key,pk" json:"key"`
	Value         string     `bun:"value,notnull" json:"value"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ProfileFromIdentity builds the lazily created profile for an identity
// whose registration metadata may be partial or missing. Absent fields
// default from the email local part, matching what the callback path
// creates after an OAuth sign-in.
func ProfileFromIdentity(user *UserIdentity, emailVerified bool) *Profile {
	p := &Profile{
		ID:            user.ID,
		Email:         user.Email,
		EmailVerified: emailVerified,
	}

	local := emailLocalPart(user.Email)

	if name, ok := metadataString(user.Metadata, "full_name"); ok {
		p.FullName = name
	} else {
		p.FullName = local
	}

	if username, ok := metadataString(user.Metadata, "username"); ok {
		p.Username = username
	} else {
		p.Username = sanitizeUsername(local)
	}

	if useCase, ok := metadataString(user.Metadata, "use_case"); ok && ValidUseCase(useCase) {
		p.UseCase = useCase
	} else {
		p.UseCase = UseCasePersonal
	}

	if p.UseCase == UseCaseCompany {
		p.CompanyName, _ = metadataString(user.Metadata, "company_name")
		p.Role, _ = metadataString(user.Metadata, "role")
	}

	return p
}

func metadataString(meta map[string]any, key string) (string, bool) {
	if meta == nil {
		return "", false
	}
	s, ok := meta[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// sanitizeUsername strips characters outside the allowed username alphabet.
func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}
