package session

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// usernamePattern is the allowed username alphabet: letters, digits,
// underscores.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// LoginPayload is the sign-in form. Identifier accepts an email or a bare
// username; resolution happens in the gateway, not here.
type LoginPayload struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegisterPayload is the registration form. Validation runs before any
// network call: a payload that fails here never reaches the identity
// service.
type RegisterPayload struct {
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
	FullName        string `form:"full_name" json:"full_name"`
	Username        string `form:"username" json:"username"`
	UseCase         string `form:"use_case" json:"use_case"`
	CompanyName     string `form:"company_name" json:"company_name"`
	Role            string `form:"role" json:"role"`
}

// Validate will validate the payload
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(&r.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(
			&r.Username,
			validation.Required,
			validation.Match(usernamePattern).Error("must contain only letters, numbers, and underscores"),
		),
		validation.Field(
			&r.UseCase,
			validation.Required,
			validation.In(UseCasePersonal, UseCaseCompany, UseCaseStudent),
		),
		validation.Field(&r.CompanyName, validation.By(requiredForCompany(r.UseCase))),
		validation.Field(&r.Role, validation.By(requiredForCompany(r.UseCase))),
	)
}

// Metadata builds the free-form registration metadata handed to the
// identity service. Company fields travel only for company accounts.
func (r RegisterPayload) Metadata() map[string]any {
	meta := map[string]any{
		"full_name": r.FullName,
		"username":  r.Username,
		"use_case":  r.UseCase,
	}
	if r.UseCase == UseCaseCompany {
		meta["company_name"] = r.CompanyName
		meta["role"] = r.Role
	}
	return meta
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// requiredForCompany makes a field mandatory when the use case is company.
func requiredForCompany(useCase string) validation.RuleFunc {
	return func(value any) error {
		if useCase != UseCaseCompany {
			return nil
		}
		s, _ := value.(string)
		if s == "" {
			return errors.New("required for company accounts")
		}
		return nil
	}
}
