package identity

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterRequest is the input accepted by CreateUser.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Email    string `json:"email" validate:"omitempty,email,max=254"`
}

// LoginRequest is the input accepted by VerifyUser.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r RegisterRequest) normalize() RegisterRequest {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	return r
}

func (r LoginRequest) normalize() LoginRequest {
	r.Username = strings.TrimSpace(r.Username)
	return r
}

func checkStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
			}
			return apperr.Validation("%s", strings.Join(fields, ", "))
		}
		return apperr.Validation("%v", err)
	}
	return nil
}
