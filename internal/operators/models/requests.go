package models

import (
	"strings"

	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/email"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 100
	maxNameLength     = 200
)

type CreateRequest struct {
	Email    string `json:"email"`
	Name     string `json:"nombre"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (r *CreateRequest) Normalize() {
	r.Email = email.Normalize(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Role = strings.TrimSpace(r.Role)
}

func (r *CreateRequest) Validate() error {
	fields := dErrors.FieldErrors{}
	switch {
	case r.Email == "":
		fields.Add("email", "email is required")
	case !email.Valid(r.Email):
		fields.Add("email", "email is not valid")
	}
	if r.Password == "" {
		fields.Add("password", "password is required")
	} else {
		checkPassword(fields, "password", r.Password)
	}
	checkName(fields, r.Name)
	checkRole(fields, r.Role)
	return fields.Err()
}

// UpdateRequest is a sparse change to an account. Blank fields are kept.
type UpdateRequest struct {
	Email    string `json:"email"`
	Name     string `json:"nombre"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (r *UpdateRequest) Normalize() {
	r.Email = email.Normalize(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Role = strings.TrimSpace(r.Role)
}

func (r *UpdateRequest) Validate() error {
	fields := dErrors.FieldErrors{}
	if r.Email != "" && !email.Valid(r.Email) {
		fields.Add("email", "email is not valid")
	}
	if r.Password != "" {
		checkPassword(fields, "password", r.Password)
	}
	checkName(fields, r.Name)
	checkRole(fields, r.Role)
	return fields.Err()
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r *ChangePasswordRequest) Validate() error {
	fields := dErrors.FieldErrors{}
	if r.CurrentPassword == "" {
		fields.Add("currentPassword", "currentPassword is required")
	}
	if r.NewPassword == "" {
		fields.Add("newPassword", "newPassword is required")
	} else {
		checkPassword(fields, "newPassword", r.NewPassword)
	}
	return fields.Err()
}

// ResetPasswordRequest sets a new password; when NewPassword is blank a
// temporary one is generated and returned once.
type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (r *ResetPasswordRequest) Validate() error {
	fields := dErrors.FieldErrors{}
	if r.NewPassword != "" {
		checkPassword(fields, "newPassword", r.NewPassword)
	}
	return fields.Err()
}

func checkPassword(fields dErrors.FieldErrors, name, pw string) {
	if len(pw) < minPasswordLength || len(pw) > maxPasswordLength {
		fields.Add(name, name+" must be between 6 and 100 characters")
	}
}

func checkName(fields dErrors.FieldErrors, name string) {
	if len(name) > maxNameLength {
		fields.Add("nombre", "nombre is too long")
	}
}

func checkRole(fields dErrors.FieldErrors, role string) {
	if role != "" && !ValidRole(role) {
		fields.Add("role", "role must be one of: "+strings.Join(Roles, ", "))
	}
}
