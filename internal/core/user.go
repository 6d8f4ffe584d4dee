package core

import "strings"

// SignupInput is the payload for creating a user.
type SignupInput struct {
	FirstName string `json:"firstName" validate:"required,alphanum,min=3,max=30"`
	LastName  string `json:"lastName" validate:"required,alphanum,min=3,max=30"`
	Email     string `json:"email" validate:"required,email,comnet"`
	Password  string `json:"password" validate:"required,min=6"`
}

// Normalize trims whitespace and lowercases the email.
func (in *SignupInput) Normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

func (in SignupInput) Validate() error {
	return validateStruct(in)
}

// LoginInput is the payload for checking a user's credentials.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *LoginInput) Normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}
