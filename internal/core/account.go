package core

import "strings"

// AccountInput is the payload for saving a provider account.
type AccountInput struct {
	UserID    string `json:"user" validate:"required"`
	Name      string `json:"name" validate:"required,min=3,max=100,accountname"`
	SID       string `json:"sid" validate:"required,alphanum"`
	AuthToken string `json:"authToken" validate:"required,alphanum"`
}

func (in *AccountInput) Normalize() {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Name = strings.TrimSpace(in.Name)
	in.SID = strings.TrimSpace(in.SID)
	in.AuthToken = strings.TrimSpace(in.AuthToken)
}

// Empty reports whether no field was supplied at all.
func (in AccountInput) Empty() bool {
	return in.UserID == "" && in.Name == "" && in.SID == "" && in.AuthToken == ""
}

func (in AccountInput) Validate() error {
	return validateStruct(in)
}
