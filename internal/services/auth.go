package services

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/store"
)

// BcryptCost is the work factor for stored password hashes.
const BcryptCost = 10

const (
	MsgPasswordRequired    = "Password is required"
	MsgUserExists          = "User already exists"
	MsgCredentialsRequired = "Email and password are required"
	MsgInvalidLogin        = "Invalid email or password"
	MsgServerError         = "Server error"
)

// AuthService signs users up and checks their credentials.
type AuthService struct {
	users  store.UserStore
	logger *applog.Logger
	cost   int
}

func NewAuthService(users store.UserStore, logger *applog.Logger) *AuthService {
	if logger == nil {
		logger = applog.Default(applog.ComponentAuth)
	}
	return &AuthService{users: users, logger: logger.WithComponent(applog.ComponentAuth), cost: BcryptCost}
}

// Signup creates a user with a bcrypt-hashed password.
func (s *AuthService) Signup(ctx context.Context, in core.SignupInput) (core.User, error) {
	in.Normalize()
	if in.Password == "" {
		return core.User{}, invalid(MsgPasswordRequired)
	}
	if err := in.Validate(); err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			return core.User{}, invalid(verr.Message)
		}
		return core.User{}, internal(MsgServerError, err)
	}

	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return core.User{}, invalid(MsgUserExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return core.User{}, internal(MsgServerError, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return core.User{}, internal(MsgServerError, err)
	}

	u, err := s.users.CreateUser(ctx, core.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: string(hash),
	})
	if errors.Is(err, store.ErrConflict) {
		return core.User{}, invalid(MsgUserExists)
	}
	if err != nil {
		return core.User{}, internal(MsgServerError, err)
	}

	s.logger.InfoContext(ctx, "User signed up", applog.FieldUserID, u.ID, applog.FieldOperation, applog.OpSignup)
	return u, nil
}

// Login returns the user whose email and password match.
func (s *AuthService) Login(ctx context.Context, in core.LoginInput) (core.User, error) {
	in.Normalize()
	if in.Email == "" || in.Password == "" {
		return core.User{}, invalid(MsgCredentialsRequired)
	}

	u, err := s.users.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		return core.User{}, invalid(MsgInvalidLogin)
	}
	if err != nil {
		return core.User{}, internal(MsgServerError, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		s.logger.WarnContext(ctx, "Login rejected", applog.FieldUserID, u.ID, applog.FieldOperation, applog.OpLogin)
		return core.User{}, invalid(MsgInvalidLogin)
	}

	s.logger.InfoContext(ctx, "User logged in", applog.FieldUserID, u.ID, applog.FieldOperation, applog.OpLogin)
	return u, nil
}

// User loads a user by ID, used to resolve sessions.
func (s *AuthService) User(ctx context.Context, id string) (core.User, error) {
	u, err := s.users.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return core.User{}, notFound("User not found")
	}
	if err != nil {
		return core.User{}, internal(MsgServerError, err)
	}
	return u, nil
}
