package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	commonauth "market_files/server/common/auth"
	"market_files/server/fileman/domain"
	"market_files/server/fileman/repository"
)

var validate = validator.New()

type tokenIssuer interface {
	GenerateToken(userID, role string) (string, error)
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.UserRole
}

// Session is an authenticated user plus a bearer token for the API.
type Session struct {
	User  domain.User
	Token string
}

type UserService struct {
	users  repository.UserStore
	tokens tokenIssuer
}

func NewUserService(users repository.UserStore, tokens tokenIssuer) *UserService {
	return &UserService{users: users, tokens: tokens}
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (Session, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Session{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := validate.Var(email, "required,email"); err != nil {
		return Session{}, fmt.Errorf("%w: email is invalid", domain.ErrValidation)
	}
	role := in.Role
	if role == "" {
		role = domain.UserRoleUser
	}
	if role != domain.UserRoleUser && role != domain.UserRoleProvider {
		return Session{}, fmt.Errorf("%w: role must be user or provider", domain.ErrValidation)
	}
	hash, err := commonauth.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, commonauth.ErrPasswordTooShort) {
			return Session{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return Session{}, err
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, &user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return Session{}, domain.ErrEmailTaken
		}
		return Session{}, err
	}
	return s.session(user)
}

// Login answers ErrInvalidCredentials for both unknown emails and wrong
// passwords.
func (s *UserService) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, domain.ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !commonauth.CheckPassword(user.PasswordHash, password) {
		return Session{}, domain.ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *UserService) Profile(ctx context.Context, userID string) (domain.User, error) {
	return s.users.Get(ctx, userID)
}

func (s *UserService) session(user domain.User) (Session, error) {
	token, err := s.tokens.GenerateToken(user.ID, string(user.Role))
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Token: token}, nil
}
