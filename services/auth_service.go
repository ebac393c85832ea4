package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/repository"
	utils "github.com/phillip/shared-calendar/utils"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type AuthService struct {
	users  repository.UserRepository
	secret string
	ttl    time.Duration
	log    *slog.Logger
}

func NewAuthService(users repository.UserRepository, secret string, ttl time.Duration, log *slog.Logger) *AuthService {
	return &AuthService{users: users, secret: secret, ttl: ttl, log: log}
}

// Login checks the password and returns the user with a fresh token.
// Accounts still holding a plaintext password are upgraded to bcrypt.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, "", fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if isBcryptHash(user.Password) {
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
			return nil, "", ErrInvalidCredentials
		}
	} else {
		if subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
			return nil, "", ErrInvalidCredentials
		}
		s.upgradePassword(ctx, user, password)
	}

	token, err := utils.GenerateToken(s.secret, s.ttl, user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) upgradePassword(ctx context.Context, user *models.User, password string) {
	hash, err := HashPassword(password)
	if err != nil {
		s.log.Warn("could not hash legacy password", "user", user.Username, "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Warn("could not migrate legacy password", "user", user.Username, "error", err)
		return
	}
	user.Password = hash
	s.log.Info("migrated legacy password to bcrypt", "user", user.Username)
}

// Authenticate validates a bearer token.
func (s *AuthService) Authenticate(raw string) (*utils.Claims, error) {
	return utils.ParseToken(s.secret, raw)
}

// EnsureAdmin creates the seed admin account when it does not exist yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user := &models.User{Username: username, Password: hash, Role: models.RoleAdmin}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil
		}
		return err
	}
	s.log.Info("seeded admin user", "user", username)
	return nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}
