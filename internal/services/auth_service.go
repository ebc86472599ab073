package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
	"stock-analytica/internal/models"
	"stock-analytica/internal/storage"
)

// MinPasswordLength is counted in characters of the decrypted password.
const MinPasswordLength = 8

type AuthService struct {
	users           storage.UserRepository
	tokens          *TokenIssuer
	startingBalance decimal.Decimal
	log             *logger.Logger
}

func NewAuthService(store storage.Store, tokens *TokenIssuer, startingBalance decimal.Decimal) *AuthService {
	return &AuthService{
		users:           store.Users(),
		tokens:          tokens,
		startingBalance: startingBalance,
		log:             logger.New("auth"),
	}
}

type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	ProfileType string
}

// Register creates a new account with the starting balance and returns it
// together with a session token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (models.User, string, error) {
	email := models.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || in.Password == "" || name == "" {
		return models.User{}, "", apperr.New(apperr.Validation, "Email, password, and name are required")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return models.User{}, "", apperr.Validationf("Password must be at least %d characters", MinPasswordLength)
	}

	profile := in.ProfileType
	switch profile {
	case "":
		profile = models.ProfileDiversified
	case models.ProfileFocused, models.ProfileDiversified:
	default:
		return models.User{}, "", apperr.Validationf("Profile type must be %q or %q", models.ProfileFocused, models.ProfileDiversified)
	}

	// Check if user already exists. The unique index still decides a race.
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return models.User{}, "", apperr.New(apperr.Duplicate, "Email already registered")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.User{}, "", apperr.Internalf(err, "look up email")
	}

	user := models.User{
		Email:       email,
		Password:    in.Password,
		Name:        name,
		ProfileType: profile,
		Balance:     s.startingBalance,
		CreatedAt:   time.Now().UTC(),
	}
	if err := user.HashPassword(); err != nil {
		return models.User{}, "", apperr.Internalf(err, "hash password")
	}
	if err := s.users.Create(ctx, &user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return models.User{}, "", apperr.New(apperr.Duplicate, "Email already registered")
		}
		return models.User{}, "", apperr.Internalf(err, "create user")
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return models.User{}, "", apperr.Internalf(err, "sign token")
	}

	s.log.WithFields(map[string]interface{}{"user": user.ID.Hex()}).Info("New user registered: %s", user.Email)
	return user, token, nil
}

// Login checks the credentials. Unknown email and wrong password give the
// same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (models.User, string, error) {
	invalid := apperr.New(apperr.Auth, "Invalid credentials")

	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, "", invalid
	}
	if err != nil {
		return models.User{}, "", apperr.Internalf(err, "look up email")
	}
	if !user.CheckPassword(password) {
		s.log.Debug("Password mismatch for %s", user.Email)
		return models.User{}, "", invalid
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return models.User{}, "", apperr.Internalf(err, "sign token")
	}
	return user, token, nil
}

// Authenticate turns a bearer token into an account id.
func (s *AuthService) Authenticate(token string) (primitive.ObjectID, error) {
	return s.tokens.Verify(token)
}

// GetUser returns the account behind an authenticated request.
func (s *AuthService) GetUser(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, apperr.New(apperr.Auth, "User not found")
	}
	if err != nil {
		return models.User{}, apperr.Internalf(err, "load user %s", id.Hex())
	}
	return user, nil
}
