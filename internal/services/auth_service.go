package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/repositories"
	"github.com/prudhvinik1/locsync/internal/utils"
	"github.com/prudhvinik1/locsync/internal/validation"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidCredentials = &apperr.Error{Kind: apperr.KindAuthorization, Msg: "invalid email or password"}
	ErrEmailExists        = &apperr.Error{Kind: apperr.KindConflict, Msg: "email already exists"}
	ErrInvalidToken       = &apperr.Error{Kind: apperr.KindAuthorization, Msg: "invalid token"}
)

// ProfileWriter mirrors account details into the document store.
type ProfileWriter interface {
	SaveUserProfile(ctx context.Context, userID string, profile models.UserProfile) error
}

type AuthService struct {
	accountRepo repositories.AccountRepository
	sessionRepo repositories.SessionRepository
	profiles    ProfileWriter
	validator   *validation.Validator
	logger      *logrus.Logger
	jwtSecret   string
	jwtExpiry   time.Duration
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username"`
	Password string `json:"password" validate:"required,min=12"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AccountID uuid.UUID `json:"account_id"`
}

type TokenClaims struct {
	AccountID uuid.UUID
	SessionID string
}

// UserID is the account id in the form locations and references use.
func (c *TokenClaims) UserID() string {
	return c.AccountID.String()
}

func NewAuthService(
	accountRepo repositories.AccountRepository,
	sessionRepo repositories.SessionRepository,
	profiles ProfileWriter,
	validator *validation.Validator,
	logger *logrus.Logger,
	jwtSecret string,
	jwtExpiry time.Duration,
) *AuthService {
	return &AuthService{
		accountRepo: accountRepo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		validator:   validator,
		logger:      logger,
		jwtSecret:   jwtSecret,
		jwtExpiry:   jwtExpiry,
	}
}

// Register creates the account and then writes its profile document. A
// failed profile write is logged and does not fail the registration.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct("register", &req); err != nil {
		return nil, err
	}

	// Check if email already exists
	existing, err := s.accountRepo.GetByEmail(ctx, req.Email)
	if err == nil && existing != nil {
		return nil, ErrEmailExists
	}
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Email:        req.Email,
		Username:     strings.TrimSpace(req.Username),
		PasswordHash: hashedPassword,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	profile := models.UserProfile{Email: account.Email, Username: account.Username, DisplayName: account.Username}
	if err := s.profiles.SaveUserProfile(ctx, account.ID.String(), profile); err != nil {
		s.logger.WithError(err).WithField("user_id", account.ID).Warn("Failed to write user profile")
	}

	s.logger.WithField("user_id", account.ID).Info("Account registered")
	return account, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	account, err := s.accountRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if !utils.CheckPassword(account.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	session := &models.Session{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		ExpiresAt: now.Add(s.jwtExpiry),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.generateToken(account.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	lastLogin := now.UTC()
	profile := models.UserProfile{
		Email:       account.Email,
		Username:    account.Username,
		DisplayName: account.Username,
		LastLogin:   &lastLogin,
	}
	if err := s.profiles.SaveUserProfile(ctx, account.ID.String(), profile); err != nil {
		s.logger.WithError(err).WithField("user_id", account.ID).Warn("Failed to record last login")
	}

	return &LoginResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		AccountID: account.ID,
	}, nil
}

func (s *AuthService) generateToken(accountID uuid.UUID, sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": accountID.String(),
		"jti": sessionID,
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken checks the signature and expiry only. Use Authenticate to also
// require a live session.
func (s *AuthService) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	accountIDStr, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	accountID, err := uuid.Parse(accountIDStr)
	if err != nil {
		return nil, ErrInvalidToken
	}

	sessionID, ok := claims["jti"].(string)
	if !ok || sessionID == "" {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		AccountID: accountID,
		SessionID: sessionID,
	}, nil
}

// Authenticate verifies the token and that its session was not logged out.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.GetByID(ctx, claims.SessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.AccountID != claims.AccountID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return err
	}

	err = s.sessionRepo.Delete(ctx, claims.SessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, tokenString string) error {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return err
	}

	if err := s.sessionRepo.DeleteAllForAccount(ctx, claims.AccountID); err != nil {
		return fmt.Errorf("failed to logout all sessions: %w", err)
	}
	return nil
}
