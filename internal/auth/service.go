package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"invest-engine/internal/database"
)

// Service handles authentication operations
type Service struct {
	repo            *database.Repository
	jwtManager      *JWTManager
	passwordManager *PasswordManager
	config          Config
	logger          zerolog.Logger
}

// NewService creates a new authentication service
func NewService(repo *database.Repository, config Config, logger zerolog.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 24 * time.Hour
	}

	return &Service{
		repo:            repo,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		passwordManager: NewPasswordManager(DefaultBcryptCost, config.MinPasswordLength),
		config:          config,
		logger:          logger.With().Str("component", "auth").Logger(),
	}, nil
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// Register creates a new user account. The referral edge is set exactly once
// here; an unknown referral code is ignored with a warning rather than
// failing the registration.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*database.User, error) {
	exists, err := s.repo.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.Password); err != nil {
		return nil, AuthError{Code: "WEAK_PASSWORD", Message: err.Error()}
	}

	passwordHash, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	referralCode, err := s.generateUniqueReferralCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate referral code: %w", err)
	}

	var referredBy *string
	if req.ReferralCode != nil && *req.ReferralCode != "" {
		referrer, err := s.repo.GetUserByReferralCode(ctx, *req.ReferralCode)
		if err != nil {
			return nil, fmt.Errorf("failed to check referral: %w", err)
		}
		if referrer != nil {
			referredBy = &referrer.ReferralCode
		} else {
			s.logger.Warn().Str("referral_code", *req.ReferralCode).Msg("Unknown referral code at registration")
		}
	}

	user := &database.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		Name:         req.Name,
		ReferralCode: referralCode,
		ReferredBy:   referredBy,
		Status:       database.AccountActive,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User registered")
	return user, nil
}

// Login authenticates a user and returns an access token
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if !s.passwordManager.VerifyPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateAccessToken(UserClaims{
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginResponse{
		User:        ToUserResponse(user),
		AccessToken: token,
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
	}, nil
}

// ChangePassword updates a user's password after verifying the current one
func (s *Service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if !s.passwordManager.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.NewPassword); err != nil {
		return AuthError{Code: "WEAK_PASSWORD", Message: err.Error()}
	}

	hash, err := s.passwordManager.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.UpdateUserPassword(ctx, userID, hash)
}

// ToUserResponse strips sensitive fields for client consumption
func ToUserResponse(user *database.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Balance:       user.Balance,
		ActivePlanID:  user.ActivePlanID,
		TrialUsed:     user.TrialUsed,
		ReferralCode:  user.ReferralCode,
		CheckinStreak: user.CheckinStreak,
		Status:        string(user.Status),
		IsAdmin:       user.IsAdmin,
		CreatedAt:     user.CreatedAt,
		LastCheckinAt: user.LastCheckinAt,
	}
}

const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateUniqueReferralCode draws 8-character codes until one is free.
// Collisions are vanishingly rare at this alphabet size; the retry loop is
// bounded to keep a degenerate store from spinning forever.
func (s *Service) generateUniqueReferralCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomCode(8)
		if err != nil {
			return "", err
		}
		existing, err := s.repo.GetUserByReferralCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("exhausted referral code attempts")
}

func randomCode(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for i, b := range bytes {
		bytes[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return string(bytes), nil
}
