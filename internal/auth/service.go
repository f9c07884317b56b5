// Package auth registers users, issues JWT access tokens backed by refresh
// token sessions and resolves the current user from an access token.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mytasks/internal/domain"
	"mytasks/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

const minPasswordLength = 6

type Result struct {
	UserID                string    `json:"user_id"`
	SessionID             string    `json:"session_id"`
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

type Settings struct {
	NotificationsEnabled *bool          `json:"notifications_enabled"`
	ReminderDelay        *time.Duration `json:"-"`
}

type Config struct {
	Issuer          string
	SigningKey      []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type Service struct {
	logger zerolog.Logger
	users  store.UserRepository
	sess   store.SessionRepository
	cfg    Config
	now    func() time.Time
}

func NewService(logger zerolog.Logger, users store.UserRepository, sessions store.SessionRepository, cfg Config) *Service {
	return &Service{
		logger: logger,
		users:  users,
		sess:   sessions,
		cfg:    cfg,
		now:    time.Now,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidCredentials
	}
	return email, nil
}

func (s *Service) Register(ctx context.Context, email, password string) (*Result, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, ErrInvalidCredentials
	}

	userUUID, err := uuid.NewV7()
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate user uuid")
		return nil, err
	}

	passwordHash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to hash password")
		return nil, err
	}

	now := s.now()
	user := domain.User{
		ID:                   userUUID.String(),
		Email:                email,
		PasswordHash:         passwordHash,
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			s.logger.Error().
				Str("email", email).
				Msg("user with this email already exists")
			return nil, err
		}
		s.logger.Error().
			Err(err).
			Msg("failed to insert user")
		return nil, err
	}
	s.logger.Debug().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Msg("inserted user")

	res, err := s.startSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("user_id", user.ID).
		Str("session_id", res.SessionID).
		Msg("registered user")
	return res, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Error().
				Str("email", email).
				Msg("user not found")
			return nil, err
		}
		s.logger.Error().
			Err(err).
			Str("email", email).
			Msg("failed to select user by email")
		return nil, err
	}

	match, err := argon2id.ComparePasswordAndHash(password, user.PasswordHash)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to compare password")
		return nil, err
	} else if !match {
		s.logger.Error().Msg("passwords do not match")
		return nil, domain.ErrPasswordMismatch
	}

	affected, err := s.sess.DeleteUserSessions(ctx, user.ID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to delete sessions by user id")
		return nil, err
	}
	s.logger.Debug().
		Str("user_id", user.ID).
		Int64("affected", affected).
		Msg("deleted sessions by user id")

	res, err := s.startSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("user_id", user.ID).
		Str("session_id", res.SessionID).
		Msg("logged in")
	return res, nil
}

func (s *Service) startSession(ctx context.Context, userID string) (*Result, error) {
	sessionUUID, err := uuid.NewV7()
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate session uuid")
		return nil, err
	}
	refreshToken, err := generateRefreshToken()
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate refresh token")
		return nil, err
	}

	now := s.now()
	session := domain.Session{
		ID:           sessionUUID.String(),
		UserID:       userID,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.sess.CreateSession(ctx, session); err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to insert session")
		return nil, err
	}
	s.logger.Debug().
		Str("session_id", session.ID).
		Time("expires_at", session.ExpiresAt).
		Msg("inserted session")

	return s.issue(session)
}

func (s *Service) issue(session domain.Session) (*Result, error) {
	accessToken, accessTokenExpiresAt, err := s.generateAccessToken(session.ID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate access token")
		return nil, err
	}
	return &Result{
		UserID:                session.UserID,
		SessionID:             session.ID,
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessTokenExpiresAt,
		RefreshToken:          session.RefreshToken,
		RefreshTokenExpiresAt: session.ExpiresAt,
	}, nil
}

// Refresh rotates the refresh token of the session it belongs to.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	session, err := s.sess.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.logger.Error().Msg("session not found")
			return nil, err
		}
		s.logger.Error().
			Err(err).
			Msg("failed to select session by refresh token")
		return nil, err
	}

	now := s.now()
	if session.ExpiresAt.Before(now) {
		s.logger.Error().
			Str("session_id", session.ID).
			Time("expires_at", session.ExpiresAt).
			Msg("session expired")
		return nil, domain.ErrSessionExpired
	}

	if session.RefreshToken, err = generateRefreshToken(); err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate refresh token")
		return nil, err
	}
	session.ExpiresAt = now.Add(s.cfg.RefreshTokenTTL)
	session.UpdatedAt = now

	if err := s.sess.UpdateSession(ctx, session); err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to update session")
		return nil, err
	}
	s.logger.Info().
		Str("user_id", session.UserID).
		Str("session_id", session.ID).
		Msg("refreshed session")
	return s.issue(session)
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	affected, err := s.sess.DeleteUserSessions(ctx, userID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to delete sessions by user id")
		return err
	}
	s.logger.Info().
		Str("user_id", userID).
		Int64("affected", affected).
		Msg("logged out")
	return nil
}

// Authenticate resolves the user behind an access token. The token subject
// names a session, so logging out invalidates tokens that have not expired.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (domain.User, error) {
	claims, err := s.ParseToken(accessToken)
	if err != nil {
		return domain.User{}, err
	}
	session, err := s.sess.GetSession(ctx, claims.Subject)
	if err != nil {
		return domain.User{}, err
	}
	if session.ExpiresAt.Before(s.now()) {
		return domain.User{}, domain.ErrSessionExpired
	}
	return s.users.GetUser(ctx, session.UserID)
}

func (s *Service) ParseToken(token string) (*jwt.RegisteredClaims, error) {
	t, err := jwt.ParseWithClaims(
		token,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.cfg.SigningKey, nil
		},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := t.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) UpdateSettings(ctx context.Context, userID string, settings Settings) (domain.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if settings.NotificationsEnabled != nil {
		user.NotificationsEnabled = *settings.NotificationsEnabled
	}
	if settings.ReminderDelay != nil {
		if *settings.ReminderDelay < 0 {
			return domain.User{}, fmt.Errorf("reminder delay must not be negative")
		}
		user.ReminderDelay = *settings.ReminderDelay
	}
	if err := s.users.UpdateUserSettings(ctx, user); err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to update settings")
		return domain.User{}, err
	}
	s.logger.Info().
		Str("user_id", userID).
		Bool("notifications_enabled", user.NotificationsEnabled).
		Dur("reminder_delay", user.ReminderDelay).
		Msg("updated settings")
	return user, nil
}

func generateRefreshToken() (string, error) {
	const length = 32
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func (s *Service) generateAccessToken(sessionID string) (string, time.Time, error) {
	tokenUUID, err := uuid.NewRandom()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate id: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        tokenUUID.String(),
		Issuer:    s.cfg.Issuer,
		Subject:   sessionID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
	})

	signed, err := token.SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}
