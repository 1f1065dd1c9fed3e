package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"labsessions/internal/metrics"
	"labsessions/internal/models"
	"labsessions/internal/verification"
)

var ErrRejected = errors.New("authentication rejected")

const (
	ReasonBadCredentials = "invalid username or password"
	ReasonDeactivated    = "account is deactivated"
	ReasonNoPending      = "no pending verification"
	ReasonNoEmail        = "no email address registered for verification"
)

// RejectedError is returned for every refused credential or code check.
// Reason is safe to show to the user.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "authentication rejected: " + e.Reason }

func (e *RejectedError) Unwrap() error { return ErrRejected }

type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type PasswordVerifier interface {
	Verify(plain, hash string) bool
}

type TokenIssuer interface {
	Issue(userID int64, roles []string, claims map[string]string) (string, time.Time, error)
}

type EmailSender interface {
	SendVerificationCode(ctx context.Context, address, code string) error
}

// CodeStore is the one-time code cache, see verification.Store.
type CodeStore interface {
	SaveCode(userID int64, code string)
	ValidateCode(userID int64, code string) (bool, string)
	HasActiveCode(userID int64) bool
	RemoveCode(userID int64)
}

// LoginResult is either a challenge (RequiresVerification, MaskedEmail) or an
// authenticated login (Token, ExpiresAt).
type LoginResult struct {
	RequiresVerification bool
	UserID               int64
	Username             string
	Roles                []string
	MaskedEmail          string
	Token                string
	ExpiresAt            time.Time
}

type CoordinatorConfig struct {
	// Require2FA forces the code step even for accounts without two_factor_enabled.
	Require2FA bool
	Logger     *slog.Logger
}

// Coordinator runs the login flow: password check, optional emailed code,
// token issuance.
type Coordinator struct {
	users     UserRepository
	passwords PasswordVerifier
	tokens    TokenIssuer
	mail      EmailSender
	codes     CodeStore
	generate  func() (string, error)
	cfg       CoordinatorConfig
	log       *slog.Logger
}

func NewCoordinator(users UserRepository, passwords PasswordVerifier, tokens TokenIssuer, mail EmailSender, codes CodeStore, cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		mail:      mail,
		codes:     codes,
		generate:  verification.GenerateCode,
		cfg:       cfg,
		log:       logger.With("component", "auth"),
	}
}

// dummyHash keeps the cost of a login for an unknown username close to that
// of a wrong password.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3lzDMIXnh4X0JfG6Sr0Fz6G"

func (c *Coordinator) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, &RejectedError{Reason: ReasonBadCredentials}
	}

	user, err := c.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		c.passwords.Verify(password, dummyHash)
		return nil, &RejectedError{Reason: ReasonBadCredentials}
	}
	if !c.passwords.Verify(password, user.PasswordHash) {
		return nil, &RejectedError{Reason: ReasonBadCredentials}
	}
	if !user.IsActive {
		return nil, &RejectedError{Reason: ReasonDeactivated}
	}

	if user.TwoFactorEnabled || c.cfg.Require2FA {
		masked, err := c.challenge(ctx, user)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			RequiresVerification: true,
			UserID:               user.ID,
			Username:             user.Username,
			MaskedEmail:          masked,
		}, nil
	}

	return c.authenticate(user)
}

// VerifyCode completes a pending challenge. Wrong, expired and exhausted codes
// are rejected with the code store's reason.
func (c *Coordinator) VerifyCode(ctx context.Context, userID int64, code string) (*LoginResult, error) {
	ok, reason := c.codes.ValidateCode(userID, strings.TrimSpace(code))
	metrics.CodeValidations.WithLabelValues(outcome(ok, reason)).Inc()
	if !ok {
		return nil, &RejectedError{Reason: reason}
	}

	user, err := c.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return nil, &RejectedError{Reason: verification.ReasonNotFound}
	}
	if !user.IsActive {
		return nil, &RejectedError{Reason: ReasonDeactivated}
	}

	return c.authenticate(user)
}

// ResendCode replaces the pending code of a user in the challenge state and
// mails the new one.
func (c *Coordinator) ResendCode(ctx context.Context, userID int64) (string, error) {
	if !c.codes.HasActiveCode(userID) {
		return "", &RejectedError{Reason: ReasonNoPending}
	}

	user, err := c.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("look up user: %w", err)
	}
	if user == nil || !user.IsActive {
		c.codes.RemoveCode(userID)
		return "", &RejectedError{Reason: ReasonNoPending}
	}

	return c.challenge(ctx, user)
}

func (c *Coordinator) challenge(ctx context.Context, user *models.User) (string, error) {
	if user.Email == "" {
		return "", &RejectedError{Reason: ReasonNoEmail}
	}

	code, err := c.generate()
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}

	c.codes.SaveCode(user.ID, code)
	if err := c.mail.SendVerificationCode(ctx, user.Email, code); err != nil {
		c.codes.RemoveCode(user.ID)
		return "", fmt.Errorf("dispatch verification code: %w", err)
	}

	metrics.CodesIssued.Inc()
	c.log.Info("verification code sent", "user_id", user.ID)
	return MaskEmail(user.Email), nil
}

func (c *Coordinator) authenticate(user *models.User) (*LoginResult, error) {
	roles := []string{user.Role}
	token, expiresAt, err := c.tokens.Issue(user.ID, roles, map[string]string{"username": user.Username})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &LoginResult{
		UserID:    user.ID,
		Username:  user.Username,
		Roles:     roles,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func outcome(ok bool, reason string) string {
	switch {
	case ok:
		return "valid"
	case strings.HasPrefix(reason, "incorrect"):
		return "incorrect"
	default:
		return strings.ReplaceAll(reason, " ", "_")
	}
}
