package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/models"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const tokenTTL = 24 * time.Hour

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// ReferralGrantor credits both sides of a referral inside the registration transaction.
type ReferralGrantor interface {
	GrantTx(ctx context.Context, tx pgx.Tx, newUserID uuid.UUID, code string) error
}

type RegisterInput struct {
	Email        string
	Password     string
	DisplayName  string
	ReferralCode string
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	IssueToken(userID uuid.UUID) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

type service struct {
	store     Store
	referrals ReferralGrantor
	secret    []byte
	now       func() time.Time
	log       *slog.Logger
}

func NewService(store Store, referrals ReferralGrantor, secret string, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, referrals: referrals, secret: []byte(secret), now: time.Now, log: log}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

// Register creates the user and applies an incoming referral in one
// transaction. A referral code that does not resolve is logged and skipped.
func (s *service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: email and a password of at least 8 characters are required", apperr.ErrBadInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	// a fresh referral code collides rarely; retry the whole tx a few times
	for attempt := 0; ; attempt++ {
		u := &models.User{
			ID:           uuid.New(),
			Email:        email,
			DisplayName:  strings.TrimSpace(in.DisplayName),
			PasswordHash: string(hash),
			ReferralCode: newReferralCode(),
		}
		err := s.create(ctx, u, in.ReferralCode)
		if err == nil {
			return u, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName != "users_referral_code_key" {
				return nil, ErrDuplicateEmail
			}
			if attempt < 3 {
				continue
			}
		}
		return nil, err
	}
}

func (s *service) create(ctx context.Context, u *models.User, referralCode string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.store.CreateTx(ctx, tx, u); err != nil {
		return err
	}
	if s.referrals != nil {
		if err := s.referrals.GrantTx(ctx, tx, u.ID, referralCode); err != nil {
			if apperr.KindOf(err) != apperr.KindValidation {
				return err
			}
			s.log.Warn("referral code ignored", "user_id", u.ID, "code", referralCode, "error", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.IssueToken(u.ID)
}

// normalizeEmail lower-cases so that addresses differing only in case map to
// one account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *service) IssueToken(userID uuid.UUID) (string, error) {
	now := s.now()
	c := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newReferralCode() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = referralAlphabet[int(b[i])%len(referralAlphabet)]
	}
	return string(b)
}
