package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
)

const defaultAccessTTL = 24 * time.Hour

var errInvalidCredentials = common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, nil)

// Querier is the subset of db.Queries used by the auth service.
type Querier interface {
	CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error)
	GetUserByEmail(ctx context.Context, email string) (db.User, error)
	GetUserByID(ctx context.Context, id pgtype.UUID) (db.User, error)
}

// Service registers accounts and issues access tokens.
type Service struct {
	queries Querier
	tokens  accessTokens
	now     func() time.Time
}

// Config configures the auth service.
type Config struct {
	Queries        Querier
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
}

// User represents a safe subset of the user model returned to clients.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoginResult bundles token material returned after a successful login.
type LoginResult struct {
	User         User      `json:"user"`
	AccessToken  string    `json:"accessToken"`
	AccessExpiry time.Time `json:"accessTokenExpiresAt"`
}

// Claims is the verified content of an access token.
type Claims struct {
	UserID string
	Roles  []string
}

// RegisterInput is the payload of POST /auth/register.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginInput is the payload of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("auth: queries is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "fotoko-api"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "fotoko-web"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}

	return &Service{
		queries: cfg.Queries,
		tokens: accessTokens{
			secret:   []byte(secret),
			issuer:   issuer,
			audience: audience,
			ttl:      accessTTL,
			skew:     clockSkew,
		},
		now: time.Now,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates a customer account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if err := common.ValidateStruct(in); err != nil {
		return User{}, err
	}

	hash, err := argon2id.CreateHash(in.Password, argon2id.DefaultParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.queries.CreateUser(ctx, db.CreateUserParams{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, common.NewAppError("EMAIL_ALREADY_USED", "email is already registered", http.StatusConflict, err)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return toUser(created), nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return LoginResult{}, errInvalidCredentials
	}

	dbUser, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return LoginResult{}, fmt.Errorf("get user: %w", err)
		}
		return LoginResult{}, errInvalidCredentials
	}

	ok, err := argon2id.ComparePasswordAndHash(in.Password, dbUser.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, errInvalidCredentials
	}

	user := toUser(dbUser)
	if user.ID == "" {
		return LoginResult{}, errors.New("auth: invalid user identifier")
	}
	token, expiry, err := s.tokens.sign(user.ID, user.Roles, s.now())
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	return LoginResult{User: user, AccessToken: token, AccessExpiry: expiry}, nil
}

// Me fetches the current authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	unauthorized := common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)
	id, err := db.ParseUUID(userID)
	if err != nil {
		return User{}, unauthorized
	}
	dbUser, err := s.queries.GetUserByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, unauthorized
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return toUser(dbUser), nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	claims, err := s.tokens.parse(trimmed, s.now())
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	return claims, nil
}

func toUser(u db.User) User {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	created := time.Time{}
	if u.CreatedAt.Valid {
		created = u.CreatedAt.Time
	}
	return User{
		ID:        db.UUIDString(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Roles:     roles,
		CreatedAt: created,
	}
}
