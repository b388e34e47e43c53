// Package auth resolves identities for the web front-end and the post engine.
package auth

import (
	"context"
	"errors"
	"strings"

	"blogger/internal/models"
	"blogger/internal/repository"
	"blogger/internal/validation"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned for an unknown username or a wrong password alike.
	ErrInvalidCredentials = models.NewUnauthorizedError("Invalid credentials")
	// ErrUnknownIdentity is returned by Lookup when the id no longer resolves.
	ErrUnknownIdentity = models.NewUnauthorizedError("Unknown identity")
)

// Identity is an authenticated principal. Anonymous callers are a nil *Identity.
type Identity struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Provider authenticates credentials and loads identities by id.
type Provider interface {
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
	Lookup(ctx context.Context, id string) (*Identity, error)
}

// RegisterInput describes a new local account.
type RegisterInput struct {
	Username    string
	DisplayName string
	Password    string
	IsAdmin     bool
}

// UserProvider is a Provider backed by the users table with bcrypt password hashes.
type UserProvider struct {
	users repository.UserRepository
	cost  int
	// dummyHash keeps the unknown-user path as slow as a real comparison.
	dummyHash []byte
}

// NewUserProvider returns a provider hashing with cost. Zero selects bcrypt.DefaultCost.
func NewUserProvider(users repository.UserRepository, cost int) *UserProvider {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("blogger-dummy-password"), cost)
	return &UserProvider{users: users, cost: cost, dummyHash: dummy}
}

// Register creates a local account after validating its fields.
func (p *UserProvider) Register(ctx context.Context, in RegisterInput) (*Identity, error) {
	username := strings.TrimSpace(in.Username)
	if err := validation.ValidateUsername(username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	displayName, err := validation.NormalizeDisplayName(in.DisplayName, username)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), p.cost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	user := &models.User{
		ID:           id.String(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		IsAdmin:      in.IsAdmin,
	}
	if err := p.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return identityFrom(user), nil
}

func (p *UserProvider) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := p.users.GetByUsername(ctx, username)
	if models.IsCode(err, models.CodeNotFound) {
		_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(creds.Password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return identityFrom(user), nil
}

func (p *UserProvider) Lookup(ctx context.Context, id string) (*Identity, error) {
	if id == "" {
		return nil, ErrUnknownIdentity
	}
	user, err := p.users.GetByID(ctx, id)
	if models.IsCode(err, models.CodeNotFound) {
		return nil, ErrUnknownIdentity
	}
	if err != nil {
		return nil, err
	}
	return identityFrom(user), nil
}

// IsAdmin reports the administrator capability of id. Unknown ids are not admins.
// Its signature matches service.AdminChecker.
func (p *UserProvider) IsAdmin(ctx context.Context, id string) (bool, error) {
	ident, err := p.Lookup(ctx, id)
	if errors.Is(err, ErrUnknownIdentity) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ident.IsAdmin, nil
}

func identityFrom(u *models.User) *Identity {
	return &Identity{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, IsAdmin: u.IsAdmin}
}
