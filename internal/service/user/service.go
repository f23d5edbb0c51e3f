// Package user manages console accounts, assistant grants, and bearer tokens.
package user

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	"github.com/zhouzirui/ulink/backend/internal/store"
)

var (
	ErrCredentialsRequired = errors.New("username and password required")
	ErrInvalidCredentials  = errors.New("Invalid credentials")
	ErrUserExists          = errors.New("User already exists")
	ErrUserNotFound        = errors.New("User not found")
	ErrUserHasSessions     = errors.New("User still has linked session/chat records")
	ErrAssistantsRequired  = errors.New("assistantIds must not be empty")
	ErrUnknownAssistant    = errors.New("unknown assistant")
	ErrInvalidToken        = errors.New("invalid or expired token")
)

// DefaultTokenTTL matches the lifetime of login sessions.
const DefaultTokenTTL = 2 * time.Hour

// Config tunes the service.
type Config struct {
	TokenTTL   time.Duration
	BcryptCost int
}

// Service implements login, token checks, and account administration.
type Service struct {
	repo       store.Repository
	assistants assistant.Store
	ttl        time.Duration
	cost       int
	now        func() time.Time
}

// NewService wires the repository and assistant registry.
func NewService(repo store.Repository, assistants assistant.Store, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		assistants: assistants,
		ttl:        cfg.TokenTTL,
		cost:       cfg.BcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is the payload for a new console user.
type CreateInput struct {
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	AssistantIDs []string `json:"assistantIds"`
}

// UpdateInput changes any subset of a user's fields. A nil AssistantIDs
// leaves grants untouched.
type UpdateInput struct {
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	AssistantIDs *[]string `json:"assistantIds"`
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token string       `json:"token"`
	User  user.Profile `json:"user"`
}

// Login checks credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrCredentialsRequired
	}

	u, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	tok := user.Token{Value: uuid.NewString(), UserID: u.ID, ExpiresAt: s.now().Add(s.ttl)}
	if err := s.repo.SaveToken(ctx, tok); err != nil {
		return LoginResult{}, err
	}
	log.Info().Str("user", u.Username).Msg("login")
	return LoginResult{Token: tok.Value, User: u.Profile()}, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (user.User, error) {
	if token == "" {
		return user.User{}, ErrInvalidToken
	}
	tok, err := s.repo.GetToken(ctx, token, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return user.User{}, ErrInvalidToken
	}
	if err != nil {
		return user.User{}, err
	}

	u, err := s.repo.GetUser(ctx, tok.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return user.User{}, ErrInvalidToken
	}
	return u, err
}

// Create registers a user with role "user". An empty grant list grants
// every enabled assistant.
func (s *Service) Create(ctx context.Context, in CreateInput) (user.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return user.User{}, ErrCredentialsRequired
	}

	grants := in.AssistantIDs
	if len(grants) == 0 {
		grants = s.allAssistantKeys()
	} else if err := s.checkAssistants(grants); err != nil {
		return user.User{}, err
	}

	return s.insert(ctx, in.Username, in.Password, user.RoleUser, grants)
}

func (s *Service) insert(ctx context.Context, username, password string, role user.Role, grants []string) (user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return user.User{}, errors.Wrap(err, "hash password")
	}

	now := s.now()
	u := user.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		AssistantIDs: grants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.repo.CreateUser(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		return user.User{}, ErrUserExists
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

// List returns every non-admin user, newest first.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.repo.ListUsers(ctx, user.RoleUser)
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return user.User{}, ErrUserNotFound
	}
	return u, err
}

// Update changes a user's name, password, or grants.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (user.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if name := strings.TrimSpace(in.Username); name != "" {
		u.Username = name
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
		if err != nil {
			return user.User{}, errors.Wrap(err, "hash password")
		}
		u.PasswordHash = string(hash)
	}
	if in.AssistantIDs != nil {
		if len(*in.AssistantIDs) == 0 {
			return user.User{}, ErrAssistantsRequired
		}
		if err := s.checkAssistants(*in.AssistantIDs); err != nil {
			return user.User{}, err
		}
		u.AssistantIDs = *in.AssistantIDs
	}
	u.UpdatedAt = s.now()

	err = s.repo.UpdateUser(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		return user.User{}, ErrUserExists
	}
	if errors.Is(err, store.ErrNotFound) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

// ResetPassword sets a new password.
func (s *Service) ResetPassword(ctx context.Context, id, password string) error {
	if password == "" {
		return ErrCredentialsRequired
	}
	_, err := s.Update(ctx, id, UpdateInput{Password: password})
	return err
}

// Delete removes a user that owns no sessions.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	n, err := s.repo.CountUserSessions(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrUserHasSessions
	}

	err = s.repo.DeleteUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// EnsureAdmin creates the bootstrap administrator when it does not exist.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.repo.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if _, err := s.insert(ctx, username, password, user.RoleAdmin, nil); err != nil {
		return errors.Wrap(err, "create admin")
	}
	log.Info().Str("user", username).Msg("bootstrap admin created")
	return nil
}

// AllowedAssistants returns the enabled assistants u may use.
func (s *Service) AllowedAssistants(u user.User) []assistant.Assistant {
	enabled := assistant.Enabled(s.assistants.List())
	if u.IsAdmin() {
		return enabled
	}

	granted := make(map[string]bool, len(u.AssistantIDs))
	for _, key := range u.AssistantIDs {
		granted[key] = true
	}
	out := make([]assistant.Assistant, 0, len(enabled))
	for _, a := range enabled {
		if granted[a.Key] {
			out = append(out, a)
		}
	}
	return out
}

// CanUse reports whether u may talk to the assistant.
func (s *Service) CanUse(u user.User, assistantKey string) bool {
	for _, a := range s.AllowedAssistants(u) {
		if a.Key == assistantKey {
			return true
		}
	}
	return false
}

// PruneTokens deletes expired tokens.
func (s *Service) PruneTokens(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredTokens(ctx, s.now())
}

func (s *Service) allAssistantKeys() []string {
	enabled := assistant.Enabled(s.assistants.List())
	keys := make([]string, 0, len(enabled))
	for _, a := range enabled {
		keys = append(keys, a.Key)
	}
	return keys
}

func (s *Service) checkAssistants(keys []string) error {
	for _, key := range keys {
		if _, ok := s.assistants.FindByKey(key); !ok {
			return errors.Wrapf(ErrUnknownAssistant, "key %q", key)
		}
	}
	return nil
}
