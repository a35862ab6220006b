// Package session owns the authenticated identity, the token pair and the
// shared user cache.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atinyakov/carpool/internal/client/api"
	"github.com/atinyakov/carpool/internal/client/storage"
	"github.com/atinyakov/carpool/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Session is a point-in-time copy of the in-memory session.
type Session struct {
	User   *models.User
	Tokens *models.TokenPair
}

// Manager is the session store. Only Manager writes token storage.
type Manager struct {
	api   *api.Client
	vault *storage.Vault
	log   *zap.Logger

	mu     sync.RWMutex
	user   *models.User
	tokens *models.TokenPair
	users  map[models.ID]models.User
}

// NewManager returns an empty, unauthenticated Manager.
func NewManager(client *api.Client, vault *storage.Vault, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		api:   client,
		vault: vault,
		log:   log,
		users: make(map[models.ID]models.User),
	}
}

type registerPayload struct {
	models.Profile
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

// Register creates the account and logs in with rememberMe set.
func (m *Manager) Register(ctx context.Context, profile models.Profile, password, passwordConfirm string) error {
	payload := registerPayload{Profile: profile, Password: password, Password2: passwordConfirm}
	if err := m.api.Post(ctx, "/auth/register/", payload, nil); err != nil {
		var te *api.TransportError
		if errors.As(err, &te) && te.Status == http.StatusBadRequest {
			return &ValidationError{Fields: te.Fields(), Detail: te.Detail, Err: err}
		}
		return err
	}
	return m.Login(ctx, profile.LoginID, password, true)
}

// Login exchanges credentials for a token pair, stores it in the tier
// selected by rememberMe, and loads the profile.
func (m *Manager) Login(ctx context.Context, loginID, password string, rememberMe bool) error {
	var pair models.TokenPair
	creds := map[string]string{"username": loginID, "password": password}
	if err := m.api.Post(ctx, "/auth/token/", creds, &pair); err != nil {
		var te *api.TransportError
		if errors.As(err, &te) && (te.Status == http.StatusUnauthorized || te.Status == http.StatusBadRequest) {
			return &AuthenticationError{Detail: te.Detail, Err: err}
		}
		return err
	}

	if err := m.vault.Save(ctx, pair, rememberMe); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}
	m.api.SetAuthToken(pair.Access)

	m.mu.Lock()
	m.tokens = &pair
	m.mu.Unlock()

	if _, err := m.FetchMe(ctx); err != nil {
		return err
	}
	m.log.Info("logged in",
		zap.String("login_id", loginID),
		zap.Bool("remember_me", rememberMe),
	)
	return nil
}

func (m *Manager) storedTokens(ctx context.Context) (models.TokenPair, error) {
	pair, _, err := m.vault.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return models.TokenPair{}, ErrNoToken
	}
	if err != nil {
		return models.TokenPair{}, err
	}
	return pair, nil
}

// FetchMe loads the current user with the stored access token.
func (m *Manager) FetchMe(ctx context.Context) (models.User, error) {
	pair, err := m.storedTokens(ctx)
	if err != nil {
		return models.User{}, err
	}
	if pair.Access == "" {
		return models.User{}, ErrNoToken
	}
	m.api.SetAuthToken(pair.Access)

	var u models.User
	if err := m.api.Get(ctx, "/auth/me/", &u, api.WithBearer(pair.Access)); err != nil {
		return models.User{}, err
	}
	u = models.NormalizeUser(u)

	m.mu.Lock()
	m.user = &u
	m.tokens = &pair
	m.mu.Unlock()

	m.CacheUsers(u)
	return u, nil
}

// CheckAuth restores the session from storage. It never fails: a missing
// token leaves the session empty, and any other problem logs the session
// out. When ctx itself is done the in-memory session is cleared but stored
// tokens are kept.
func (m *Manager) CheckAuth(ctx context.Context) {
	pair, err := m.storedTokens(ctx)
	if errors.Is(err, ErrNoToken) || (err == nil && pair.Access == "") {
		m.clearMemory()
		m.api.ClearAuthToken()
		return
	}
	if err == nil {
		_, err = m.FetchMe(ctx)
	}
	if err == nil {
		return
	}

	m.api.ClearAuthToken()
	m.clearMemory()

	// Interrupted restores keep the stored token.
	if ctx.Err() != nil {
		m.log.Info("session restore interrupted", zap.Error(err))
		return
	}
	m.log.Warn("session restore failed",
		zap.Int("status", api.StatusOf(err)),
		zap.Error(err),
	)
	if cerr := m.vault.Clear(ctx); cerr != nil {
		m.log.Error("failed to clear token storage", zap.Error(cerr))
	}
}

// Logout clears the in-memory session, both tiers and the default header.
// The in-memory session is cleared even when storage fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.clearMemory()
	m.api.ClearAuthToken()
	if err := m.vault.Clear(ctx); err != nil {
		return fmt.Errorf("clear token storage: %w", err)
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new access token and
// writes the pair back to the tier that holds it.
func (m *Manager) Refresh(ctx context.Context) error {
	pair, err := m.storedTokens(ctx)
	if err != nil {
		return err
	}
	if pair.Refresh == "" {
		return ErrNoToken
	}

	var next models.TokenPair
	if err := m.api.Post(ctx, "/auth/token/refresh/", map[string]string{"refresh": pair.Refresh}, &next); err != nil {
		return err
	}
	if next.Refresh == "" {
		next.Refresh = pair.Refresh
	}
	if err := m.vault.Replace(ctx, next); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}
	m.api.SetAuthToken(next.Access)

	m.mu.Lock()
	m.tokens = &next
	m.mu.Unlock()
	return nil
}

// TokenExpiry reports the exp claim of the stored access token. The token
// is decoded, not verified.
func (m *Manager) TokenExpiry(ctx context.Context) (time.Time, error) {
	pair, err := m.storedTokens(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if pair.Access == "" {
		return time.Time{}, ErrNoToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(pair.Access, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("decode access token: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("access token has no exp claim")
	}
	return exp.Time, nil
}

// AccessToken returns the stored access token, read from whichever tier
// holds it.
func (m *Manager) AccessToken(ctx context.Context) (string, bool) {
	pair, err := m.storedTokens(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			m.log.Debug("read access token", zap.Error(err))
		}
		return "", false
	}
	return pair.Access, pair.Access != ""
}

// IsAuthenticated is true iff a current user is loaded.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

// CurrentUser returns the logged-in user.
func (m *Manager) CurrentUser() (models.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return models.User{}, false
	}
	return *m.user, true
}

// Snapshot copies the in-memory session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Session
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	if m.tokens != nil {
		t := *m.tokens
		s.Tokens = &t
	}
	return s
}

// CacheUsers merges users into the shared cache by id. Later writes win.
func (m *Manager) CacheUsers(users ...models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		n := models.NormalizeUser(u)
		m.users[n.ID] = n
	}
}

// UserByID looks up the shared cache. The cache is best-effort.
func (m *Manager) UserByID(id models.ID) (models.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id.Canonical()]
	return u, ok
}

// Reset drops all in-memory state and the default header. Storage is left
// untouched.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.user = nil
	m.tokens = nil
	m.users = make(map[models.ID]models.User)
	m.mu.Unlock()
	m.api.ClearAuthToken()
}

func (m *Manager) clearMemory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	m.tokens = nil
}
