// Package auth owns the client-side session lifecycle: the credential vault
// with its durable mirror, and the session manager deriving the current
// session state from it.
package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mjuhola/sessionguard/internal/api"
	"github.com/mjuhola/sessionguard/internal/broadcast"
	"github.com/mjuhola/sessionguard/internal/gateway"
)

// State is the derived session state. It is never persisted; it follows
// from whether credentials exist and whether the profile fetch succeeded.
type State int

const (
	StateUnauthenticated State = iota
	StateInitializing
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Manager is the credential store's lifecycle surface. All credential
// mutations in the process go through its operations (or through the
// gateway's refresh path, which writes via the same vault).
//
// Manager methods never hold the state lock across a network call, so a
// broadcast update arriving mid-operation (for example a refresh failure
// during the profile fetch) cannot deadlock.
type Manager struct {
	client *api.Client
	vault  *Vault
	gw     *gateway.Gateway

	mu      sync.Mutex
	state   State
	user    *api.User
	loading bool

	unsubscribe func()
}

func NewManager(client *api.Client, vault *Vault, gw *gateway.Gateway, bus *broadcast.Bus) *Manager {
	m := &Manager{
		client: client,
		vault:  vault,
		gw:     gw,
	}
	m.unsubscribe = bus.Subscribe(m.onCredentialUpdate)
	return m
}

// Close removes the manager's broadcast subscription.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// onCredentialUpdate keeps the manager's view consistent with credential
// changes produced below it. The vault is already the single truth for the
// pair itself; only a cleared update forces a state transition here.
func (m *Manager) onCredentialUpdate(u broadcast.Update) {
	if !u.Cleared() {
		return
	}

	m.mu.Lock()
	wasAuthenticated := m.state == StateAuthenticated
	m.state = StateUnauthenticated
	m.user = nil
	m.mu.Unlock()

	if wasAuthenticated {
		log.Info().Msg("session ended: credentials cleared by refresh failure")
	}
}

// Initialize restores a persisted session on startup. With a persisted pair
// the state passes through Initializing while the profile is fetched (the
// fetch may exercise the gateway's refresh path); any failure clears all
// credential state. Callers observe Loading() == true until this returns.
func (m *Manager) Initialize(ctx context.Context) error {
	m.setLoading(true)
	defer m.setLoading(false)

	if err := m.vault.Load(ctx); err != nil {
		return err
	}

	if !m.vault.HasPair() {
		m.setState(StateUnauthenticated, nil)
		return nil
	}

	m.setState(StateInitializing, nil)

	user, err := m.fetchProfile(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("session restore failed, clearing credentials")
		m.clearAll(ctx)
		return err
	}

	m.setState(StateAuthenticated, user)
	log.Info().Str("email", user.Email).Msg("session restored")
	return nil
}

// Login authenticates with the backend, persists the returned pair and
// fetches the profile. Any failure leaves no partial credential state and
// is re-raised to the caller.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	resp, err := m.client.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		m.clearAll(ctx)
		return err
	}

	return m.completeSignIn(ctx, resp)
}

// Register creates an account and signs in with the returned pair.
func (m *Manager) Register(ctx context.Context, req api.RegisterRequest) error {
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}
	if err := validateName("firstName", req.FirstName); err != nil {
		return err
	}
	if err := validateName("lastName", req.LastName); err != nil {
		return err
	}

	resp, err := m.client.Register(ctx, req)
	if err != nil {
		m.clearAll(ctx)
		return err
	}

	return m.completeSignIn(ctx, resp)
}

func (m *Manager) completeSignIn(ctx context.Context, resp *api.AuthResponse) error {
	if err := m.vault.SetPair(ctx, resp.Pair()); err != nil {
		m.clearAll(ctx)
		return err
	}

	user, err := m.fetchProfile(ctx)
	if err != nil {
		m.clearAll(ctx)
		return err
	}

	m.setState(StateAuthenticated, user)
	log.Info().Str("email", user.Email).Msg("signed in")
	return nil
}

// Logout notifies the backend best-effort, then unconditionally clears all
// local credential state. This is the only operation that succeeds with the
// network unavailable.
func (m *Manager) Logout(ctx context.Context) {
	if access, ok := m.vault.AccessToken(); ok {
		if err := m.client.Logout(ctx, access); err != nil {
			log.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}

	m.clearAll(ctx)
	log.Info().Msg("signed out")
}

// UpdateProfile applies a partial profile update through the gateway and
// refreshes the cached profile on success.
func (m *Manager) UpdateProfile(ctx context.Context, update api.UserUpdate) (*api.User, error) {
	var user api.User
	if err := m.gw.Do(ctx, http.MethodPut, "/api/users/me", update, &user); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state == StateAuthenticated {
		u := user
		m.user = &u
	}
	m.mu.Unlock()

	return &user, nil
}

// State returns the current derived session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentUser returns a copy of the signed-in user's profile, if any.
func (m *Manager) CurrentUser() (api.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return api.User{}, false
	}
	return *m.user, true
}

// Loading reports whether Initialize is still running. UI that renders
// session info should wait for this to turn false.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// IsAuthenticated reports whether a signed-in session exists.
func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateAuthenticated
}

func (m *Manager) fetchProfile(ctx context.Context) (*api.User, error) {
	var user api.User
	if err := m.gw.Do(ctx, http.MethodGet, "/api/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (m *Manager) clearAll(ctx context.Context) {
	if err := m.vault.Clear(ctx); err != nil {
		// In-memory state is already gone; only the durable mirror failed.
		log.Error().Err(err).Msg("failed to clear persisted credentials")
	}
	m.setState(StateUnauthenticated, nil)
}

func (m *Manager) setState(state State, user *api.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.user = user
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = v
}
