package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"algodesk/internal/broker"
	"algodesk/internal/model"
	"algodesk/internal/types"

	"github.com/rs/zerolog"
)

var (
	ErrNotAuthenticated   = errors.New("session is not authenticated")
	ErrExchangeInProgress = errors.New("an authorization code is already being exchanged")
)

// Authenticator is the part of the broker the session lifecycle needs.
type Authenticator interface {
	LoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (model.Credential, error)
	FetchProfile(ctx context.Context, token string) (model.UserProfile, error)
}

type Transition struct {
	From   types.SessionState `json:"from"`
	To     types.SessionState `json:"to"`
	Reason string             `json:"reason"`
	At     time.Time          `json:"at"`
}

// Snapshot is a read-only view of the session for handlers and health.
type Snapshot struct {
	State          types.SessionState `json:"state"`
	Profile        *model.UserProfile `json:"profile,omitempty"`
	HasCredential  bool               `json:"has_credential"`
	ProfilePending bool               `json:"profile_pending"`
	Source         string             `json:"source,omitempty"`
	IssuedAt       time.Time          `json:"issued_at,omitempty"`
	Since          time.Time          `json:"since"`
	LastError      string             `json:"last_error,omitempty"`
}

// Manager owns the credential and profile. It never holds its lock across a
// broker call, and listeners are notified after the lock is released.
type Manager struct {
	auth   Authenticator
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	mu             sync.RWMutex
	state          types.SessionState
	since          time.Time
	cred           *model.Credential
	profile        *model.UserProfile
	profileLoading bool
	lastCode       string
	lastErr        string
	gen            uint64

	profileMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []func(Transition)
}

func NewManager(auth Authenticator, store Store, logger zerolog.Logger) *Manager {
	return &Manager{
		auth:   auth,
		store:  store,
		logger: logger,
		now:    time.Now,
		state:  types.SessionUnauthenticated,
		since:  time.Now().UTC(),
	}
}

// Subscribe registers fn for every subsequent transition.
func (m *Manager) Subscribe(fn func(Transition)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

func (m *Manager) LoginURL(state string) string {
	return m.auth.LoginURL(state)
}

// Restore loads a persisted token when nothing is held in memory. The
// session becomes Authenticated with the profile still to be fetched.
func (m *Manager) Restore() (bool, error) {
	m.mu.Lock()
	if m.cred != nil {
		m.mu.Unlock()
		return true, nil
	}
	saved, err := m.store.Load()
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	if saved.IsNone() {
		m.mu.Unlock()
		return false, nil
	}
	cred := saved.Unwrap()
	m.cred = &cred
	m.profile = nil
	t := m.setStateLocked(types.SessionAuthenticated, "restored from disk")
	m.mu.Unlock()

	m.notify(t)
	return true, nil
}

// HandleCode exchanges a one-time authorization code for a credential and
// persists it. Codes are never retried, and a code already consumed by this
// process is rejected.
func (m *Manager) HandleCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return &broker.AuthError{Op: "exchange", Reason: "empty authorization code"}
	}

	m.mu.Lock()
	if m.state == types.SessionExchangingCode {
		m.lastErr = ErrExchangeInProgress.Error()
		m.mu.Unlock()
		return ErrExchangeInProgress
	}
	if code == m.lastCode {
		err := &broker.AuthError{Op: "exchange", Reason: "authorization code already used"}
		m.lastErr = err.Error()
		m.mu.Unlock()
		return err
	}
	m.lastCode = code
	prev := m.state
	t := m.setStateLocked(types.SessionExchangingCode, "authorization code received")
	gen := m.gen
	m.mu.Unlock()
	m.notify(t)

	cred, err := m.auth.ExchangeCode(ctx, code)

	m.mu.Lock()
	// A logout or expiry during the exchange wins over its result.
	if m.gen != gen {
		m.mu.Unlock()
		m.logger.Info().Msg("session ended during code exchange, credential discarded")
		return ErrNotAuthenticated
	}
	if err != nil {
		m.lastErr = err.Error()
		back := types.SessionUnauthenticated
		if prev == types.SessionAuthenticated && m.cred != nil {
			back = types.SessionAuthenticated
		}
		t := m.setStateLocked(back, "code exchange failed")
		m.mu.Unlock()
		m.logger.Warn().Err(err).Msg("authorization code exchange failed")
		m.notify(t)
		return err
	}
	if saveErr := m.store.Save(cred); saveErr != nil {
		m.logger.Error().Err(saveErr).Msg("persist token")
	}
	m.cred = &cred
	m.profile = nil
	m.lastErr = ""
	t = m.setStateLocked(types.SessionAuthenticated, "code exchanged")
	m.mu.Unlock()

	m.logger.Info().Msg("session authenticated")
	m.notify(t)
	return nil
}

// EnsureProfile loads the user profile once per credential. Any failure is
// treated as an invalid credential: the token is dropped from memory and
// disk and the session returns to Unauthenticated.
func (m *Manager) EnsureProfile(ctx context.Context) (model.UserProfile, error) {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()

	m.mu.Lock()
	if m.state != types.SessionAuthenticated || m.cred == nil {
		m.mu.Unlock()
		return model.UserProfile{}, ErrNotAuthenticated
	}
	if m.profile != nil {
		p := *m.profile
		m.mu.Unlock()
		return p, nil
	}
	token := m.cred.AccessToken
	m.profileLoading = true
	m.mu.Unlock()

	p, err := m.auth.FetchProfile(ctx, token)

	m.mu.Lock()
	m.profileLoading = false
	if m.cred == nil || m.cred.AccessToken != token {
		m.mu.Unlock()
		return model.UserProfile{}, ErrNotAuthenticated
	}
	if err != nil {
		m.lastErr = "session is no longer valid, please log in again"
		failed := m.setStateLocked(types.SessionProfileFailed, err.Error())
		m.cred = nil
		m.profile = nil
		clearErr := m.store.Clear()
		out := m.setStateLocked(types.SessionUnauthenticated, "profile fetch failed")
		m.mu.Unlock()

		m.logger.Warn().Err(err).Msg("profile fetch failed, credential dropped")
		if clearErr != nil {
			m.logger.Error().Err(clearErr).Msg("clear persisted token")
		}
		m.notify(failed)
		m.notify(out)
		return model.UserProfile{}, err
	}
	m.profile = &p
	m.mu.Unlock()
	m.logger.Info().Str("user_id", p.UserID).Msg("profile loaded")
	return p, nil
}

// Logout drops the credential and profile and deletes the token file. It is
// safe to call while already logged out.
func (m *Manager) Logout() error {
	return m.drop("logout")
}

// Expire behaves like Logout but only acts when a credential is held.
func (m *Manager) Expire(reason string) bool {
	m.mu.RLock()
	held := m.cred != nil
	m.mu.RUnlock()
	if !held {
		return false
	}
	if err := m.drop(reason); err != nil {
		m.logger.Error().Err(err).Msg("clear persisted token")
	}
	return true
}

func (m *Manager) drop(reason string) error {
	m.mu.Lock()
	m.gen++
	m.cred = nil
	m.profile = nil
	err := m.store.Clear()
	var t *Transition
	if m.state != types.SessionUnauthenticated {
		tr := m.setStateLocked(types.SessionUnauthenticated, reason)
		t = &tr
	}
	m.mu.Unlock()

	if t != nil {
		m.logger.Info().Str("reason", reason).Msg("session ended")
		m.notify(*t)
	}
	return err
}

// Token returns the bearer token while the session is Authenticated.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != types.SessionAuthenticated || m.cred == nil {
		return "", false
	}
	return m.cred.AccessToken, true
}

func (m *Manager) State() types.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		State:          m.state,
		HasCredential:  m.cred != nil,
		ProfilePending: m.profileLoading,
		Since:          m.since,
		LastError:      m.lastErr,
	}
	if m.cred != nil {
		s.Source = m.cred.Source
		s.IssuedAt = m.cred.IssuedAt
	}
	if m.profile != nil {
		p := *m.profile
		s.Profile = &p
	}
	return s
}

// Reject records a login failure detected before any exchange started, for
// display on the landing page.
func (m *Manager) Reject(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// TakeError returns the last user-facing error once and clears it.
func (m *Manager) TakeError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.lastErr
	m.lastErr = ""
	return msg
}

func (m *Manager) setStateLocked(to types.SessionState, reason string) Transition {
	t := Transition{From: m.state, To: to, Reason: reason, At: m.now().UTC()}
	m.state = to
	m.since = t.At
	return t
}

func (m *Manager) notify(t Transition) {
	m.listenersMu.Lock()
	fns := append([]func(Transition){}, m.listeners...)
	m.listenersMu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}
