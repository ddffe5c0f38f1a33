package stopfinder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

// expiryBuffer treats a session as expired slightly before its reported expiry.
const expiryBuffer = 60 * time.Second

// Session is an authenticated upstream session. Its token and client key
// are only readable inside this package.
type Session struct {
	token           string
	clientKey       string
	authenticatedAt time.Time
	expiresAt       time.Time
}

// AuthenticatedAt returns when the login completed.
func (s *Session) AuthenticatedAt() time.Time {
	return s.authenticatedAt
}

// IsExpired reports whether the session is known to be expired at now.
// Without an expiry hint or a max age the session is trusted until the
// upstream rejects it.
func (s *Session) IsExpired(now time.Time, maxAge time.Duration) bool {
	if !s.expiresAt.IsZero() && now.Add(expiryBuffer).After(s.expiresAt) {
		return true
	}
	if maxAge > 0 && now.Sub(s.authenticatedAt) >= maxAge {
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// SessionManager owns the account's session. It is the only component that
// talks to the login endpoints.
type SessionManager struct {
	client *Client
	now    func() time.Time

	mu      sync.Mutex
	current *Session
}

// NewSessionManager creates a session manager on top of client.
func NewSessionManager(client *Client) *SessionManager {
	return &SessionManager{client: client, now: time.Now}
}

// EnsureSession returns the cached session unless it is known to be expired,
// logging in otherwise. Concurrent callers share a single login.
func (m *SessionManager) EnsureSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.IsExpired(m.now(), m.client.config.SessionMaxAge) {
		return m.current, nil
	}
	m.current = nil

	session, err := m.login(ctx)
	if err != nil {
		return nil, err
	}
	m.current = session
	return session, nil
}

// Invalidate drops the cached session so the next EnsureSession logs in again.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.client.logger.Debug("session invalidated", "authenticated_at", m.current.authenticatedAt)
	}
	m.current = nil
}

// CheckConnection performs a fresh login and keeps the resulting session.
func (m *SessionManager) CheckConnection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.login(ctx)
	if err != nil {
		return err
	}
	m.current = session
	return nil
}

// login exchanges the credentials for a token, then looks up the client key
// the schedule endpoint requires.
func (m *SessionManager) login(ctx context.Context) (*Session, error) {
	creds := m.client.config.Credentials
	payload := TokenRequestDTO{
		GrantType:    "password",
		Username:     creds.Email,
		Password:     creds.Password,
		DeviceID:     newDeviceID(),
		RFAPIVersion: APIVersion,
	}

	m.client.logger.Debug("authenticating")

	resp, err := m.client.doRequest(ctx, "Login", http.MethodPost, "/tokens", payload, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.status == http.StatusBadRequest || resp.rejected():
		return nil, shared.NewDomainError("stopfinder", "Login", shared.ErrAuth,
			fmt.Sprintf("credentials rejected (status %d)", resp.status))
	case !resp.ok():
		return nil, shared.NewDomainError("stopfinder", "Login", shared.ErrConnectivity,
			fmt.Sprintf("unexpected status %d: %s", resp.status, resp.message()))
	}

	var token TokenResponseDTO
	if err := json.Unmarshal(resp.body, &token); err != nil {
		return nil, shared.NewParseError("login response", "", err.Error())
	}
	if strings.TrimSpace(token.Token) == "" {
		return nil, shared.NewDomainError("stopfinder", "Login", shared.ErrAuth, "no token in response")
	}

	now := m.now()
	session := &Session{
		token:           token.Token,
		authenticatedAt: now,
	}
	if token.ExpiresIn != nil && *token.ExpiresIn > 0 {
		session.expiresAt = now.Add(time.Duration(*token.ExpiresIn) * time.Second)
	}

	clientKey, err := m.fetchClientKey(ctx, session)
	if err != nil {
		return nil, err
	}
	session.clientKey = clientKey

	m.client.logger.Info("authenticated", "expires_at", session.expiresAt)
	return session, nil
}

// fetchClientKey reads the first clientId from /systems/apiversions.
func (m *SessionManager) fetchClientKey(ctx context.Context, session *Session) (string, error) {
	resp, err := m.client.doRequest(ctx, "ClientKey", http.MethodGet, "/systems/apiversions", nil, session)
	if err != nil {
		return "", err
	}
	if resp.rejected() {
		return "", shared.NewDomainError("stopfinder", "ClientKey", shared.ErrAuth,
			fmt.Sprintf("token rejected (status %d)", resp.status))
	}
	if !resp.ok() {
		return "", shared.NewDomainError("stopfinder", "ClientKey", shared.ErrConnectivity,
			fmt.Sprintf("unexpected status %d: %s", resp.status, resp.message()))
	}

	var versions []APIVersionDTO
	if err := json.Unmarshal(resp.body, &versions); err != nil {
		return "", shared.NewParseError("apiversions response", "", err.Error())
	}
	if len(versions) == 0 || strings.TrimSpace(versions[0].ClientID) == "" {
		return "", shared.NewParseError("apiversions response", "clientId", "missing")
	}
	return versions[0].ClientID, nil
}

// newDeviceID returns 16 random hex characters, the shape the app sends.
func newDeviceID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:16]
}
