package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	defaultCookieName  = "admin_session"
	defaultCookiePath  = "/"
	defaultLifetime    = 12 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
)

// ErrExpired indicates the stored session is no longer valid due to idle or absolute expiry.
var ErrExpired = errors.New("session expired")

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// User is the identity cached in the session after a successful token check.
type User struct {
	UID    string   `json:"uid"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Active bool     `json:"active"`
}

// Data represents the full persisted session payload.
type Data struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
	CSRFToken  string    `json:"csrfToken,omitempty"`
	User       *User     `json:"user,omitempty"`
}

// Session holds mutable state for the current request lifecycle.
type Session struct {
	data      Data
	destroyed bool
}

// Config controls cookie encoding and lifecycle limits for the session manager.
type Config struct {
	CookieName     string
	HashKey        []byte
	BlockKey       []byte
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieHTTPOnly *bool
	CookieSameSite http.SameSite

	IdleTimeout time.Duration
	Lifetime    time.Duration
	Now         func() time.Time
}

// Manager decodes and persists session state via signed (and optionally encrypted) cookies.
type Manager struct {
	cfg      Config
	codec    *securecookie.SecureCookie
	now      func() time.Time
	httpOnly bool
}

// NewManager constructs a Manager using the provided configuration.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}

	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime.Seconds()))

	httpOnly := true
	if cfg.CookieHTTPOnly != nil {
		httpOnly = *cfg.CookieHTTPOnly
	}

	return &Manager{
		cfg:      cfg,
		codec:    codec,
		now:      nowFn,
		httpOnly: httpOnly,
	}, nil
}

// GenerateKey returns a random key suitable for HashKey or BlockKey.
func GenerateKey(length int) []byte {
	return securecookie.GenerateRandomKey(length)
}

// Load retrieves the session from the incoming request or creates a new one.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.New(), nil
	}

	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil {
		return m.New(), nil
	}

	sess := m.sessionFromData(stored)
	if m.isExpired(sess, m.now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// Save writes the session back to the response as a cookie. Destroyed sessions clear the cookie.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}

	if sess.destroyed {
		http.SetCookie(w, m.expiredCookie())
		return nil
	}

	sess.Touch(m.now())

	encoded, err := m.codec.Encode(m.cfg.CookieName, sess.data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	cookie := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: m.httpOnly,
		SameSite: m.cfg.CookieSameSite,
	}

	if expiry := sess.data.ExpiresAt; !expiry.IsZero() {
		cookie.Expires = expiry.UTC()
		remaining := expiry.Sub(m.now())
		if remaining <= 0 {
			cookie.MaxAge = -1
		} else {
			cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
		}
	}

	http.SetCookie(w, cookie)
	return nil
}

// Destroy invalidates the session cookie immediately.
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, m.expiredCookie())
}

// New returns a new empty session instance using the manager configuration.
func (m *Manager) New() *Session {
	now := m.now().UTC()
	return &Session{
		data: Data{
			ID:         mustGenerateToken(32),
			CreatedAt:  now,
			LastActive: now,
			ExpiresAt:  now.Add(m.cfg.Lifetime),
		},
	}
}

func (m *Manager) sessionFromData(d Data) *Session {
	if d.ID == "" {
		d.ID = mustGenerateToken(32)
		d.CreatedAt = m.now().UTC()
		d.LastActive = d.CreatedAt
		d.ExpiresAt = d.CreatedAt.Add(m.cfg.Lifetime)
	}
	return &Session{data: d}
}

func (m *Manager) isExpired(sess *Session, now time.Time) bool {
	if sess == nil {
		return true
	}
	now = now.UTC()

	if !sess.data.ExpiresAt.IsZero() && now.After(sess.data.ExpiresAt.UTC()) {
		return true
	}

	last := sess.data.LastActive
	if last.IsZero() {
		last = sess.data.CreatedAt
	}
	return !last.IsZero() && now.Sub(last) > m.cfg.IdleTimeout
}

func (m *Manager) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: m.httpOnly,
		SameSite: m.cfg.CookieSameSite,
	}
}

// ID returns the stable session identifier.
func (s *Session) ID() string {
	return s.data.ID
}

// CreatedAt returns the session creation timestamp.
func (s *Session) CreatedAt() time.Time {
	return s.data.CreatedAt
}

// ExpiresAt returns the absolute expiry timestamp for the session.
func (s *Session) ExpiresAt() time.Time {
	return s.data.ExpiresAt
}

// EnsureCSRFToken returns the existing CSRF token or generates a new one on demand.
func (s *Session) EnsureCSRFToken() (string, error) {
	if s.data.CSRFToken != "" {
		return s.data.CSRFToken, nil
	}
	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	s.data.CSRFToken = token
	return token, nil
}

// CSRFToken returns the stored CSRF token value.
func (s *Session) CSRFToken() string {
	return s.data.CSRFToken
}

// User returns the persisted user profile, if present.
func (s *Session) User() *User {
	return s.data.User
}

// SetUser updates the session user profile.
func (s *Session) SetUser(user *User) {
	if equalUsers(s.data.User, user) {
		return
	}
	if user == nil {
		s.data.User = nil
		return
	}

	copied := *user
	if copied.Roles != nil {
		copied.Roles = append([]string(nil), copied.Roles...)
	}
	s.data.User = &copied
}

// Destroy marks the session for deletion at the end of the request.
func (s *Session) Destroy() {
	s.destroyed = true
}

// Destroyed exposes the destroy marker.
func (s *Session) Destroyed() bool {
	return s.destroyed
}

// Touch updates the last active timestamp.
func (s *Session) Touch(now time.Time) {
	now = now.UTC()
	if now.After(s.data.LastActive) {
		s.data.LastActive = now
	}
}

func equalUsers(a, b *User) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.UID != b.UID || a.Email != b.Email || a.Active != b.Active {
		return false
	}
	if len(a.Roles) != len(b.Roles) {
		return false
	}
	for i := range a.Roles {
		if a.Roles[i] != b.Roles[i] {
			return false
		}
	}
	return true
}

func mustGenerateToken(length int) string {
	token, err := generateToken(length)
	if err != nil {
		panic(err)
	}
	return token
}

func generateToken(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
