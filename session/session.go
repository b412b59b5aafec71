// Package session persists authenticated phone logins as a server-side record plus a sealed
// cookie. Manager.Writer is the core.SessionBridge used by the HTTP adapters.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"

	"github.com/open-rails/phoneauth/core"
)

const (
	DefaultCookieName = "wos_session"
	DefaultTTL        = 24 * time.Hour
	MinPasswordLength = 32

	keySession = "phoneauth:session:"
	hkdfInfo   = "phoneauth-session-cookie"
)

// ErrNoSession is returned when the request carries no valid session.
var ErrNoSession = errors.New("no_session")

// Record is the server-side session state.
type Record struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	Email          string `json:"email"`
	AccessToken    string `json:"access_token,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`

	// AccessTokenExpiresAt is the access token's exp claim, zero when it carries none. The
	// session outlives it; callers refresh with RefreshToken.
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
}

type Config struct {
	// CookiePassword seeds the cookie encryption key. At least MinPasswordLength bytes.
	CookiePassword string
	CookieName     string
	CookieDomain   string
	CookiePath     string
	// Secure marks the cookie Secure; set in production.
	Secure bool
	// TTL bounds the stored record and the cookie. Access tokens are short-lived and do not
	// shorten it.
	TTL time.Duration
}

type Manager struct {
	store core.EphemeralStore
	key   []byte
	cfg   Config
	now   func() time.Time
}

type cookiePayload struct {
	SessionID string `json:"sid"`
	Expires   int64  `json:"exp"`
}

func NewManager(store core.EphemeralStore, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: ephemeral store is required")
	}
	if len(cfg.CookiePassword) < MinPasswordLength {
		return nil, fmt.Errorf("session: cookie password must be at least %d characters", MinPasswordLength)
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	key, err := deriveKey(cfg.CookiePassword)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, key: key, cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the time source (tests).
func (m *Manager) WithClock(now func() time.Time) *Manager { m.now = now; return m }

func (m *Manager) CookieName() string { return m.cfg.CookieName }

// Writer returns a bridge that persists the session and sets the cookie on w.
func (m *Manager) Writer(w http.ResponseWriter) core.SessionBridge {
	return core.SessionBridgeFunc(func(ctx context.Context, resp core.AuthenticationResponse) error {
		rec, value, err := m.Create(ctx, resp)
		if err != nil {
			return err
		}
		http.SetCookie(w, m.cookie(value, rec.ExpiresAt))
		return nil
	})
}

// Create stores a session for resp and returns the record and its sealed cookie value.
func (m *Manager) Create(ctx context.Context, resp core.AuthenticationResponse) (Record, string, error) {
	if resp.User.ID == "" {
		return Record{}, "", errors.New("session: authentication response has no user")
	}
	now := m.now()
	rec := Record{
		ID:             newSessionID(),
		UserID:         resp.User.ID,
		OrganizationID: resp.OrganizationID,
		Email:          resp.User.Email,
		AccessToken:    resp.AccessToken,
		RefreshToken:   resp.RefreshToken,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.TTL),
	}
	rec.AccessTokenExpiresAt = accessTokenExpiry(resp.AccessToken)
	b, err := json.Marshal(rec)
	if err != nil {
		return Record{}, "", err
	}
	if err := m.store.Set(ctx, keySession+rec.ID, b, rec.ExpiresAt.Sub(now)); err != nil {
		return Record{}, "", fmt.Errorf("session: store: %w", err)
	}
	value, err := m.seal(cookiePayload{SessionID: rec.ID, Expires: rec.ExpiresAt.Unix()})
	if err != nil {
		_ = m.store.Del(ctx, keySession+rec.ID)
		return Record{}, "", err
	}
	return rec, value, nil
}

// Load resolves the session referenced by the request cookie.
func (m *Manager) Load(r *http.Request) (*Record, error) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	p, err := m.open(c.Value)
	if err != nil || p.SessionID == "" || m.now().Unix() > p.Expires {
		return nil, ErrNoSession
	}
	b, ok, err := m.store.Get(r.Context(), keySession+p.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSession
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Destroy deletes the stored session (if any) and expires the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	var err error
	if c, cerr := r.Cookie(m.cfg.CookieName); cerr == nil && c.Value != "" {
		if p, perr := m.open(c.Value); perr == nil && p.SessionID != "" {
			err = m.store.Del(r.Context(), keySession+p.SessionID)
		}
	}
	ck := m.cookie("", time.Unix(0, 0))
	ck.MaxAge = -1
	http.SetCookie(w, ck)
	return err
}

func (m *Manager) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  expires,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// accessTokenExpiry reads exp from the platform-signed token without verifying it.
func accessTokenExpiry(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (m *Manager) seal(p cookiePayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	out, err := jwe.Encrypt(raw, jwe.WithKey(jwa.DIRECT, m.key), jwe.WithContentEncryption(jwa.A256GCM))
	if err != nil {
		return "", fmt.Errorf("session: seal cookie: %w", err)
	}
	return string(out), nil
}

func (m *Manager) open(value string) (cookiePayload, error) {
	raw, err := jwe.Decrypt([]byte(value), jwe.WithKey(jwa.DIRECT, m.key))
	if err != nil {
		return cookiePayload{}, err
	}
	var p cookiePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return cookiePayload{}, err
	}
	return p, nil
}

func deriveKey(password string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(password), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return key, nil
}

func newSessionID() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base58.Encode(b)
}
