package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type EphemeralMode string

const (
	EphemeralMemory EphemeralMode = "memory"
	EphemeralRedis  EphemeralMode = "redis"
)

// EphemeralStore is a minimal key-value interface used for short-lived login state.
// Implementations should honor TTL on Set and treat missing keys as (found=false, err=nil).
type EphemeralStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// ErrAttemptNotFound is returned when an attempt token is unknown or expired.
var ErrAttemptNotFound = errors.New("attempt_not_found")

const (
	keyAttempt = "phoneauth:attempt:"

	// DefaultAttemptTTL bounds how long a caller may take between steps.
	DefaultAttemptTTL = 15 * time.Minute
)

func (s *Service) WithEphemeralStore(store EphemeralStore, mode EphemeralMode) *Service {
	if mode == "" {
		mode = EphemeralMemory
	}
	s.ephemeralStore = store
	s.ephemeralMode = mode
	return s
}

// EphemeralStore returns the attached store, or nil.
func (s *Service) EphemeralStore() EphemeralStore {
	if s == nil {
		return nil
	}
	return s.ephemeralStore
}

func (s *Service) EphemeralMode() EphemeralMode {
	if s == nil || s.ephemeralMode == "" {
		return EphemeralMemory
	}
	return s.ephemeralMode
}

// IsDevEnvironment reports whether the current ENV/APP_ENV/ENVIRONMENT is non-production.
func IsDevEnvironment() bool {
	return isDevEnvironment(getEnvironment())
}

func (s *Service) useEphemeralStore() bool {
	return s != nil && s.ephemeralStore != nil
}

// SaveAttempt stores a for an adapter that keeps attempts server-side, returning the opaque
// token the client presents on later steps. Pass an empty token to mint a new one.
func (s *Service) SaveAttempt(ctx context.Context, token string, a Attempt, ttl time.Duration) (string, error) {
	if !s.useEphemeralStore() {
		return "", fmt.Errorf("ephemeral store unavailable")
	}
	if token == "" {
		token = randB64(24)
	}
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	if err := s.ephemeralStore.Set(ctx, keyAttempt+token, b, ttl); err != nil {
		return "", err
	}
	return token, nil
}

// LoadAttempt returns the attempt stored under token, or ErrAttemptNotFound.
func (s *Service) LoadAttempt(ctx context.Context, token string) (Attempt, error) {
	if !s.useEphemeralStore() {
		return Attempt{}, fmt.Errorf("ephemeral store unavailable")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Attempt{}, ErrAttemptNotFound
	}
	b, ok, err := s.ephemeralStore.Get(ctx, keyAttempt+token)
	if err != nil {
		return Attempt{}, err
	}
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	var a Attempt
	if err := json.Unmarshal(b, &a); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// DiscardAttempt removes a terminal attempt so it cannot be reused.
func (s *Service) DiscardAttempt(ctx context.Context, token string) error {
	if !s.useEphemeralStore() {
		return fmt.Errorf("ephemeral store unavailable")
	}
	return s.ephemeralStore.Del(ctx, keyAttempt+token)
}

func randB64(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// getEnvironment reads the environment from ENV, APP_ENV, or ENVIRONMENT variables
func getEnvironment() string {
	env := os.Getenv("ENV")
	if env == "" {
		env = os.Getenv("APP_ENV")
	}
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	return env
}

// isDevEnvironment returns true unless the environment is explicitly set to prod/production
func isDevEnvironment(env string) bool {
	e := strings.ToLower(strings.TrimSpace(env))
	return e != "prod" && e != "production"
}
