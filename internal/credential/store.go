package credential

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/storage"
)

// Storage keys. The four keys form one logical record and are always
// written and cleared together.
const (
	keyAccessToken  = "access_token"
	keyTokenExpires = "token_expires"
	keyRefreshToken = "refresh_token"
	keyUser         = "user"
)

// ErrNoSession is returned when no credentials are stored.
var ErrNoSession = errors.New("credential: no active session")

// EventKind distinguishes credential change notifications.
type EventKind int

const (
	// EventUpdated fires after a login or token rotation.
	EventUpdated EventKind = iota
	// EventCleared fires after logout or a terminal auth failure.
	// Subscribers must treat it as a forced logout.
	EventCleared
)

// Store owns the process-wide credential state: the current access/refresh
// pair and the authenticated user, persisted to the durable store so a
// restart resumes the session. All consumers receive it by injection;
// nothing reads the underlying storage keys directly.
type Store struct {
	backing storage.Store
	log     zerolog.Logger

	mu      sync.RWMutex
	user    *model.User
	access  string
	expires time.Time
	refresh string

	subMu sync.Mutex
	subs  []chan EventKind
}

// New builds a Store and rehydrates any persisted session. A persisted
// access token that is already expired is discarded eagerly.
func New(ctx context.Context, backing storage.Store, log zerolog.Logger) (*Store, error) {
	s := &Store{
		backing: backing,
		log:     log.With().Str("component", "credential_store").Logger(),
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	access, err := s.getString(ctx, keyAccessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	expires := s.loadExpiry(ctx, access)
	if !expires.IsZero() && time.Now().After(expires) {
		s.log.Debug().Msg("Persisted access token expired, clearing")
		return s.backing.Delete(ctx, keyAccessToken, keyTokenExpires, keyRefreshToken, keyUser)
	}

	var refresh string
	if v, err := s.getString(ctx, keyRefreshToken); err == nil {
		refresh = v
	}
	var user *model.User
	if raw, err := s.backing.Get(ctx, keyUser); err == nil {
		var u model.User
		if err := json.Unmarshal(raw, &u); err == nil {
			user = &u
		}
	}

	s.mu.Lock()
	s.access = access
	s.expires = expires
	s.refresh = refresh
	s.user = user
	s.mu.Unlock()
	return nil
}

// loadExpiry reads the persisted expiry, falling back to the access
// token's JWT exp claim when the key is missing or unparsable.
func (s *Store) loadExpiry(ctx context.Context, access string) time.Time {
	if raw, err := s.getString(ctx, keyTokenExpires); err == nil {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return expiryFromClaims(access)
}

// expiryFromClaims extracts exp from an unverified JWT. Verification is the
// server's job; the client only needs the timestamp to schedule refreshes.
func expiryFromClaims(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	raw, err := s.backing.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// AccessToken returns the current access token and its expiry.
// ok is false when no session is stored.
func (s *Store) AccessToken() (token string, expires time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.expires, s.access != ""
}

// RefreshToken returns the current refresh token, or "" when absent.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// User returns the authenticated user, or nil when logged out.
func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetSession stores a full login result: user plus token pair.
func (s *Store) SetSession(ctx context.Context, user *model.User, tokens model.TokenPair) error {
	s.mu.Lock()
	s.user = user
	s.applyTokensLocked(tokens)
	s.mu.Unlock()

	if err := s.persist(ctx, user, tokens); err != nil {
		return err
	}
	s.notify(EventUpdated)
	return nil
}

// SetTokens stores a rotated token pair, keeping the current user.
func (s *Store) SetTokens(ctx context.Context, tokens model.TokenPair) error {
	s.mu.Lock()
	s.applyTokensLocked(tokens)
	user := s.user
	s.mu.Unlock()

	if err := s.persist(ctx, user, tokens); err != nil {
		return err
	}
	s.notify(EventUpdated)
	return nil
}

func (s *Store) applyTokensLocked(tokens model.TokenPair) {
	s.access = tokens.Access.Token
	s.expires = tokens.Access.Expires
	if s.expires.IsZero() {
		s.expires = expiryFromClaims(tokens.Access.Token)
	}
	s.refresh = tokens.Refresh.Token
}

func (s *Store) persist(ctx context.Context, user *model.User, tokens model.TokenPair) error {
	s.mu.RLock()
	expires := s.expires
	s.mu.RUnlock()

	if err := s.backing.Set(ctx, keyAccessToken, []byte(tokens.Access.Token)); err != nil {
		return err
	}
	if !expires.IsZero() {
		if err := s.backing.Set(ctx, keyTokenExpires, []byte(expires.Format(time.RFC3339))); err != nil {
			return err
		}
	}
	if tokens.Refresh.Token != "" {
		if err := s.backing.Set(ctx, keyRefreshToken, []byte(tokens.Refresh.Token)); err != nil {
			return err
		}
	}
	if user != nil {
		raw, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := s.backing.Set(ctx, keyUser, raw); err != nil {
			return err
		}
	}
	return nil
}

// Clear wipes the in-memory and persisted session. Storage failures are
// logged but do not prevent the in-memory logout.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	hadSession := s.access != ""
	s.user = nil
	s.access = ""
	s.expires = time.Time{}
	s.refresh = ""
	s.mu.Unlock()

	if err := s.backing.Delete(ctx, keyAccessToken, keyTokenExpires, keyRefreshToken, keyUser); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear persisted credentials")
	}
	if hadSession {
		s.notify(EventCleared)
	}
}

// Subscribe registers a credential change listener. The channel is
// buffered; a slow subscriber drops events rather than blocking the store.
func (s *Store) Subscribe() <-chan EventKind {
	ch := make(chan EventKind, 4)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify(kind EventKind) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- kind:
		default:
		}
	}
}

// RunWatch bridges external slot mutations into the subscription stream.
// When the backing store is shared (Redis), a credential cleared by another
// station logs this one out, and a login there refreshes state here.
// No-op for backends that cannot watch. Blocks until ctx is canceled.
func (s *Store) RunWatch(ctx context.Context) {
	w, ok := s.backing.(storage.Watcher)
	if !ok {
		return
	}
	events, err := w.Watch(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Credential watch unavailable")
		return
	}
	for ev := range events {
		if ev.Key != keyAccessToken {
			continue
		}
		switch ev.Op {
		case storage.OpDelete:
			s.mu.Lock()
			s.user = nil
			s.access = ""
			s.expires = time.Time{}
			s.refresh = ""
			s.mu.Unlock()
			s.notify(EventCleared)
		case storage.OpSet:
			if err := s.reload(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Credential reload failed")
				continue
			}
			s.notify(EventUpdated)
		}
	}
}

func (s *Store) reload(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.access = ""
	s.expires = time.Time{}
	s.refresh = ""
	s.mu.Unlock()
	return s.load(ctx)
}
