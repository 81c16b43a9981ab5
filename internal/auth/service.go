package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// dummyHash is verified when the username does not exist so that both failure paths cost
// one argon2id evaluation. It is the hash of a random string nobody knows.
const dummyHash = "$argon2id$v=19$m=65536,t=2,p=1$c29tZXNhbHRzb21lc2FsdA$Gf0F3N1o1xZ1fUq0H6Wqk8cW2rfrp3aRZ0nRuaBP1Lg"

// SessionAuthority issues tokens on login and owns the per-user token version that
// keeps at most one session alive per user.
type SessionAuthority struct {
	store  CredentialStore
	codec  *Codec
	hasher PasswordHasher
	now    func() time.Time
}

// SessionOption configures SessionAuthority.
type SessionOption func(*SessionAuthority)

// WithSessionClock replaces time.Now for login metadata.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionAuthority) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSessionAuthority(store CredentialStore, codec *Codec, hasher PasswordHasher, opts ...SessionOption) (*SessionAuthority, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	if hasher == nil {
		hasher = NewArgon2Hasher(DefaultArgon2Params)
	}
	s := &SessionAuthority{store: store, codec: codec, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Codec exposes the token codec used for issuance.
func (s *SessionAuthority) Codec() *Codec { return s.codec }

// Login authenticates the user, bumps the token version and issues a token bound to it.
// Unknown usernames and wrong passwords both return ErrInvalidCredentials.
func (s *SessionAuthority) Login(ctx context.Context, username, password, origin string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.store.FindUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_, _ = s.hasher.Verify(dummyHash, password)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil || !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	version, err := s.store.RecordLogin(ctx, user.ID, s.now().UTC(), strings.TrimSpace(origin))
	if err != nil {
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}
	roles, err := s.store.ListRolesForUser(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("list roles: %w", err)
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}

	claims := Claims{
		Username:     user.Username,
		Roles:        roleNames,
		TokenVersion: version,
	}
	claims.Subject = user.ID
	token, expiresAt, err := s.codec.Issue(claims, 0)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User: UserSummary{
			ID:          user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			Email:       user.Email,
			Phone:       user.Phone,
			Roles:       roleNames,
		},
	}, nil
}

// ValidateVersion reports whether presented equals the stored token version of userID.
// A missing user is (false, nil); store failures are returned.
func (s *SessionAuthority) ValidateVersion(ctx context.Context, userID string, presented int64) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	user, err := s.store.FindUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.TokenVersion == presented, nil
}

// ForceLogout invalidates every token issued to userID so far.
func (s *SessionAuthority) ForceLogout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	_, err := s.store.IncrementTokenVersion(ctx, userID)
	return err
}

// Logout is ForceLogout applied by the caller to itself.
func (s *SessionAuthority) Logout(ctx context.Context, userID string) error {
	return s.ForceLogout(ctx, userID)
}

func (s *SessionAuthority) LoginInfo(ctx context.Context, userID string) (LoginInfo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return LoginInfo{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return LoginInfo{}, err
	}
	return LoginInfo{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		LastLoginAt: user.LastLoginAt,
		LastLoginIP: user.LastLoginIP,
	}, nil
}
