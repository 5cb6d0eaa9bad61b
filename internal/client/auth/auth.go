// Package auth holds the device's credential: an access token issued by
// the document service. It answers who the current user is, whether the
// credential is still fresh, and announces identity changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/notesync/internal/filex"
)

var (
	ErrNoCredentials = errors.New("not signed in")
	ErrExpired       = errors.New("credential expired")
)

// Authenticator is what the sync core needs from the credential holder.
type Authenticator interface {
	// CurrentIdentity returns the signed-in user id.
	CurrentIdentity() (string, bool)

	// Token returns the access token to attach to remote calls.
	Token(ctx context.Context) (string, error)

	// Check fails with ErrExpired or ErrNoCredentials when remote calls
	// cannot succeed.
	Check(ctx context.Context) error

	// Subscribe delivers the new user id ("" after sign-out) on every
	// identity change.
	Subscribe() (<-chan string, func())
}

// TokenAuthenticator reads identity and expiry from the token's claims
// without verifying the signature; the server does that.
type TokenAuthenticator struct {
	mu      sync.Mutex
	token   string
	userID  string
	expires time.Time
	now     func() time.Time

	nextSub int
	subs    map[int]chan string
}

func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{now: time.Now, subs: map[int]chan string{}}
}

// ParseToken extracts subject and expiry from an access token.
func ParseToken(token string) (userID string, expires time.Time, err error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", time.Time{}, errors.New("parse token: missing subject")
	}
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return claims.Subject, expires, nil
}

// SetToken installs a new credential. Subscribers are told when the user
// changes.
func (a *TokenAuthenticator) SetToken(token string) error {
	token = strings.TrimSpace(token)
	userID, exp, err := ParseToken(token)
	if err != nil {
		return err
	}

	a.mu.Lock()
	changed := userID != a.userID
	a.token, a.userID, a.expires = token, userID, exp
	a.mu.Unlock()

	if changed {
		a.broadcast(userID)
	}
	return nil
}

// Clear signs the user out.
func (a *TokenAuthenticator) Clear() {
	a.mu.Lock()
	changed := a.userID != ""
	a.token, a.userID, a.expires = "", "", time.Time{}
	a.mu.Unlock()

	if changed {
		a.broadcast("")
	}
}

func (a *TokenAuthenticator) CurrentIdentity() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID, a.userID != ""
}

func (a *TokenAuthenticator) Token(ctx context.Context) (string, error) {
	if err := a.Check(ctx); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token, nil
}

func (a *TokenAuthenticator) Check(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == "" {
		return ErrNoCredentials
	}
	if !a.expires.IsZero() && !a.now().Before(a.expires) {
		return ErrExpired
	}
	return nil
}

func (a *TokenAuthenticator) Subscribe() (<-chan string, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan string, 1)
	a.subs[id] = ch

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}

// broadcast keeps only the latest identity in each subscriber channel.
func (a *TokenAuthenticator) broadcast(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		ch <- userID
	}
}

// LoadFile installs the token stored at path, if any.
func (a *TokenAuthenticator) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return a.SetToken(string(data))
}

// SaveFile persists token for later runs, creating its directory.
func SaveFile(path, token string) error {
	if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}
