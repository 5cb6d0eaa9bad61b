// Package services contains the application services of the sync client:
// the credential service and the edit/read model the presentation layer
// talks to.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
)

// Identity is the signed-in user as the credential describes it.
type Identity struct {
	UserID  string
	Expires time.Time
}

// AuthService manages the device credential.
//
// Contract:
//   - Login: install an access token and persist it for later runs.
//   - Logout: drop the token and its persisted copy.
//   - Whoami: report the current identity, or auth.ErrNoCredentials.
//   - Ping: check that the document service answers.
type AuthService interface {
	Login(ctx context.Context, token string) (Identity, error)
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) (Identity, error)
	Ping(ctx context.Context) error
}

// Pinger is the liveness probe of the remote.
type Pinger interface {
	Ping(ctx context.Context) error
}

type authService struct {
	tokens    *auth.TokenAuthenticator
	remote    Pinger
	tokenFile string
}

// NewAuthService binds the credential holder to its token file. tokenFile
// may be empty, in which case nothing is persisted.
func NewAuthService(tokens *auth.TokenAuthenticator, remote Pinger, tokenFile string) AuthService {
	return &authService{tokens: tokens, remote: remote, tokenFile: tokenFile}
}

func (a *authService) Login(ctx context.Context, token string) (Identity, error) {
	userID, expires, err := auth.ParseToken(token)
	if err != nil {
		return Identity{}, err
	}
	if a.tokenFile != "" {
		if err := auth.SaveFile(a.tokenFile, token); err != nil {
			return Identity{}, fmt.Errorf("save token: %w", err)
		}
	}
	if err := a.tokens.SetToken(token); err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Expires: expires}, nil
}

func (a *authService) Logout(ctx context.Context) error {
	a.tokens.Clear()
	if a.tokenFile == "" {
		return nil
	}
	if err := os.Remove(a.tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

func (a *authService) Whoami(ctx context.Context) (Identity, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return Identity{}, err
	}
	userID, expires, err := auth.ParseToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Expires: expires}, nil
}

func (a *authService) Ping(ctx context.Context) error {
	return a.remote.Ping(ctx)
}
