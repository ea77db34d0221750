package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/torfstack/smog/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// TokenStore persists the serialized OAuth2 token. *db.Queries implements it.
type TokenStore interface {
	GetAuthToken(ctx context.Context) (string, error)
	UpdateAuthToken(ctx context.Context, token string) error
}

func DriveService(ctx context.Context, credentialsFile string, store TokenStore) (*drive.Service, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("could not read google credentials: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("could not parse google config: %w", err)
	}

	client, err := driveClient(ctx, config, store)
	if err != nil {
		return nil, fmt.Errorf("could not get client for drive service: %w", err)
	}

	drv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("could not create drive service: %w", err)
	}
	return drv, nil
}

func driveClient(ctx context.Context, config *oauth2.Config, store TokenStore) (*http.Client, error) {
	tokenString, err := store.GetAuthToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read token: %w", err)
	}

	var tok *oauth2.Token
	if tokenString == "" {
		tok, err = getTokenFromWeb(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("could not get token from web: %w", err)
		}
		if err = storeToken(ctx, store, tok); err != nil {
			return nil, err
		}
	} else {
		tok, err = parseToken(tokenString)
		if err != nil {
			return nil, fmt.Errorf("could not parse token: %w", err)
		}
	}

	src := &storingTokenSource{
		ctx:   ctx,
		src:   config.TokenSource(ctx, tok),
		store: store,
		last:  tok.AccessToken,
	}
	return oauth2.NewClient(ctx, src), nil
}

// storingTokenSource persists every refreshed token so the next run does not
// need to go through the browser again.
type storingTokenSource struct {
	ctx   context.Context
	src   oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last string
}

func (s *storingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err = storeToken(s.ctx, s.store, tok); err != nil {
			logging.Warnf("Could not persist refreshed token: %s", err)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}

func storeToken(ctx context.Context, store TokenStore, tok *oauth2.Token) error {
	tokenString, err := serializeToken(tok)
	if err != nil {
		return err
	}
	if err = store.UpdateAuthToken(ctx, tokenString); err != nil {
		return fmt.Errorf("could not save token: %w", err)
	}
	return nil
}

func parseToken(tokenString string) (*oauth2.Token, error) {
	var tok oauth2.Token
	err := json.NewDecoder(strings.NewReader(tokenString)).Decode(&tok)
	if err != nil {
		return nil, fmt.Errorf("could not decode token: %w", err)
	}
	return &tok, nil
}

func serializeToken(token *oauth2.Token) (string, error) {
	t, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("could not serialize token: %w", err)
	}
	return string(t), nil
}
