package auth

import (
	"context"
	"net/http"

	"github.com/dghubble/oauth1"
	"github.com/torfstack/smog/internal/config"
)

// SmugMugClient returns a client signing every request with OAuth 1.0a
// HMAC-SHA1 using the access token from the environment. Form encoded
// bodies are part of the signature, upload bodies are not.
func SmugMugClient(ctx context.Context, creds config.Credentials) *http.Client {
	cfg := oauth1.NewConfig(creds.SmugMugAPIKey, creds.SmugMugAPISecret)
	return cfg.Client(ctx, oauth1.NewToken(creds.SmugMugToken, creds.SmugMugTokenSecret))
}
