package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/torfstack/smog/internal/util"
	"go.uber.org/multierr"
)

// Credentials are never written to the config file; they come from the
// environment, optionally seeded from a .env file in the working directory.
type Credentials struct {
	SmugMugAPIKey      string `env:"SMUGMUG_API_KEY"`
	SmugMugAPISecret   string `env:"SMUGMUG_API_SECRET"`
	SmugMugToken       string `env:"SMUGMUG_OAUTH_ACCESS_TOKEN"`
	SmugMugTokenSecret string `env:"SMUGMUG_OAUTH_TOKEN_SECRET"`

	GoogleCredentialsFile string `env:"SMOG_GOOGLE_CREDENTIALS"`
}

func LoadCredentials(backend string) (Credentials, error) {
	_ = godotenv.Load()

	var c Credentials
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("could not parse credentials from environment: %w", err)
	}
	if c.GoogleCredentialsFile == "" {
		c.GoogleCredentialsFile = filepath.Join(util.ConfigDir, "credentials.json")
	}
	return c, c.validate(backend)
}

func (c Credentials) validate(backend string) error {
	if backend != BackendSmugMug {
		return nil
	}
	var err error
	for _, v := range []struct{ name, value string }{
		{"SMUGMUG_API_KEY", c.SmugMugAPIKey},
		{"SMUGMUG_API_SECRET", c.SmugMugAPISecret},
		{"SMUGMUG_OAUTH_ACCESS_TOKEN", c.SmugMugToken},
		{"SMUGMUG_OAUTH_TOKEN_SECRET", c.SmugMugTokenSecret},
	} {
		if v.value == "" {
			err = multierr.Append(err, fmt.Errorf("%s is not set", v.name))
		}
	}
	return err
}
