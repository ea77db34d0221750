package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/torfstack/smog/internal/logging"
	"github.com/torfstack/smog/internal/util"
)

const (
	BackendSmugMug = "smugmug"
	BackendDrive   = "drive"
)

var (
	configFilePath = filepath.Join(util.ConfigDir, "config.toml")

	defaultConcurrency       = 8
	defaultRequestsPerSecond = 8.0
	defaultExtensions        = []string{".jpg", ".png"}
	defaultUploadKeyword     = "smog.upload"
	// SmugMug silently drops '-' from keywords, hence the dots.
	defaultRemovedMarker = "smog.upload; smog.removed"
)

type Config struct {
	Backend           string   `toml:"backend"`
	Concurrency       int      `toml:"concurrency"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Extensions        []string `toml:"extensions"`
	UploadKeyword     string   `toml:"upload_keyword"`
	RemovedMarker     string   `toml:"removed_marker"`
	MetricsFile       string   `toml:"metrics_file,omitempty"`
}

func Get() (Config, error) {
	return get(false)
}

func GetInteractive() (Config, error) {
	return get(true)
}

func get(interactive bool) (Config, error) {
	c := Config{}
	f, err := os.Open(configFilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return initConfig(interactive)
	case err != nil:
		return c, fmt.Errorf("could not open config file for reading '%s': %w", configFilePath, err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			logging.Debugf("Could not close config file: %s", err)
		}
	}(f)

	_, err = toml.NewDecoder(f).Decode(&c)
	if err != nil {
		return c, fmt.Errorf("could not decode config file '%s': %w", configFilePath, err)
	}
	c.applyDefaults()
	return c, c.Validate()
}

func initConfig(interactive bool) (Config, error) {
	c := initialConfig()
	if interactive {
		err := guidedInitialization(&c)
		if err != nil {
			return c, fmt.Errorf("could not initialize config interactively: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, c.persist()
}

// Validate reports settings a sync run cannot work with.
func (c *Config) Validate() error {
	if !slices.Contains([]string{BackendSmugMug, BackendDrive}, c.Backend) {
		return fmt.Errorf("invalid backend '%s', expected '%s' or '%s'", c.Backend, BackendSmugMug, BackendDrive)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency %d, must be at least 1", c.Concurrency)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid requests_per_second %v, must be positive", c.RequestsPerSecond)
	}
	if len(c.Extensions) == 0 {
		return errors.New("no content file extensions configured")
	}
	return nil
}

// IsContentFile reports whether name carries one of the configured
// extensions, ignoring case.
func (c *Config) IsContentFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range c.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func (c *Config) persist() error {
	f, err := util.OpenWithParents(configFilePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not open config file for writing '%s': %w", configFilePath, err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			logging.Debugf("Could not close config file: %s", err)
		}
	}(f)

	logging.Debugf("Persisting config file to '%s'", configFilePath)
	err = toml.NewEncoder(f).Encode(c)
	if err != nil {
		return fmt.Errorf("could not persist config to file '%s': %w", configFilePath, err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	d := initialConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if len(c.Extensions) == 0 {
		c.Extensions = d.Extensions
	}
	if c.UploadKeyword == "" {
		c.UploadKeyword = d.UploadKeyword
	}
	if c.RemovedMarker == "" {
		c.RemovedMarker = d.RemovedMarker
	}
}

func initialConfig() Config {
	return Config{
		Backend:           BackendSmugMug,
		Concurrency:       defaultConcurrency,
		RequestsPerSecond: defaultRequestsPerSecond,
		Extensions:        slices.Clone(defaultExtensions),
		UploadKeyword:     defaultUploadKeyword,
		RemovedMarker:     defaultRemovedMarker,
	}
}
