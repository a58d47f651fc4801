package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Duration wraps time.Duration so YAML configs can say "90s" or "1h".
// A bare integer is taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig  `yaml:"app"`
	Cache       CacheConfig        `yaml:"cache"`
	Collections []CollectionConfig `yaml:"collections"`
	Projects    []ProjectConfig    `yaml:"projects"`
	Source      SourceConfig       `yaml:"source"`
	Auth        AuthConfig         `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("collections: at least one collection is required")
	}
	seen := make(map[string]bool, len(c.Collections))
	for i := range c.Collections {
		if err := c.Collections[i].Validate(); err != nil {
			return fmt.Errorf("collections[%d]: %w", i, err)
		}
		if seen[c.Collections[i].ID] {
			return fmt.Errorf("collections: duplicate id %q", c.Collections[i].ID)
		}
		seen[c.Collections[i].ID] = true
	}
	names := make(map[string]bool, len(c.Projects))
	for i := range c.Projects {
		if err := c.Projects[i].Validate(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
		if names[c.Projects[i].Name] {
			return fmt.Errorf("projects: duplicate name %q", c.Projects[i].Name)
		}
		names[c.Projects[i].Name] = true
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	LogFile  string     `yaml:"log_file"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CacheConfig holds the SQLite metadata cache configuration. TTL is the
// staleness horizon: records older than it count as stale and are picked
// up by the sweeper when sweeping is enabled.
type CacheConfig struct {
	Path  string      `yaml:"path"`
	TTL   Duration    `yaml:"ttl"`
	Sweep SweepConfig `yaml:"sweep"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	); err != nil {
		return err
	}
	if c.TTL < 0 {
		return fmt.Errorf("cache: ttl must not be negative")
	}
	return c.Sweep.Validate()
}

// SweepConfig controls the periodic staleness sweep.
type SweepConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// Validate validates the sweep configuration.
func (c *SweepConfig) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return fmt.Errorf("cache: sweep interval must be positive when sweeping is enabled")
	}
	return nil
}

// CollectionConfig names one collection root on disk.
type CollectionConfig struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// Validate validates one collection entry.
func (c *CollectionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Path, validation.Required),
	)
}

// ProjectConfig names one deployment target directory.
type ProjectConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Validate validates one project entry.
func (c *ProjectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Path, validation.Required),
	)
}

// SourceConfig holds upstream fetch configuration.
type SourceConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("source: timeout must not be negative")
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Cache: CacheConfig{
			Path: "./raido.db",
			TTL:  Duration(time.Hour),
			Sweep: SweepConfig{
				Enabled:  true,
				Interval: Duration(5 * time.Minute),
			},
		},
		Collections: []CollectionConfig{
			{ID: "main", Path: "./collection"},
		},
		Source: SourceConfig{
			Timeout: Duration(30 * time.Second),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
