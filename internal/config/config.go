// Package config loads deskbridge configuration with viper: defaults
// registered here, then a YAML/TOML/JSON file, then DESKBRIDGE_*
// environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // comments.timezone must resolve on hosts without zoneinfo

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zxperience/deskbridge/internal/transform"
	"github.com/zxperience/deskbridge/internal/types"
)

// EnvPrefix is prepended to every environment override (DESKBRIDGE_INTERVAL, ...).
const EnvPrefix = "DESKBRIDGE"

const redacted = "****"

// Config is the effective configuration of one process.
type Config struct {
	Interval time.Duration  `mapstructure:"interval" yaml:"interval"`
	Fanout   int            `mapstructure:"fanout" yaml:"fanout"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Governor GovernorConfig `mapstructure:"governor" yaml:"governor"`
	Dates    DatesConfig    `mapstructure:"dates" yaml:"dates"`
	Comments CommentsConfig `mapstructure:"comments" yaml:"comments"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`

	// Zendesk holds credentials inherited by links that set none.
	Zendesk types.Credentials  `mapstructure:"zendesk" yaml:"zendesk,omitempty"`
	Links   []types.TenantLink `mapstructure:"links" yaml:"links"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type GovernorConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	DefaultWait   time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
}

type DatesConfig struct {
	// Offset is the UTC offset dates are read and written in, e.g. "-03:00".
	Offset string `mapstructure:"offset" yaml:"offset"`
}

type CommentsConfig struct {
	PublishMarker  string   `mapstructure:"publish_marker" yaml:"publish_marker"`
	ClosedStatuses []string `mapstructure:"closed_statuses" yaml:"closed_statuses"`
	Timezone       string   `mapstructure:"timezone" yaml:"timezone"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", 3*time.Minute)
	v.SetDefault("fanout", 8)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("governor.max_concurrent", 3)
	v.SetDefault("governor.default_wait", 10*time.Second)
	v.SetDefault("dates.offset", transform.DefaultOffset)
	v.SetDefault("comments.publish_marker", "#zendesk")
	v.SetDefault("comments.closed_statuses", []string{"closed"})
	v.SetDefault("comments.timezone", "America/Sao_Paulo")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("zendesk.subdomain", "")
	v.SetDefault("zendesk.base_url", "")
	v.SetDefault("zendesk.email", "")
	v.SetDefault("zendesk.token", "")
	v.SetDefault("zendesk.token_env", "")
	v.SetDefault("zendesk.token_secret", "")
}

// Loader reads configuration from one source and can watch it for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader. With an empty path the file is searched as
// deskbridge.{yaml,toml,json} in the working directory and then in
// $HOME/.config/deskbridge; no file at all is not an error.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deskbridge")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "deskbridge"))
		}
	}
	return &Loader{v: v, path: path}
}

// Load reads the source and returns the decoded configuration. It does
// not validate; call Validate for that.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = l.v.ConfigFileUsed()
	cfg.resolve()
	return &cfg, nil
}

// Watch calls onChange with the re-decoded configuration every time the
// config file changes on disk. It requires a file to have been loaded.
func (l *Loader) Watch(onChange func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// resolve fills inherited credentials and reads tokens named by token_env.
func (c *Config) resolve() {
	c.Zendesk.Token = resolveToken(c.Zendesk)
	for i := range c.Links {
		l := &c.Links[i]
		if l.Zendesk.Subdomain == "" && l.Zendesk.BaseURL == "" {
			l.Zendesk = c.Zendesk
		}
		l.Zendesk.Token = resolveToken(l.Zendesk)
		l.Jira.Token = resolveToken(l.Jira)
	}
}

// SecretFunc returns the token a token_secret reference points to.
type SecretFunc func(ctx context.Context, ref string) (string, error)

// NeedsSecrets reports whether any credential still waits on a token_secret.
func (c *Config) NeedsSecrets() bool {
	for _, creds := range c.credentials() {
		if creds.Token == "" && creds.TokenSecret != "" {
			return true
		}
	}
	return false
}

// ResolveSecrets fills every empty token that has a token_secret. All
// references are attempted; failures are joined.
func (c *Config) ResolveSecrets(ctx context.Context, fetch SecretFunc) error {
	var errs []error
	for _, creds := range c.credentials() {
		if creds.Token != "" || creds.TokenSecret == "" {
			continue
		}
		token, err := fetch(ctx, creds.TokenSecret)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		creds.Token = token
	}
	return errors.Join(errs...)
}

func (c *Config) credentials() []*types.Credentials {
	out := []*types.Credentials{&c.Zendesk}
	for i := range c.Links {
		out = append(out, &c.Links[i].Zendesk, &c.Links[i].Jira)
	}
	return out
}

func resolveToken(creds types.Credentials) string {
	if creds.Token != "" || creds.TokenEnv == "" {
		return creds.Token
	}
	return os.Getenv(creds.TokenEnv)
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Interval <= 0 {
		add("interval must be positive, got %s", c.Interval)
	}
	if c.Fanout < 1 {
		add("fanout must be at least 1, got %d", c.Fanout)
	}
	if c.HTTP.Timeout <= 0 {
		add("http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	if c.Governor.MaxConcurrent < 1 {
		add("governor.max_concurrent must be at least 1, got %d", c.Governor.MaxConcurrent)
	}
	if c.Governor.DefaultWait <= 0 {
		add("governor.default_wait must be positive, got %s", c.Governor.DefaultWait)
	}
	if _, err := transform.ParseOffset(c.Dates.Offset); err != nil {
		add("dates.offset: %v", err)
	}
	if _, err := time.LoadLocation(c.Comments.Timezone); err != nil {
		add("comments.timezone: %v", err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is invalid (valid: debug, info, warn, error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "auto", "text", "json":
	default:
		add("log.format %q is invalid (valid: auto, text, json)", c.Log.Format)
	}

	if len(c.Links) == 0 {
		add("no links configured")
	}
	names := make(map[string]bool)
	for i := range c.Links {
		l := &c.Links[i]
		if err := l.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if names[l.Name] {
			add("duplicate link name %q", l.Name)
		}
		names[l.Name] = true
		if err := validateCredentials("zendesk", l.Zendesk, true); err != nil {
			add("link %s: %v", l.Name, err)
		}
		if err := validateCredentials("jira", l.Jira, false); err != nil {
			add("link %s: %v", l.Name, err)
		}
	}
	return errors.Join(errs...)
}

// Jira accepts a bare bearer token, so its email is optional.
func validateCredentials(system string, creds types.Credentials, needEmail bool) error {
	var missing []string
	if creds.Subdomain == "" && creds.BaseURL == "" {
		missing = append(missing, "subdomain or base_url")
	}
	if needEmail && creds.Email == "" {
		missing = append(missing, "email")
	}
	if creds.Token == "" {
		switch {
		case creds.TokenSecret != "":
			missing = append(missing, "token (secret "+creds.TokenSecret+" not resolved)")
		case creds.TokenEnv != "":
			missing = append(missing, "token (env "+creds.TokenEnv+" is empty)")
		default:
			missing = append(missing, "token")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s credentials missing %s", system, strings.Join(missing, ", "))
	}
	return nil
}

// DateLocation returns the fixed zone configured by dates.offset.
func (c *Config) DateLocation() (*time.Location, error) {
	return transform.ParseOffset(c.Dates.Offset)
}

// CommentLocation returns the zone comment timestamps are shown in.
func (c *Config) CommentLocation() (*time.Location, error) {
	return time.LoadLocation(c.Comments.Timezone)
}

// Redacted returns a copy with every token replaced.
func (c *Config) Redacted() *Config {
	out := *c
	out.Zendesk = redact(c.Zendesk)
	out.Links = make([]types.TenantLink, len(c.Links))
	for i, l := range c.Links {
		l.Zendesk = redact(l.Zendesk)
		l.Jira = redact(l.Jira)
		out.Links[i] = l
	}
	return &out
}

func redact(creds types.Credentials) types.Credentials {
	if creds.Token != "" {
		creds.Token = redacted
	}
	return creds
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
