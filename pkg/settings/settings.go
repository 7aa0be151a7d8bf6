// Package settings loads the node's catalog settings from a YAML or TOML file,
// applies FROYO_* environment overrides and validates the result.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/telemetry"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FROYO_"

// Config is the on-disk shape of the settings file.
type Config struct {
	Certname          string         `yaml:"certname" toml:"certname" validate:"required,excludesall=/\\"`
	Environment       string         `yaml:"environment" toml:"environment" validate:"required"`
	RunMode           engine.RunMode `yaml:"run_mode" toml:"run_mode" validate:"required,oneof=agent server"`
	Vardir            string         `yaml:"vardir" toml:"vardir" validate:"required"`
	ManifestDir       string         `yaml:"manifest_dir" toml:"manifest_dir"`
	ServerManifestDir string         `yaml:"server_manifest_dir" toml:"server_manifest_dir"`
	PolicyDir         string         `yaml:"policy_dir" toml:"policy_dir"`

	// DisabledPolicies names policies, builtin or loaded, that are not evaluated.
	DisabledPolicies []string `yaml:"disabled_policies" toml:"disabled_policies"`

	// ServerURL is the catalog authority used by the network terminus.
	ServerURL string `yaml:"server_url" toml:"server_url" validate:"omitempty,url"`

	// CatalogTerminus selects the terminus used by find and apply.
	CatalogTerminus string `yaml:"catalog_terminus" toml:"catalog_terminus" validate:"required,oneof=compiler network cache"`

	// CacheStore selects the backend of the cache termini.
	CacheStore string `yaml:"cache_store" toml:"cache_store" validate:"required,oneof=yaml sqlite"`

	// Listen is the address of the serve command.
	Listen string `yaml:"listen" toml:"listen" validate:"required"`

	Network NetworkConfig `yaml:"network" toml:"network"`

	// FactsTTL bounds how long cached facts are served. Zero keeps them forever.
	FactsTTL Duration `yaml:"facts_ttl" toml:"facts_ttl"`

	Telemetry telemetry.Config `yaml:"telemetry" toml:"telemetry"`
}

// NetworkConfig tunes the HTTP client of the network terminus.
type NetworkConfig struct {
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
	Retries  int      `yaml:"retries" toml:"retries" validate:"min=0,max=10"`
	RetryMin Duration `yaml:"retry_min" toml:"retry_min"`
	RetryMax Duration `yaml:"retry_max" toml:"retry_max"`
}

// Duration is a time.Duration written as a Go duration string ("30s") in settings files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Defaults returns the settings used when no file is given.
func Defaults() Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	vardir := filepath.Join(os.TempDir(), "froyo")
	if home, err := os.UserHomeDir(); err == nil {
		vardir = filepath.Join(home, ".froyo")
	}

	return Config{
		Certname:        strings.ToLower(hostname),
		Environment:     "production",
		RunMode:         engine.RunModeAgent,
		Vardir:          vardir,
		ManifestDir:     filepath.Join(vardir, "manifests"),
		CatalogTerminus: "network",
		CacheStore:      "yaml",
		ServerURL:       "http://localhost:8140",
		Listen:          ":8140",
		Network: NetworkConfig{
			Timeout:  Duration(30 * time.Second),
			Retries:  3,
			RetryMin: Duration(500 * time.Millisecond),
			RetryMax: Duration(5 * time.Second),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads settings from path (YAML or TOML by extension) on top of the defaults,
// applies environment overrides and validates. An empty path loads defaults only.
func Load(path string) (*Settings, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read settings file %s", path), err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse settings file %s", path), err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return New(cfg)
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
}

// applyEnv overlays FROYO_* variables. lookup is os.LookupEnv outside tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"CERTNAME":            &cfg.Certname,
		"ENVIRONMENT":         &cfg.Environment,
		"VARDIR":              &cfg.Vardir,
		"MANIFEST_DIR":        &cfg.ManifestDir,
		"SERVER_MANIFEST_DIR": &cfg.ServerManifestDir,
		"POLICY_DIR":          &cfg.PolicyDir,
		"SERVER_URL":          &cfg.ServerURL,
		"CATALOG_TERMINUS":    &cfg.CatalogTerminus,
		"CACHE_STORE":         &cfg.CacheStore,
		"LISTEN":              &cfg.Listen,
		"LOG_LEVEL":           &cfg.Telemetry.Logging.Level,
		"LOG_FORMAT":          &cfg.Telemetry.Logging.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "RUN_MODE"); ok {
		cfg.RunMode = engine.RunMode(v)
	}

	var result *multierror.Error
	if v, ok := lookup(EnvPrefix + "NETWORK_TIMEOUT"); ok {
		if err := cfg.Network.Timeout.UnmarshalText([]byte(v)); err != nil {
			result = multierror.Append(result, fmt.Errorf("%sNETWORK_TIMEOUT: %w", EnvPrefix, err))
		}
	}
	if v, ok := lookup(EnvPrefix + "NETWORK_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%sNETWORK_RETRIES: %w", EnvPrefix, err))
		} else {
			cfg.Network.Retries = n
		}
	}
	if v, ok := lookup(EnvPrefix + "FACTS_TTL"); ok {
		if err := cfg.FactsTTL.UnmarshalText([]byte(v)); err != nil {
			result = multierror.Append(result, fmt.Errorf("%sFACTS_TTL: %w", EnvPrefix, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return engine.NewConfigurationError("invalid environment override", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

var validate = validator.New()

// Validate checks cfg and reports every failing field at once.
func Validate(cfg *Config) error {
	var result *multierror.Error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result = multierror.Append(result, fmt.Errorf("%s: failed %q check", fe.Namespace(), fe.Tag()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	if cfg.CatalogTerminus == "network" && cfg.ServerURL == "" {
		result = multierror.Append(result, fmt.Errorf("server_url is required when catalog_terminus is network"))
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("telemetry: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		return engine.NewConfigurationError("invalid settings", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Settings is the validated, process-wide view of the configuration.
// Only the run mode changes after construction.
type Settings struct {
	cfg Config

	mu      sync.RWMutex
	runMode engine.RunMode
}

var (
	_ engine.NodeIdentity     = (*Settings)(nil)
	_ engine.SettingsProvider = (*Settings)(nil)
)

// New validates cfg and wraps it.
func New(cfg Config) (*Settings, error) {
	if cfg.ManifestDir == "" {
		cfg.ManifestDir = filepath.Join(cfg.Vardir, "manifests")
	}
	if cfg.ServerManifestDir == "" {
		cfg.ServerManifestDir = cfg.ManifestDir
	}
	cfg.Telemetry.Environment = cfg.Environment

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &Settings{cfg: cfg, runMode: cfg.RunMode}, nil
}

// Config returns a copy of the loaded configuration.
func (s *Settings) Config() Config {
	cfg := s.cfg
	cfg.RunMode = s.RunMode()
	return cfg
}

// Certname returns the local node identity.
func (s *Settings) Certname() string {
	return s.cfg.Certname
}

// Environment returns the node's environment label.
func (s *Settings) Environment() string {
	return s.cfg.Environment
}

// RunMode returns the current run mode.
func (s *Settings) RunMode() engine.RunMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runMode
}

// SetRunMode changes the run mode.
func (s *Settings) SetRunMode(mode engine.RunMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runMode = mode
}

// ManifestDir returns the manifest directory for the current run mode.
func (s *Settings) ManifestDir() string {
	if s.RunMode() == engine.RunModeServer {
		return s.cfg.ServerManifestDir
	}
	return s.cfg.ManifestDir
}

// Vardir returns the directory holding cached state.
func (s *Settings) Vardir() string {
	return s.cfg.Vardir
}

// ClassFile is where download writes the catalog's classes.
func (s *Settings) ClassFile() string {
	return filepath.Join(s.cfg.Vardir, "classes.txt")
}

// CatalogCacheDir holds the YAML catalog cache.
func (s *Settings) CatalogCacheDir() string {
	return filepath.Join(s.cfg.Vardir, "catalog")
}

// FactsCacheDir holds the YAML facts cache.
func (s *Settings) FactsCacheDir() string {
	return filepath.Join(s.cfg.Vardir, "facts")
}

// DatabasePath is the SQLite store used when cache_store is sqlite.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.cfg.Vardir, "state.db")
}
