package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Module names mapped to backends.
const (
	ModuleLockers   = "lockers"
	ModulePenalties = "penalties"
)

// Backend kinds.
const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindREST     = "rest"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig             `yaml:"server"`
	Log        LogConfig                `yaml:"log"`
	Backends   map[string]BackendConfig `yaml:"backends"`
	Modules    map[string]string        `yaml:"modules"`
	Ready      ReadyConfig              `yaml:"ready"`
	Board      BoardConfig              `yaml:"board"`
	Auth       AuthConfig               `yaml:"auth"`
	Push       PushConfig               `yaml:"push"`
	WorkerPool WorkerPoolConfig         `yaml:"worker_pool"`
	Redis      RedisConfig              `yaml:"redis"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BackendConfig describes one logical backend. For postgres and sqlite URL is
// the DSN; for rest it is the project base URL and APIKey is sent on every call.
type BackendConfig struct {
	Kind                   string        `yaml:"kind"`
	URL                    string        `yaml:"url"`
	APIKey                 string        `yaml:"api_key"`
	MaxOpenConns           int           `yaml:"max_open_conns"`
	MaxIdleConns           int           `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int           `yaml:"conn_max_lifetime_minutes"`
	Realtime               bool          `yaml:"realtime"`
	NotifyChannel          string        `yaml:"notify_channel"`
	PollIntervalMillis     int           `yaml:"poll_interval_ms"`
	PollInterval           time.Duration `yaml:"-"`
	TimeoutSeconds         int           `yaml:"timeout_seconds"`
	EvidenceBucket         string        `yaml:"evidence_bucket"`
}

// ReadyConfig bounds the wait for a backend at startup.
type ReadyConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxAttempts    int `yaml:"max_attempts"`
}

// BoardConfig holds the board view settings.
type BoardConfig struct {
	PreferredGroups  []string      `yaml:"preferred_groups"`
	SearchDebounceMS int           `yaml:"search_debounce_ms"`
	SearchDebounce   time.Duration `yaml:"-"`
	ViewTTLMinutes   int           `yaml:"view_ttl_minutes"`
	ViewTTL          time.Duration `yaml:"-"`
}

// AuthConfig gates mutating routes behind a role claim.
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	MutationRoles []string `yaml:"mutation_roles"`
}

// PushConfig holds the VAPID keys for web push notifications. Subscriptions
// are stored in Backend, which must be a database; it defaults to the
// lockers backend when that is one.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
	Backend    string `yaml:"backend"`
}

// Enabled reports whether locker alerts can be sent.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// RedisConfig configures the audit stream. An empty Addr disables it.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	AuditStream string `yaml:"audit_stream"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if secret := os.Getenv("LOCKERS_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 2
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	for name, b := range c.Backends {
		b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
		if b.Kind == "" {
			b.Kind = KindPostgres
		}
		if b.NotifyChannel == "" {
			b.NotifyChannel = "lockers_changes"
		}
		if b.PollIntervalMillis <= 0 {
			b.PollIntervalMillis = 5000
		}
		b.PollInterval = time.Duration(b.PollIntervalMillis) * time.Millisecond
		if b.TimeoutSeconds <= 0 {
			b.TimeoutSeconds = 30
		}
		if b.EvidenceBucket == "" {
			b.EvidenceBucket = "evidencias"
		}
		c.Backends[name] = b
	}
	if c.Modules == nil {
		c.Modules = make(map[string]string)
	}
	if _, ok := c.Modules[ModuleLockers]; !ok && len(c.Backends) == 1 {
		for name := range c.Backends {
			c.Modules[ModuleLockers] = name
		}
	}

	if c.Ready.TimeoutSeconds <= 0 {
		c.Ready.TimeoutSeconds = 15
	}
	if c.Ready.MaxAttempts <= 0 {
		c.Ready.MaxAttempts = 5
	}

	if c.Board.SearchDebounceMS <= 0 {
		c.Board.SearchDebounceMS = 120
	}
	c.Board.SearchDebounce = time.Duration(c.Board.SearchDebounceMS) * time.Millisecond
	if c.Board.ViewTTLMinutes <= 0 {
		c.Board.ViewTTLMinutes = 30
	}
	c.Board.ViewTTL = time.Duration(c.Board.ViewTTLMinutes) * time.Minute

	if len(c.Auth.MutationRoles) == 0 {
		c.Auth.MutationRoles = []string{"admin", "supervisor"}
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}
	if c.Push.Backend == "" {
		if name, ok := c.Modules[ModuleLockers]; ok && c.Backends[name].IsDatabase() {
			c.Push.Backend = name
		}
	}
	if c.WorkerPool.Size <= 0 {
		c.WorkerPool.Size = 1
	}
	if c.Redis.AuditStream == "" {
		c.Redis.AuditStream = "lockers:audit"
	}
}

// Validate checks that every module points at a known, well-formed backend.
func (c *Config) Validate() error {
	for name, b := range c.Backends {
		switch b.Kind {
		case KindPostgres, KindSQLite, KindREST:
		default:
			return fmt.Errorf("backend %q: unknown kind %q", name, b.Kind)
		}
		if b.URL == "" {
			return fmt.Errorf("backend %q: url is required", name)
		}
		if b.Kind == KindREST && b.APIKey == "" {
			return fmt.Errorf("backend %q: api_key is required for rest backends", name)
		}
	}
	for module, backend := range c.Modules {
		if _, ok := c.Backends[backend]; !ok {
			return fmt.Errorf("module %q uses unknown backend %q", module, backend)
		}
	}
	if c.Push.Backend != "" {
		b, ok := c.Backends[c.Push.Backend]
		if !ok {
			return fmt.Errorf("push uses unknown backend %q", c.Push.Backend)
		}
		if !b.IsDatabase() {
			return fmt.Errorf("push backend %q must be a database, got %q", c.Push.Backend, b.Kind)
		}
	}
	return nil
}

// IsDatabase reports whether the backend is reached through gorm.
func (b BackendConfig) IsDatabase() bool {
	return b.Kind == KindPostgres || b.Kind == KindSQLite
}

// BackendFor resolves the backend configured for a module.
func (c *Config) BackendFor(module string) (string, BackendConfig, error) {
	name, ok := c.Modules[module]
	if !ok {
		return "", BackendConfig{}, fmt.Errorf("no backend configured for module %q", module)
	}
	b, ok := c.Backends[name]
	if !ok {
		return "", BackendConfig{}, fmt.Errorf("module %q uses unknown backend %q", module, name)
	}
	return name, b, nil
}
