// Package config reads process settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"task-client/domain"
	"task-client/storage"
)

const (
	BackendHTTP  = "http"
	BackendTable = "table"

	defaultAPITimeout     = 15 * time.Second
	defaultListenAddr     = ":8080"
	defaultChannel        = "task-invalidations"
	defaultTasksTable     = "Tasks"
	defaultTasksPartition = "tasks"
	defaultDedupeTTL      = 24 * time.Hour
	defaultJWKSCacheTTL   = 15 * time.Minute
	defaultServiceSubject = "task-client"
)

// Remote selects and configures the task service adapter.
type Remote struct {
	Backend string

	URL       string
	Timeout   time.Duration
	Token     string
	JWTSecret string
	Subject   string
	Audience  string

	StorageConnectionString string
	TasksTable              string
	TasksPartition          string
}

// Cache holds freshness and retention settings and the optional shared Redis.
type Cache struct {
	StaleTime     time.Duration
	GCTime        time.Duration
	SweepInterval time.Duration

	Redis               *redis.Options
	SharedStore         bool
	InvalidationChannel string
	InvalidationQueue   string
	DedupeTTL           time.Duration
}

// Auth configures bearer verification on the gateway.
type Auth struct {
	Audience     string
	Domain       string
	LocalSecret  string
	JWKSCacheTTL time.Duration
}

func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

func (a Auth) Issuer() string {
	return "https://" + a.Domain + "/"
}

type Config struct {
	Remote      Remote
	Cache       Cache
	Auth        Auth
	DueSoonDays int
	ListenAddr  string
	Debug       bool
}

// FromEnv loads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup. Invalid values are reported rather than
// defaulted.
func Load(lookup func(string) (string, bool)) (Config, error) {
	env := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}
	var errs []error
	fail := func(name string, err error) {
		errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
	}

	cfg := Config{
		Remote: Remote{
			Backend:                 strings.ToLower(env("TASKS_BACKEND")),
			URL:                     env("TASKS_API_URL"),
			Timeout:                 defaultAPITimeout,
			Token:                   env("TASKS_API_TOKEN"),
			JWTSecret:               env("TASKS_API_JWT_SECRET"),
			Subject:                 env("TASKS_API_JWT_SUBJECT"),
			Audience:                env("TASKS_API_JWT_AUDIENCE"),
			StorageConnectionString: env("STORAGE_CONNECTION_STRING"),
			TasksTable:              env("TASKS_TABLE"),
			TasksPartition:          env("TASKS_PARTITION"),
		},
		Cache: Cache{
			StaleTime:           storage.DefaultStaleTime,
			GCTime:              storage.DefaultGCTime,
			InvalidationChannel: env("INVALIDATION_CHANNEL"),
			InvalidationQueue:   env("INVALIDATION_QUEUE"),
			DedupeTTL:           defaultDedupeTTL,
		},
		Auth: Auth{
			Audience:     env("AUTH0_AUDIENCE"),
			Domain:       env("AUTH0_DOMAIN"),
			JWKSCacheTTL: defaultJWKSCacheTTL,
		},
		DueSoonDays: domain.DefaultDueSoonDays,
		ListenAddr:  defaultListenAddr,
	}

	if cfg.Remote.Backend == "" {
		cfg.Remote.Backend = BackendHTTP
	}
	if cfg.Remote.Subject == "" {
		cfg.Remote.Subject = defaultServiceSubject
	}
	if cfg.Remote.TasksTable == "" {
		cfg.Remote.TasksTable = defaultTasksTable
	}
	if cfg.Remote.TasksPartition == "" {
		cfg.Remote.TasksPartition = defaultTasksPartition
	}
	if cfg.Cache.InvalidationChannel == "" {
		cfg.Cache.InvalidationChannel = defaultChannel
	}

	switch cfg.Remote.Backend {
	case BackendHTTP:
		if cfg.Remote.URL == "" {
			errs = append(errs, errors.New("missing TASKS_API_URL"))
		}
	case BackendTable:
		if cfg.Remote.StorageConnectionString == "" {
			errs = append(errs, errors.New("missing STORAGE_CONNECTION_STRING"))
		}
	default:
		fail("TASKS_BACKEND", fmt.Errorf("unsupported backend %q", cfg.Remote.Backend))
	}
	if cfg.Cache.InvalidationQueue != "" && cfg.Remote.StorageConnectionString == "" {
		errs = append(errs, errors.New("INVALIDATION_QUEUE requires STORAGE_CONNECTION_STRING"))
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"TASKS_API_TIMEOUT", &cfg.Remote.Timeout},
		{"CACHE_STALE_TIME", &cfg.Cache.StaleTime},
		{"CACHE_GC_TIME", &cfg.Cache.GCTime},
		{"CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval},
		{"JWKS_CACHE_TTL", &cfg.Auth.JWKSCacheTTL},
		{"DEDUPER_TTL", &cfg.Cache.DedupeTTL},
	}
	for _, d := range durations {
		raw := env(d.name)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			fail(d.name, err)
			continue
		}
		if parsed <= 0 {
			fail(d.name, errors.New("must be greater than zero"))
			continue
		}
		*d.dst = parsed
	}

	if v := env("DUE_SOON_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			fail("DUE_SOON_DAYS", err)
		case n < 0:
			fail("DUE_SOON_DAYS", errors.New("must not be negative"))
		default:
			cfg.DueSoonDays = n
		}
	}

	if v := env("REDIS_CONNECTION_STRING"); v != "" {
		opts, err := ParseRedisConnectionString(v)
		if err != nil {
			fail("REDIS_CONNECTION_STRING", err)
		}
		cfg.Cache.Redis = opts
	}
	if v := env("REDIS_CACHE"); v != "" {
		shared, err := strconv.ParseBool(v)
		if err != nil {
			fail("REDIS_CACHE", err)
		}
		cfg.Cache.SharedStore = shared
	}
	if cfg.Cache.SharedStore && cfg.Cache.Redis == nil {
		errs = append(errs, errors.New("REDIS_CACHE requires REDIS_CONNECTION_STRING"))
	}

	switch mode := strings.ToLower(env("LOCAL_AUTH_MODE")); mode {
	case "":
	case "hs256":
		cfg.Auth.LocalSecret = env("LOCAL_AUTH_SHARED_SECRET")
		if cfg.Auth.LocalSecret == "" {
			errs = append(errs, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256"))
		}
	default:
		fail("LOCAL_AUTH_MODE", fmt.Errorf("unsupported value %q", mode))
	}

	if v, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && v != "" {
		cfg.ListenAddr = ":" + v
	} else if v := env("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if dbg, err := strconv.ParseBool(env("DEBUG")); err == nil && dbg {
		cfg.Debug = true
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// NeedsJWKS reports whether gateway auth verifies RS256 tokens against Auth0.
func (c Config) NeedsJWKS() bool {
	return c.Auth.LocalSecret == ""
}

// ValidateGateway checks the settings only the HTTP gateway needs.
func (c Config) ValidateGateway() error {
	if c.NeedsJWKS() && (c.Auth.Audience == "" || c.Auth.Domain == "") {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// ParseRedisConnectionString accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" form.
func ParseRedisConnectionString(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		return redis.ParseURL(raw)
	}
	parts := strings.Split(raw, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(v), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
