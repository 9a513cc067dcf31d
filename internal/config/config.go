// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config reads the sync server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/united-manufacturing-hub/umh-utils/env"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	PokeBackendSSE      = "sse"
	PokeBackendSupabase = "supabase"

	FanoutNone     = "none"
	FanoutRedis    = "redis"
	FanoutPostgres = "postgres"

	maxAccounts = 100
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Postgres struct {
	URL         string
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int
	AutoMigrate bool
}

// ConnString returns URL when set, otherwise a postgres:// URL built from the parts.
func (p Postgres) ConnString() string {
	if p.URL != "" {
		return p.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + p.SSLMode,
	}

	return u.String()
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Supabase struct {
	URL     string
	AnonKey string
}

type Config struct {
	HTTPAddr    string
	HealthAddr  string
	MetricsAddr string

	StoreBackend string
	Postgres     Postgres

	// PokeBackend is resolved: never empty after Load.
	PokeBackend string
	// RequirePokeSSE refuses to start unless poke-sse can be served.
	RequirePokeSSE bool
	PokeFanout     string
	Redis       Redis
	Supabase    Supabase

	AutomatedAPIToken string
	// Accounts maps basic-auth user names to passwords.
	Accounts map[string]string

	SentryDSN    string
	LoggingLevel string
}

// Load reads all settings. Missing optional values fall back to defaults.
func Load() (*Config, error) {
	var (
		cfg Config
		err error
	)

	if cfg.HTTPAddr, err = env.GetAsString("HTTP_ADDR", false, ":8080"); err != nil {
		return nil, err
	}

	if cfg.HealthAddr, err = env.GetAsString("HEALTH_ADDR", false, ":8086"); err != nil {
		return nil, err
	}

	if cfg.MetricsAddr, err = env.GetAsString("METRICS_ADDR", false, ":2112"); err != nil {
		return nil, err
	}

	if cfg.StoreBackend, err = env.GetAsString("STORE_BACKEND", false, StoreBackendPostgres); err != nil {
		return nil, err
	}

	if cfg.Postgres, err = loadPostgres(); err != nil {
		return nil, err
	}

	if cfg.Supabase.URL, err = env.GetAsString("SUPABASE_URL", false, ""); err != nil {
		return nil, err
	}

	if cfg.Supabase.AnonKey, err = env.GetAsString("SUPABASE_ANON_KEY", false, ""); err != nil {
		return nil, err
	}

	pokeBackend, err := env.GetAsString("POKE_BACKEND", false, "")
	if err != nil {
		return nil, err
	}

	cfg.PokeBackend = ResolvePokeBackend(pokeBackend, cfg.Supabase)

	if cfg.RequirePokeSSE, err = env.GetAsBool("REQUIRE_POKE_SSE", false, false); err != nil {
		return nil, err
	}

	if cfg.PokeFanout, err = env.GetAsString("POKE_FANOUT", false, FanoutNone); err != nil {
		return nil, err
	}

	if cfg.Redis.Addr, err = env.GetAsString("REDIS_URI", false, "localhost:6379"); err != nil {
		return nil, err
	}

	if cfg.Redis.Password, err = env.GetAsString("REDIS_PASSWORD", false, ""); err != nil {
		return nil, err
	}

	if cfg.Redis.DB, err = env.GetAsInt("REDIS_DB", false, 0); err != nil {
		return nil, err
	}

	if cfg.AutomatedAPIToken, err = env.GetAsString("AUTOMATED_API_TOKEN", false, ""); err != nil {
		return nil, err
	}

	if cfg.Accounts, err = loadAccounts(); err != nil {
		return nil, err
	}

	if cfg.SentryDSN, err = env.GetAsString("SENTRY_DSN", false, ""); err != nil {
		return nil, err
	}

	if cfg.LoggingLevel, err = env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION"); err != nil {
		return nil, err
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadPostgres() (Postgres, error) {
	var (
		p   Postgres
		err error
	)

	if p.URL, err = env.GetAsString("DATABASE_URL", false, ""); err != nil {
		return p, err
	}

	if p.Host, err = env.GetAsString("POSTGRES_HOST", false, "localhost"); err != nil {
		return p, err
	}

	if p.Port, err = env.GetAsInt("POSTGRES_PORT", false, 5432); err != nil {
		return p, err
	}

	if p.User, err = env.GetAsString("POSTGRES_USER", false, "postgres"); err != nil {
		return p, err
	}

	if p.Password, err = env.GetAsString("POSTGRES_PASSWORD", false, ""); err != nil {
		return p, err
	}

	if p.Database, err = env.GetAsString("POSTGRES_DATABASE", false, "postgres"); err != nil {
		return p, err
	}

	if p.SSLMode, err = env.GetAsString("POSTGRES_SSLMODE", false, "disable"); err != nil {
		return p, err
	}

	if p.MaxConns, err = env.GetAsInt("POSTGRES_MAX_CONNS", false, 10); err != nil {
		return p, err
	}

	if p.AutoMigrate, err = env.GetAsBool("POSTGRES_AUTOMIGRATE", false, false); err != nil {
		return p, err
	}

	return p, nil
}

// loadAccounts reads CUSTOMER_NAME_i / CUSTOMER_PASSWORD_i pairs for i in 1..100.
// Pairs with an empty half are skipped.
func loadAccounts() (map[string]string, error) {
	accounts := make(map[string]string)

	for i := 1; i <= maxAccounts; i++ {
		user, err := env.GetAsString("CUSTOMER_NAME_"+strconv.Itoa(i), false, "")
		if err != nil {
			return nil, err
		}

		password, err := env.GetAsString("CUSTOMER_PASSWORD_"+strconv.Itoa(i), false, "")
		if err != nil {
			return nil, err
		}

		if user != "" && password != "" {
			accounts[user] = password
		}
	}

	return accounts, nil
}

// ResolvePokeBackend picks the poke backend. An explicit choice wins; otherwise
// a configured Supabase project selects managed realtime, and SSE is the fallback.
func ResolvePokeBackend(explicit string, supabase Supabase) string {
	explicit = strings.ToLower(strings.TrimSpace(explicit))
	if explicit != "" {
		return explicit
	}

	if supabase.URL != "" && supabase.AnonKey != "" {
		return PokeBackendSupabase
	}

	return PokeBackendSSE
}

// Validate checks the enumerations and cross-field requirements.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("%w: STORE_BACKEND %q", ErrInvalidConfig, c.StoreBackend)
	}

	switch c.PokeBackend {
	case PokeBackendSSE:
	case PokeBackendSupabase:
		if c.Supabase.URL == "" {
			return fmt.Errorf("%w: POKE_BACKEND=supabase requires SUPABASE_URL", ErrInvalidConfig)
		}

		if c.RequirePokeSSE {
			return fmt.Errorf("%w: REQUIRE_POKE_SSE needs POKE_BACKEND=sse, got %s", ErrInvalidConfig, c.PokeBackend)
		}
	default:
		return fmt.Errorf("%w: POKE_BACKEND %q", ErrInvalidConfig, c.PokeBackend)
	}

	switch c.PokeFanout {
	case FanoutNone, FanoutRedis:
	case FanoutPostgres:
		if c.StoreBackend != StoreBackendPostgres {
			return fmt.Errorf("%w: POKE_FANOUT=postgres requires STORE_BACKEND=postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: POKE_FANOUT %q", ErrInvalidConfig, c.PokeFanout)
	}

	if c.Postgres.MaxConns < 1 {
		return fmt.Errorf("%w: POSTGRES_MAX_CONNS must be positive", ErrInvalidConfig)
	}

	return nil
}
