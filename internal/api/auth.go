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

package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/internal/config"
)

const (
	// APITokenHeader carries the static token used for automated inserts.
	APITokenHeader = "api-token"
	// SupabaseTokenCookie is the cookie the Supabase auth helpers store the session JWT in.
	SupabaseTokenCookie = "sb-access-token"

	sessionCacheTTL = 5 * time.Minute
)

var (
	// ErrUnauthenticated means credentials were presented but are not valid.
	ErrUnauthenticated = errors.New("the authentication token is invalid")
	// ErrNoCredentials means no authenticator found credentials it understands.
	ErrNoCredentials = errors.New("no credentials")
)

// Identity is an authenticated caller. Trusted callers may access every space.
type Identity struct {
	UserID  string
	Method  string
	Trusted bool
}

// Authenticator checks one kind of credentials. It returns (nil, nil) when
// the request carries none of its kind.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// Chain tries each authenticator in order; the first one that recognises
// credentials decides.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) (*Identity, error) {
	for _, a := range c {
		id, err := a.Authenticate(r)
		if err != nil || id != nil {
			return id, err
		}
	}

	return nil, ErrNoCredentials
}

// NewAuthenticator builds the chain from cfg: API token, then Supabase
// session, then basic auth accounts. Unconfigured methods are left out.
func NewAuthenticator(cfg *config.Config, log *zap.SugaredLogger) Chain {
	var chain Chain

	if cfg.AutomatedAPIToken != "" {
		chain = append(chain, APITokenAuth{Token: cfg.AutomatedAPIToken})
	}

	if cfg.Supabase.URL != "" && cfg.Supabase.AnonKey != "" {
		chain = append(chain, NewSupabaseAuth(cfg.Supabase, nil, log))
	}

	if len(cfg.Accounts) > 0 {
		chain = append(chain, BasicAuth{Accounts: cfg.Accounts})
	}

	if len(chain) == 0 {
		log.Warn("No authentication configured, every request will be rejected")
	}

	return chain
}

// APITokenAuth accepts the static AUTOMATED_API_TOKEN.
type APITokenAuth struct {
	Token string
}

func (a APITokenAuth) Authenticate(r *http.Request) (*Identity, error) {
	token := r.Header.Get(APITokenHeader)
	if token == "" || a.Token == "" {
		return nil, nil
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
		return nil, fmt.Errorf("%w: invalid API token", ErrUnauthenticated)
	}

	return &Identity{Method: "api-token", Trusted: true}, nil
}

// BasicAuth accepts the CUSTOMER_NAME_i / CUSTOMER_PASSWORD_i accounts.
// The user name is the space the account may access.
type BasicAuth struct {
	Accounts map[string]string
}

func (a BasicAuth) Authenticate(r *http.Request) (*Identity, error) {
	user, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	expected, known := a.Accounts[user]
	if !known || subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
		return nil, fmt.Errorf("%w: invalid user or password", ErrUnauthenticated)
	}

	return &Identity{UserID: user, Method: "basic"}, nil
}

type supabaseUser struct {
	ID string `json:"id"`
}

// SupabaseAuth validates Supabase session JWTs against the project's auth
// API. Valid sessions are cached for five minutes.
type SupabaseAuth struct {
	url     string
	anonKey string
	client  *http.Client
	cache   *cache.Cache
	log     *zap.SugaredLogger
}

func NewSupabaseAuth(cfg config.Supabase, client *http.Client, log *zap.SugaredLogger) *SupabaseAuth {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &SupabaseAuth{
		url:     strings.TrimSuffix(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		client:  client,
		cache:   cache.New(sessionCacheTTL, 2*sessionCacheTTL),
		log:     log,
	}
}

func (a *SupabaseAuth) Authenticate(r *http.Request) (*Identity, error) {
	token := sessionToken(r)
	if token == "" {
		return nil, nil
	}

	key := tokenKey(token)
	if userID, ok := a.cache.Get(key); ok {
		return &Identity{UserID: userID.(string), Method: "supabase"}, nil
	}

	user, err := a.getUser(r.Context(), token)
	if err != nil {
		return nil, err
	}

	a.cache.SetDefault(key, user.ID)

	return &Identity{UserID: user.ID, Method: "supabase"}, nil
}

func (a *SupabaseAuth) getUser(ctx context.Context, token string) (*supabaseUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", a.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase user lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("supabase user lookup: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("supabase user lookup: HTTP status %d", resp.StatusCode)
	}

	var user supabaseUser
	if err = gojson.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("supabase user lookup: %w", err)
	}

	if user.ID == "" {
		return nil, ErrUnauthenticated
	}

	return &user, nil
}

// sessionToken finds the Supabase JWT. Browsers send it as a cookie; the
// extension copies its cookies into the Authorization header
// ("sb-access-token=...; sb-refresh-token=..."); other clients use a bearer token.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SupabaseTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	for _, part := range strings.Split(auth, "; ") {
		if name, value, ok := strings.Cut(part, "="); ok && name == SupabaseTokenCookie {
			return value
		}
	}

	return ""
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}
