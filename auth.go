/*
 * Copyright 2024 Firebolt Analytics, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package firebolt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryGuard is how long before its expiration a token is already treated
// as expired, so a token about to lapse mid-request gets refreshed early.
const expiryGuard = 30 * time.Second

type credentialKind int

const (
	credentialNone credentialKind = iota
	credentialPassword
	credentialToken
	credentialServiceAccount
)

// credentials is the validated credential union. Exactly one kind is active.
type credentials struct {
	kind credentialKind

	username string
	password string

	accessToken string

	clientID     string
	clientSecret string
}

// credentialsFromConfig validates the credential fields of cfg and picks the
// active form. Conflicting or incomplete combinations are a
// ConfigurationError, raised before any network call.
func credentialsFromConfig(cfg *Config) (*credentials, error) {
	hasPassword := cfg.Username != "" || cfg.Password != ""
	hasToken := cfg.AccessToken != ""
	hasServiceAccount := cfg.ClientID != "" || cfg.ClientSecret != ""

	provided := 0
	for _, ok := range []bool{hasPassword, hasToken, hasServiceAccount} {
		if ok {
			provided++
		}
	}
	if provided == 0 {
		return nil, &ConfigurationError{Message: "no credentials are provided. Provide username/password, access token or client id/secret to authenticate"}
	}
	if provided > 1 {
		return nil, &ConfigurationError{Message: "multiple credentials are provided. Provide only one of username/password, access token or client id/secret to authenticate"}
	}

	switch {
	case hasToken:
		return &credentials{kind: credentialToken, accessToken: cfg.AccessToken}, nil
	case hasServiceAccount:
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, &ConfigurationError{Message: "both client id and client secret are required to authenticate"}
		}
		return &credentials{kind: credentialServiceAccount, clientID: cfg.ClientID, clientSecret: cfg.ClientSecret}, nil
	default:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, &ConfigurationError{Message: "both username and password are required to authenticate"}
		}
		return &credentials{kind: credentialPassword, username: cfg.Username, password: cfg.Password}, nil
	}
}

// identity returns the token cache key for these credentials.
func (c *credentials) identity() TokenIdentity {
	switch c.kind {
	case credentialPassword:
		return TokenIdentity{ID: c.username, Secret: c.password}
	case credentialServiceAccount:
		return TokenIdentity{ID: c.clientID, Secret: c.clientSecret}
	default:
		return TokenIdentity{}
	}
}

// authenticator turns credentials into bearer tokens and keeps the current
// one fresh. Static access tokens short-circuit everything: they are never
// exchanged, cached or refreshed.
type authenticator struct {
	creds    *credentials
	store    TokenStore // nil when caching is disabled
	client   *http.Client
	endpoint *url.URL

	mu      sync.Mutex
	value   string
	expires time.Time // zero means the token does not expire
}

func newAuthenticator(creds *credentials, store TokenStore, client *http.Client, endpoint *url.URL) *authenticator {
	return &authenticator{
		creds:    creds,
		store:    store,
		client:   client,
		endpoint: endpoint,
	}
}

// token returns a bearer token for the configured credentials, performing
// the credential exchange when the current token is missing or about to
// expire. Concurrent callers share one exchange: the mutex is held across
// the refresh.
func (a *authenticator) token(ctx context.Context) (string, error) {
	if a.creds.kind == credentialToken {
		return a.creds.accessToken, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.valid(time.Now()) {
		return a.value, nil
	}
	if tok := a.fromStore(ctx); tok != nil {
		a.adopt(tok)
		return a.value, nil
	}
	if err := a.exchange(ctx); err != nil {
		return "", err
	}
	a.persist(ctx)
	return a.value, nil
}

func (a *authenticator) valid(now time.Time) bool {
	if a.value == "" {
		return false
	}
	return a.expires.IsZero() || now.Before(a.expires.Add(-expiryGuard))
}

func (a *authenticator) fromStore(ctx context.Context) *StoredToken {
	if a.store == nil {
		return nil
	}
	tok, err := a.store.Get(ctx, a.creds.identity())
	if err != nil {
		logger.Debug().Err(err).Msg("token store read failed")
		return nil
	}
	if tok == nil || tok.Expired(time.Now().Add(expiryGuard)) {
		return nil
	}
	return tok
}

func (a *authenticator) adopt(tok *StoredToken) {
	a.value = tok.Token
	a.expires = time.Time{}
	if tok.Expiration != 0 {
		a.expires = time.Unix(tok.Expiration, 0)
	}
}

func (a *authenticator) persist(ctx context.Context) {
	if a.store == nil {
		return
	}
	rec := &StoredToken{Token: a.value}
	if !a.expires.IsZero() {
		rec.Expiration = a.expires.Unix()
	}
	if err := a.store.Put(ctx, a.creds.identity(), rec); err != nil {
		logger.Debug().Err(err).Msg("token store write failed")
	}
}

// tokenResponse covers both the success and the error shape of the token
// endpoints: the service occasionally rejects an exchange with a 200
// response carrying an error payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`

	ErrorCode string `json:"error"`
	Message   string `json:"message"`
}

// exchange performs the credential exchange for the active credential kind
// and adopts the issued token. Transport errors propagate unchanged so the
// caller sees the underlying network failure.
func (a *authenticator) exchange(ctx context.Context) error {
	var (
		resp *http.Response
		err  error
	)
	switch a.creds.kind {
	case credentialServiceAccount:
		resp, err = a.postServiceAccount(ctx)
	case credentialPassword:
		resp, err = a.postLogin(ctx)
	default:
		return &ConfigurationError{Message: "no credentials available for token exchange"}
	}
	if err != nil {
		return err
	}
	defer sneakyBodyClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AuthenticationError{Endpoint: a.endpoint.String(), Cause: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var respData tokenResponse
	if err := json.Unmarshal(data, &respData); err != nil {
		return &AuthenticationError{Endpoint: a.endpoint.String(), Cause: err.Error()}
	}
	if respData.Message != "" || respData.ErrorCode != "" {
		cause := respData.Message
		if cause == "" {
			cause = respData.ErrorCode
		}
		return &AuthenticationError{Endpoint: a.endpoint.String(), Cause: cause}
	}
	if respData.AccessToken == "" {
		return &AuthenticationError{Endpoint: a.endpoint.String(), Cause: "no access token in response"}
	}

	a.value = respData.AccessToken
	a.expires = tokenExpiry(respData.AccessToken, respData.ExpiresIn, time.Now())
	logger.Debug().Time("expires", a.expires).Msg("issued new access token")
	return nil
}

func (a *authenticator) postServiceAccount(ctx context.Context) (*http.Response, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.creds.clientID)
	form.Set("client_secret", a.creds.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint.String()+authTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	return a.client.Do(req)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *authenticator) postLogin(ctx context.Context) (*http.Response, error) {
	body, err := json.Marshal(loginRequest{Username: a.creds.username, Password: a.creds.password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint.String()+authLoginPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return a.client.Do(req)
}

// tokenExpiry computes when an issued token lapses. Responses without an
// expires_in hint fall back to the token's own exp claim, parsed without
// verification; tokens with neither never expire.
func tokenExpiry(token string, expiresIn int64, now time.Time) time.Time {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Time{}
}
