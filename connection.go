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
	"context"
	"sync"
)

// Connection is a logical connection to a Firebolt database, bound to the
// engine endpoint resolved at Open time. Cursors created through Cursor are
// tracked by the connection and closed with it.
type Connection struct {
	client      *Client
	engineURL   string
	database    string
	apiEndpoint string

	mu      sync.Mutex
	cursors []*Cursor
	closed  bool
}

// Open validates the configuration, authenticates, resolves the engine
// endpoint and returns a Connection bound to it.
//
// Engine selection: Config.EngineURL connects directly with no resolution
// round-trips; Config.EngineName resolves through the engine registry, or
// through the account gateway for the reserved name SystemEngineName; with
// neither set, the database's default engine is used.
func Open(ctx context.Context, cfg *Config) (*Connection, error) {
	if cfg == nil || cfg.Database == "" {
		return nil, &ConfigurationError{Message: "database name is required to connect"}
	}
	if cfg.EngineName != "" && cfg.EngineURL != "" {
		return nil, &ConfigurationError{Message: "both engine name and engine URL are provided. Provide only one to connect"}
	}
	creds, err := credentialsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.EngineName == SystemEngineName && cfg.AccountName == "" {
		return nil, &ConfigurationError{Message: "account name is required to connect to the system engine"}
	}

	apiEndpoint := cfg.APIEndpoint
	if apiEndpoint == "" {
		apiEndpoint = DefaultAPIEndpoint
	}
	apiEndpoint = fixURLScheme(apiEndpoint)

	authURL, err := authEndpoint(apiEndpoint)
	if err != nil {
		return nil, &ConfigurationError{Message: "invalid API endpoint: " + err.Error()}
	}

	httpClient := newHTTPClient(cfg.Transport)
	auth := newAuthenticator(creds, tokenStoreFor(cfg, creds), httpClient, authURL)
	client := newClient(httpClient, auth, cfg.AccountName, apiEndpoint)

	engineURL := cfg.EngineURL
	switch {
	case engineURL != "":
		// Explicit endpoint, nothing to resolve.
	case cfg.EngineName == SystemEngineName:
		engineURL, err = systemEngineURL(ctx, client, cfg.AccountName)
	case cfg.EngineName != "":
		engineURL, err = engineURLByName(ctx, client, cfg.EngineName)
	default:
		engineURL, err = databaseDefaultEngineURL(ctx, client, cfg.Database)
	}
	if err != nil {
		client.closeIdleConnections()
		return nil, err
	}

	conn := &Connection{
		client:      client,
		engineURL:   fixURLScheme(engineURL),
		database:    cfg.Database,
		apiEndpoint: apiEndpoint,
	}
	logger.Debug().Str("engine_url", conn.engineURL).Str("database", conn.database).Msg("connection opened")
	return conn, nil
}

// tokenStoreFor picks the token store for the run: none for static tokens
// or when caching is disabled, the configured one, or a file store under
// the user's home directory. When the default store cannot be created the
// SDK runs without caching rather than failing the connection.
func tokenStoreFor(cfg *Config, creds *credentials) TokenStore {
	if cfg.DisableTokenCache || creds.kind == credentialToken {
		return nil
	}
	if cfg.TokenStore != nil {
		return cfg.TokenStore
	}
	store, err := NewFileTokenStore("")
	if err != nil {
		logger.Debug().Err(err).Msg("token cache unavailable")
		return nil
	}
	return store
}

// Cursor creates a new cursor on the connection.
func (conn *Connection) Cursor() (*Cursor, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return nil, &ConnectionClosedError{Op: "create cursor"}
	}

	c := &Cursor{conn: conn, client: conn.client, rowCount: -1}
	conn.cursors = append(conn.cursors, c)
	return c, nil
}

// Close closes the connection and every cursor created from it. Closing an
// already closed connection is a no-op.
//
// The closed flag, the registry snapshot and the registry reset happen
// under one lock acquisition, so a concurrent Cursor call either lands in
// the snapshot or observes the connection closed.
func (conn *Connection) Close() error {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return nil
	}
	conn.closed = true
	cursors := conn.cursors
	conn.cursors = nil
	conn.mu.Unlock()

	for _, c := range cursors {
		// A cursor concurrently closed by its owner is not an error.
		c.closeQuietly()
	}
	conn.client.closeIdleConnections()
	logger.Debug().Str("database", conn.database).Msg("connection closed")
	return nil
}

// Closed reports whether the connection has been closed.
func (conn *Connection) Closed() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.closed
}

// Commit fails on a closed connection and otherwise does nothing: Firebolt
// does not have transactions.
func (conn *Connection) Commit() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return &ConnectionClosedError{Op: "commit"}
	}
	return nil
}

// Database returns the database name this connection is bound to.
func (conn *Connection) Database() string {
	return conn.database
}

// EngineURL returns the resolved engine endpoint serving this connection.
func (conn *Connection) EngineURL() string {
	return conn.engineURL
}

// removeCursor discards c from the registry. Removing a cursor that is
// already gone is a no-op: a cursor closing itself can race the
// connection-wide close cascade.
func (conn *Connection) removeCursor(c *Cursor) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	for i, cur := range conn.cursors {
		if cur == c {
			conn.cursors = append(conn.cursors[:i], conn.cursors[i+1:]...)
			return
		}
	}
}
