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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Canned identifiers served by the mock API.
const (
	mockAPIHost      = "api.mock.firebolt.io"
	mockAuthHost     = "id.mock.firebolt.io"
	mockEngineHost   = "engine.mock.firebolt.io"
	mockDatabase     = "mock_db"
	mockAccountName  = "mock_account"
	mockEngineName   = "mock_engine"
	mockAccessToken  = "mock_access_token"
	mockAccountID    = "mock_account_id"
	mockEngineID     = "mock_engine_id"
	mockDatabaseID   = "mock_database_id"
	mockClientID     = "mock_client_id"
	mockClientSecret = "mock_client_secret"
	mockUsername     = "mock_user@firebolt.io"
	mockPassword     = "mock_password"
	mockQueryID      = "1a3f53d"
)

// mockQueryRows is the number of rows the default query handler returns.
const mockQueryRows = 3

// errNoNetwork is what errTransport fails with.
var errNoNetwork = errors.New("no network in this test")

// errTransport fails every request, for tests that must finish before any
// network round-trip happens.
type errTransport struct{}

func (errTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errNoNetwork
}

// rewriteTransport redirects every request to the mock server regardless of
// the host the SDK resolved, standing in for DNS. The hosts and URLs the SDK
// meant to dial stay observable for assertions.
type rewriteTransport struct {
	host string

	mu    sync.Mutex
	hosts []string
	urls  []string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.hosts = append(t.hosts, req.URL.Host)
	t.urls = append(t.urls, req.URL.String())
	t.mu.Unlock()

	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(clone)
}

func (t *rewriteTransport) dialedHosts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hosts...)
}

func (t *rewriteTransport) dialedURLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.urls...)
}

// mockAPI is an httptest-backed rendition of the Firebolt REST surface: the
// token and login exchanges, account resolution, the engine registry, the
// account gateway and an engine endpoint speaking JSONCompact.
//
// Every route can be swapped per test through set. Handlers run on server
// goroutines and must not fail the test directly; they answer with an error
// status instead and the test asserts on the client-visible result.
type mockAPI struct {
	t         *testing.T
	server    *httptest.Server
	transport *rewriteTransport

	mu              sync.Mutex
	tokenRequests   int
	accountRequests int
	engineRequests  int
	queries         []string

	handleToken        http.HandlerFunc
	handleLogin        http.HandlerFunc
	handleAccount      http.HandlerFunc
	handleEngineByName http.HandlerFunc
	handleEngineByID   http.HandlerFunc
	handleDatabase     http.HandlerFunc
	handleBindings     http.HandlerFunc
	handleGateway      http.HandlerFunc
	handleQuery        http.HandlerFunc
	handleStatus       http.HandlerFunc
	handleCancel       http.HandlerFunc
}

func newMockAPI(t *testing.T) *mockAPI {
	api := &mockAPI{t: t}

	api.handleToken = func(w http.ResponseWriter, r *http.Request) {
		api.count(&api.tokenRequests)
		if err := r.ParseForm(); err != nil ||
			r.PostForm.Get("grant_type") != "client_credentials" ||
			r.PostForm.Get("client_id") != mockClientID ||
			r.PostForm.Get("client_secret") != mockClientSecret {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": mockAccessToken,
			"expires_in":   86400,
			"token_type":   "Bearer",
		})
	}
	api.handleLogin = func(w http.ResponseWriter, r *http.Request) {
		api.count(&api.tokenRequests)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
			req.Username != mockUsername || req.Password != mockPassword {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": mockAccessToken,
			"expires_in":   86400,
			"token_type":   "Bearer",
		})
	}
	api.handleAccount = func(w http.ResponseWriter, r *http.Request) {
		api.count(&api.accountRequests)
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"id": mockAccountID})
	}
	api.handleEngineByName = func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("engine_name") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"engine_id": map[string]any{"engine_id": mockEngineID}})
	}
	api.handleEngineByID = func(w http.ResponseWriter, r *http.Request) {
		api.count(&api.engineRequests)
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		// Engine endpoints come back without a scheme.
		writeJSON(w, map[string]any{"engine": map[string]any{"endpoint": mockEngineHost}})
	}
	api.handleDatabase = func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("database_name") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"database_id": map[string]any{"database_id": mockDatabaseID}})
	}
	api.handleBindings = func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, bindingsResponse(
			mockBinding{engineID: "mock_second_engine", isDefault: false},
			mockBinding{engineID: mockEngineID, isDefault: true},
		))
	}
	api.handleGateway = func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"engineUrl": "https://" + mockEngineHost})
	}
	api.handleQuery = func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("database") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, err := readBody(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		api.mu.Lock()
		api.queries = append(api.queries, body)
		api.mu.Unlock()

		if r.URL.Query().Get("async_execution") != "" {
			writeJSON(w, map[string]any{"query_id": mockQueryID})
			return
		}
		writeJSON(w, defaultQueryResponse())
	}
	api.handleStatus = func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, statusResponse(string(QueryStatusEndedSuccessfully)))
	}
	api.handleCancel = func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{})
	}

	mux := http.NewServeMux()
	mux.HandleFunc(authTokenPath, api.route(&api.handleToken))
	mux.HandleFunc(authLoginPath, api.route(&api.handleLogin))
	mux.HandleFunc(accountByNamePath, api.route(&api.handleAccount))
	mux.HandleFunc(fmt.Sprintf(engineByNamePath, mockAccountID), api.route(&api.handleEngineByName))
	mux.HandleFunc(fmt.Sprintf(engineByIDPath, mockAccountID, mockEngineID), api.route(&api.handleEngineByID))
	mux.HandleFunc(fmt.Sprintf(databaseByNamePath, mockAccountID), api.route(&api.handleDatabase))
	mux.HandleFunc(fmt.Sprintf(bindingsPath, mockAccountID), api.route(&api.handleBindings))
	mux.HandleFunc("/web/v3/account/", api.route(&api.handleGateway))
	mux.HandleFunc(statusPath, api.route(&api.handleStatus))
	mux.HandleFunc(cancelPath, api.route(&api.handleCancel))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		api.route(&api.handleQuery)(w, r)
	})

	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	api.transport = &rewriteTransport{host: api.server.Listener.Addr().String()}
	return api
}

// route defers the handler lookup to request time, under the lock that set
// writes through.
func (api *mockAPI) route(target *http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		h := *target
		api.mu.Unlock()
		h(w, r)
	}
}

// set swaps one of the handler fields for the rest of the test.
func (api *mockAPI) set(target *http.HandlerFunc, h http.HandlerFunc) {
	api.mu.Lock()
	defer api.mu.Unlock()
	*target = h
}

func (api *mockAPI) count(field *int) {
	api.mu.Lock()
	defer api.mu.Unlock()
	*field++
}

func (api *mockAPI) counts() (token, account, engine int) {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.tokenRequests, api.accountRequests, api.engineRequests
}

func (api *mockAPI) queryBodies() []string {
	api.mu.Lock()
	defer api.mu.Unlock()
	return append([]string(nil), api.queries...)
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+mockAccessToken
}

// config returns a Config pointed at the mock API, authenticating as a
// service account, with the token cache off so tests never touch the home
// directory.
func (api *mockAPI) config() *Config {
	return &Config{
		Database:          mockDatabase,
		AccountName:       mockAccountName,
		APIEndpoint:       mockAPIHost,
		ClientID:          mockClientID,
		ClientSecret:      mockClientSecret,
		DisableTokenCache: true,
		Transport:         api.transport,
	}
}

// client builds a bare authenticated Client against the mock API, the piece
// Open wires before engine resolution.
func (api *mockAPI) client() *Client {
	return newTestClient(api.t, api, api.config())
}

// newTestClient wires a Client against the mock API the same way Open does.
func newTestClient(t *testing.T, api *mockAPI, cfg *Config) *Client {
	t.Helper()
	creds, err := credentialsFromConfig(cfg)
	require.NoError(t, err)
	authURL, err := authEndpoint(fixURLScheme(cfg.APIEndpoint))
	require.NoError(t, err)

	httpClient := newHTTPClient(api.transport)
	auth := newAuthenticator(creds, nil, httpClient, authURL)
	return newClient(httpClient, auth, cfg.AccountName, fixURLScheme(cfg.APIEndpoint))
}

type mockBinding struct {
	engineID  string
	isDefault bool
}

func bindingsResponse(bindings ...mockBinding) map[string]any {
	edges := make([]any, 0, len(bindings))
	for _, b := range bindings {
		edges = append(edges, map[string]any{
			"node": map[string]any{
				"id":                map[string]any{"engine_id": b.engineID},
				"engine_is_default": b.isDefault,
			},
		})
	}
	return map[string]any{"edges": edges}
}

// defaultQueryResponse is the JSONCompact answer the mock engine gives to
// any statement: mockQueryRows rows of (id int, name text).
func defaultQueryResponse() map[string]any {
	data := make([]any, 0, mockQueryRows)
	for i := 0; i < mockQueryRows; i++ {
		data = append(data, []any{i, fmt.Sprintf("row %d", i)})
	}
	return map[string]any{
		"meta": []any{
			map[string]any{"name": "id", "type": "int"},
			map[string]any{"name": "name", "type": "text"},
		},
		"data": data,
		"rows": mockQueryRows,
		"statistics": map[string]any{
			"elapsed":               0.002983335,
			"time_before_execution": 0.002729331,
			"time_to_execute":       0.000215215,
			"rows_read":             1,
			"bytes_read":            1,
			"scanned_bytes_cache":   0,
			"scanned_bytes_storage": 0,
		},
	}
}

func statusResponse(status string) map[string]any {
	return map[string]any{
		"engine_name":      mockEngineName,
		"query_id":         mockQueryID,
		"status":           status,
		"query_start_time": "2020-07-31 01:01:01.1234",
		"original_query":   "SELECT 1",
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func readBody(r *http.Request) (string, error) {
	defer sneakyBodyClose(r.Body)
	data, err := io.ReadAll(r.Body)
	return string(data), err
}
