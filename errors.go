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
	"fmt"
	"io"
	"net/http"
)

// ConfigurationError reports an invalid combination of connect parameters.
// It is always returned before any network call is made.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// AuthenticationError reports a credential exchange rejected by the
// authentication endpoint.
type AuthenticationError struct {
	// Endpoint is the authentication endpoint that rejected the exchange.
	Endpoint string
	// Cause is the HTTP status text or the error message from the response
	// body.
	Cause string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("failed to authenticate at %s: %s", e.Endpoint, e.Cause)
}

// AccountNotFoundError reports that the named account does not exist.
type AccountNotFoundError struct {
	Account string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %q does not exist", e.Account)
}

// EngineError reports that the named engine does not exist.
type EngineError struct {
	Name string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s does not exist", e.Name)
}

// DatabaseError reports that a database has no default engine to connect to.
type DatabaseError struct {
	Database string
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s has no default engines", e.Database)
}

// InterfaceError wraps transport, decoding and unexpected-shape failures
// encountered while talking to the API.
type InterfaceError struct {
	Op  string
	Err error
}

func (e *InterfaceError) Error() string {
	return fmt.Sprintf("unable to %s: %s", e.Op, e.Err)
}

func (e *InterfaceError) Unwrap() error {
	return e.Err
}

// ConnectionClosedError reports an operation attempted on a closed
// connection.
type ConnectionClosedError struct {
	Op string
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("unable to %s: connection closed", e.Op)
}

// CursorClosedError reports an operation attempted on a closed cursor, or
// on a cursor whose parent connection has been closed.
type CursorClosedError struct {
	Op string
}

func (e *CursorClosedError) Error() string {
	return fmt.Sprintf("unable to %s: cursor closed", e.Op)
}

// Error represents a structured error response from the Firebolt API.
type Error struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// HTTPError is returned when the API responds with an unexpected HTTP
// status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

func checkStatusCodeOK(resp *http.Response) error {
	return checkStatusCode(resp, http.StatusOK)
}

func checkStatusCode(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	var errResp Error
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
		return &HTTPError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: string(data)}
}

// sneakyBodyClose closes the body and ignores the error.
// This is useful to close the HTTP response body when we don't care about the error.
func sneakyBodyClose(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
