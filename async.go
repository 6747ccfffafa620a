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
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"
)

// QueryStatus is the server-side state of a query started with
// Cursor.ExecuteAsync.
type QueryStatus string

const (
	// QueryStatusNotReady indicates the engine has not picked up the query yet.
	QueryStatusNotReady QueryStatus = "NOT_READY"
	// QueryStatusStartedExecution indicates the query has started running.
	QueryStatusStartedExecution QueryStatus = "STARTED_EXECUTION"
	// QueryStatusRunning indicates the query is not finished yet.
	QueryStatusRunning QueryStatus = "RUNNING"
	// QueryStatusEndedSuccessfully indicates the query finished.
	QueryStatusEndedSuccessfully QueryStatus = "ENDED_SUCCESSFULLY"
	// QueryStatusEndedUnsuccessfully indicates the query failed.
	QueryStatusEndedUnsuccessfully QueryStatus = "ENDED_UNSUCCESSFULLY"
	// QueryStatusParseError indicates the statement could not be parsed.
	QueryStatusParseError QueryStatus = "PARSE_ERROR"
	// QueryStatusCanceledExecution indicates the query was cancelled.
	QueryStatusCanceledExecution QueryStatus = "CANCELED_EXECUTION"
	// QueryStatusExecutionError indicates the query failed during execution.
	QueryStatusExecutionError QueryStatus = "EXECUTION_ERROR"
)

// Terminated reports whether the query reached a terminal state.
func (s QueryStatus) Terminated() bool {
	switch s {
	case QueryStatusEndedSuccessfully, QueryStatusEndedUnsuccessfully,
		QueryStatusParseError, QueryStatusCanceledExecution, QueryStatusExecutionError:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the query finished successfully.
func (s QueryStatus) Succeeded() bool {
	return s == QueryStatusEndedSuccessfully
}

// ExecuteAsync submits one SQL statement for server-side execution and
// returns a handle to it without waiting for completion. The query keeps
// running on the engine even if this process exits; its ID can be stored and
// readopted later through Connection.QueryHandle.
func (c *Cursor) ExecuteAsync(ctx context.Context, query string) (*QueryHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn.Closed() {
		return nil, &CursorClosedError{Op: "execute query"}
	}

	params := url.Values{}
	params.Set("database", c.conn.database)
	params.Set("output_format", jsonOutputFormat)
	params.Set("async_execution", "1")

	resp, err := c.client.post(ctx, c.conn.engineURL+"/", params, "text/plain", []byte(query))
	if err != nil {
		return nil, err
	}
	defer sneakyBodyClose(resp.Body)
	if err := checkStatusCodeOK(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var respData struct {
		QueryID string `json:"query_id"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return nil, &InterfaceError{Op: "start server-side query", Err: err}
	}
	if respData.QueryID == "" {
		return nil, &InterfaceError{Op: "start server-side query", Err: errors.New("no query id in response")}
	}

	logger.Debug().Str("query_id", respData.QueryID).Msg("server-side query started")
	return &QueryHandle{conn: c.conn, id: respData.QueryID}, nil
}

// QueryHandle tracks a query running server-side. Unlike a Cursor it holds
// no result state; it only reports and controls the query named by its ID.
type QueryHandle struct {
	conn *Connection
	id   string

	mu   sync.Mutex
	last QueryStatus
}

// QueryHandle readopts a server-side query by the ID a previous ExecuteAsync
// returned, possibly in another process.
func (conn *Connection) QueryHandle(id string) *QueryHandle {
	return &QueryHandle{conn: conn, id: id}
}

// ID returns the server-side ID of the query.
func (h *QueryHandle) ID() string {
	return h.id
}

// Status fetches the current state of the query. A query the engine has not
// picked up yet reports QueryStatusNotReady.
func (h *QueryHandle) Status(ctx context.Context) (QueryStatus, error) {
	if h.conn.Closed() {
		return "", &ConnectionClosedError{Op: "fetch query status"}
	}

	params := url.Values{}
	params.Set("database", h.conn.database)
	params.Set("query_id", h.id)

	resp, err := h.conn.client.post(ctx, h.conn.engineURL+statusPath, params, "", nil)
	if err != nil {
		return "", err
	}
	defer sneakyBodyClose(resp.Body)
	if err := checkStatusCodeOK(resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var respData struct {
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return "", &InterfaceError{Op: "fetch query status", Err: err}
	}
	if respData.Status == nil {
		return "", &InterfaceError{Op: "fetch query status", Err: errors.New("no status in response")}
	}

	status := QueryStatus(*respData.Status)
	if status == "" {
		// The status endpoint answers with empty fields until the engine
		// registers the query.
		status = QueryStatusNotReady
	}
	h.setLast(status)
	return status, nil
}

// Wait polls the query until it reaches a terminal state and returns that
// state. Polling starts at 5ms and backs off exponentially to once a second.
func (h *QueryHandle) Wait(ctx context.Context) (QueryStatus, error) {
	tick := 5 * time.Millisecond
	maxTick := 1 * time.Second

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if last := h.lastStatus(); last.Terminated() {
			return last, nil
		}

		if tick < maxTick {
			tick = min(tick*2, maxTick)
			ticker.Reset(tick)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if _, err := h.Status(ctx); err != nil {
				return "", err
			}
		}
	}
}

// Cancel stops the query if it is still running. Cancelling a query already
// seen in a terminal state is a no-op.
func (h *QueryHandle) Cancel(ctx context.Context) error {
	if h.lastStatus().Terminated() {
		return nil
	}
	if h.conn.Closed() {
		return &ConnectionClosedError{Op: "cancel query"}
	}

	params := url.Values{}
	params.Set("database", h.conn.database)
	params.Set("query_id", h.id)

	resp, err := h.conn.client.post(ctx, h.conn.engineURL+cancelPath, params, "", nil)
	if err != nil {
		return err
	}
	defer sneakyBodyClose(resp.Body)
	if err := checkStatusCodeOK(resp); err != nil {
		return err
	}

	h.setLast(QueryStatusCanceledExecution)
	logger.Debug().Str("query_id", h.id).Msg("server-side query cancelled")
	return nil
}

func (h *QueryHandle) lastStatus() QueryStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *QueryHandle) setLast(status QueryStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = status
}
