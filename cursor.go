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
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// jsonOutputFormat is the result format requested from the engine.
const jsonOutputFormat = "JSONCompact"

// Value stores the contents of a single cell from a query result.
type Value any

// Column describes a single column of a result set.
type Column struct {
	Name string
	Type string
}

// QueryStatistics reports server-side measurements for the last executed
// statement. Durations are in seconds.
type QueryStatistics struct {
	Elapsed             float64 `json:"elapsed"`
	TimeBeforeExecution float64 `json:"time_before_execution"`
	TimeToExecute       float64 `json:"time_to_execute"`
	RowsRead            int64   `json:"rows_read"`
	BytesRead           int64   `json:"bytes_read"`
	ScannedBytesCache   int64   `json:"scanned_bytes_cache"`
	ScannedBytesStorage int64   `json:"scanned_bytes_storage"`
}

// queryResponse is the JSONCompact wire shape: column metadata, rows as
// arrays of cells, and execution statistics.
type queryResponse struct {
	Meta []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"meta"`
	Data       [][]json.RawMessage `json:"data"`
	Rows       int64               `json:"rows"`
	Statistics QueryStatistics     `json:"statistics"`
}

// Cursor executes SQL statements over its parent connection and iterates
// the decoded result set. Cursors are created through Connection.Cursor and
// closed either explicitly or by the parent connection's Close.
type Cursor struct {
	conn   *Connection
	client *Client

	mu       sync.Mutex
	closed   bool
	columns  []Column
	rows     [][]Value
	next     int
	rowCount int64
	stats    *QueryStatistics
}

// Execute runs one SQL statement against the connection's engine and
// returns the number of rows in the result set, or -1 for statements that
// produce none.
func (c *Cursor) Execute(ctx context.Context, query string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, &CursorClosedError{Op: "execute query"}
	}
	if c.conn.Closed() {
		return -1, &CursorClosedError{Op: "execute query"}
	}

	params := url.Values{}
	params.Set("database", c.conn.database)
	params.Set("output_format", jsonOutputFormat)

	resp, err := c.client.post(ctx, c.conn.engineURL+"/", params, "text/plain", []byte(query))
	if err != nil {
		return -1, err
	}
	defer sneakyBodyClose(resp.Body)
	if err := checkStatusCodeOK(resp); err != nil {
		c.discard()
		return -1, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.discard()
		return -1, err
	}
	if len(data) == 0 {
		// DML and DDL statements respond with an empty body.
		c.discard()
		return c.rowCount, nil
	}

	var respData queryResponse
	if err := json.Unmarshal(data, &respData); err != nil {
		c.discard()
		return -1, err
	}

	columns := make([]Column, 0, len(respData.Meta))
	for _, m := range respData.Meta {
		columns = append(columns, Column{Name: m.Name, Type: m.Type})
	}
	rows := make([][]Value, 0, len(respData.Data))
	for _, cells := range respData.Data {
		if len(cells) != len(columns) {
			c.discard()
			return -1, fmt.Errorf("row has %d values for %d columns", len(cells), len(columns))
		}
		row := make([]Value, len(cells))
		for i, cell := range cells {
			v, err := convertValue(cell, columns[i].Type)
			if err != nil {
				c.discard()
				return -1, err
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	c.columns = columns
	c.rows = rows
	c.next = 0
	c.rowCount = int64(len(rows))
	c.stats = &respData.Statistics
	logger.Debug().Int64("rows", c.rowCount).Float64("elapsed", respData.Statistics.Elapsed).Msg("query executed")
	return c.rowCount, nil
}

// NextRow returns the next row of the current result set, or io.EOF after
// the last row.
func (c *Cursor) NextRow() ([]Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &CursorClosedError{Op: "fetch row"}
	}
	if c.next >= len(c.rows) {
		return nil, io.EOF
	}
	row := c.rows[c.next]
	c.next++
	return row, nil
}

// Columns returns the schema of the current result set, or nil if the last
// statement produced none.
func (c *Cursor) Columns() []Column {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.columns
}

// RowCount returns the number of rows in the current result set, or -1 if
// the last statement produced none.
func (c *Cursor) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowCount
}

// Statistics returns the server-side measurements of the last executed
// statement, or nil if none are available.
func (c *Cursor) Statistics() *QueryStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close closes the cursor and removes it from its parent connection.
// Closing an already closed cursor is a no-op.
func (c *Cursor) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.discard()
	c.mu.Unlock()

	c.conn.removeCursor(c)
	return nil
}

// Closed reports whether the cursor has been closed.
func (c *Cursor) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeQuietly closes the cursor without touching the parent registry. The
// connection calls it while cascading Close, after the registry is already
// reset.
func (c *Cursor) closeQuietly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.discard()
}

// discard drops the current result set. Callers hold c.mu.
func (c *Cursor) discard() {
	c.columns = nil
	c.rows = nil
	c.next = 0
	c.rowCount = -1
	c.stats = nil
}

// convertValue converts one JSONCompact cell into a native Go value
// according to the column type reported by the engine. Types without a
// native mapping pass through as decoded JSON.
func convertValue(raw json.RawMessage, columnType string) (Value, error) {
	if string(raw) == "null" {
		return nil, nil
	}

	t := strings.ToLower(columnType)
	if rest, ok := strings.CutPrefix(t, "nullable("); ok {
		t = strings.TrimSuffix(rest, ")")
	}

	switch {
	case t == "long" || t == "bigint" || t == "integer" || strings.HasPrefix(t, "int") || strings.HasPrefix(t, "uint"):
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("column type %s: %w", columnType, err)
		}
		return v, nil

	case t == "real" || strings.HasPrefix(t, "float") || strings.HasPrefix(t, "double"):
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		// Engines render some doubles, NaN and the infinities included,
		// as strings.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("column type %s: %w", columnType, err)
		}
		return strconv.ParseFloat(s, 64)

	case t == "text" || t == "string" || strings.HasPrefix(t, "varchar"):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("column type %s: %w", columnType, err)
		}
		return s, nil

	case t == "boolean" || t == "bool":
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, nil
		}
		// Older engines render booleans as 0/1.
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("column type %s: %w", columnType, err)
		}
		return n != 0, nil

	case t == "date" || t == "date_ext" || strings.HasPrefix(t, "pgdate"):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("column type %s: %w", columnType, err)
		}
		return time.Parse("2006-01-02", s)

	case strings.HasPrefix(t, "timestamp") || strings.HasPrefix(t, "datetime"):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("column type %s: %w", columnType, err)
		}
		return time.Parse("2006-01-02 15:04:05.999999", s)

	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("column type %s: %w", columnType, err)
		}
		return v, nil
	}
}
