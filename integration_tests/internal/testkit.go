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

package testkit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	firebolt "github.com/firebolt-db/firebolt-go-sdk"
	"github.com/lucasepe/codename"
	"github.com/stretchr/testify/require"
)

// TestKit wraps a live connection and tracks the tables a test creates so
// that Close can drop them.
type TestKit struct {
	t testing.TB

	conn   *firebolt.Connection
	cursor *firebolt.Cursor

	tables []string
}

// NewTestKit opens a connection from FIREBOLT_* environment variables. It
// returns nil when no database is configured.
func NewTestKit(t testing.TB) *TestKit {
	cfg, err := firebolt.ConfigFromEnv()
	if err != nil || cfg.Database == "" {
		return nil
	}

	ctx := context.Background()
	conn, err := firebolt.Open(ctx, cfg)
	require.NoError(t, err)
	cursor, err := conn.Cursor()
	require.NoError(t, err)

	return &TestKit{t: t, conn: conn, cursor: cursor}
}

func (tk *TestKit) Connection() *firebolt.Connection {
	return tk.conn
}

func (tk *TestKit) Close() {
	ctx := context.Background()

	for _, table := range tk.tables {
		_, err := tk.cursor.Execute(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table))
		require.NoError(tk.t, err)
	}

	require.NoError(tk.t, tk.conn.Close())
}

// RandomName generates a random name.
func (tk *TestKit) RandomName() string {
	rng, err := codename.DefaultRNG()
	require.NoError(tk.t, err)
	return strings.ReplaceAll(codename.Generate(rng, 10), "-", "_")
}

// RandomString generates a random string of n bytes.
func (tk *TestKit) RandomString(n int) string {
	require.Greater(tk.t, n, 0)

	bytes := make([]byte, n)
	_, err := rand.Read(bytes)
	require.NoError(tk.t, err)

	return hex.EncodeToString(bytes)[:n]
}

// NewTable creates a new table and tracks it for close.
func (tk *TestKit) NewTable(ctx context.Context, tableName string, createTableStatement string) {
	_, err := tk.cursor.Execute(ctx, createTableStatement)
	require.NoError(tk.t, err)
	tk.tables = append(tk.tables, tableName)
}

// Exec runs a statement and returns its row count.
func (tk *TestKit) Exec(ctx context.Context, query string) int64 {
	count, err := tk.cursor.Execute(ctx, query)
	require.NoError(tk.t, err)
	return count
}

// Query runs a statement and drains its result set.
func (tk *TestKit) Query(ctx context.Context, query string) [][]firebolt.Value {
	_, err := tk.cursor.Execute(ctx, query)
	require.NoError(tk.t, err)

	var rows [][]firebolt.Value
	for {
		row, err := tk.cursor.NextRow()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(tk.t, err)
		rows = append(rows, row)
	}
	return rows
}

// Columns returns the column descriptions of the last Query or Exec.
func (tk *TestKit) Columns() []firebolt.Column {
	return tk.cursor.Columns()
}

// Statistics returns the server statistics of the last Query or Exec.
func (tk *TestKit) Statistics() *firebolt.QueryStatistics {
	return tk.cursor.Statistics()
}
