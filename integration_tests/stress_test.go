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

package integration_tests

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	firebolt "github.com/firebolt-db/firebolt-go-sdk"
	testkit "github.com/firebolt-db/firebolt-go-sdk/integration_tests/internal"
	"github.com/stretchr/testify/require"
)

const (
	InsertDataBatch = 256
	TaskParallelism = 8
	TaskInterval    = 50 * time.Millisecond
	TaskDuration    = 10 * time.Second
)

type stressSuite struct {
	t  testing.TB
	tk *testkit.TestKit

	idGen     *atomic.Int64
	tableName string
}

func newStressSuite(t testing.TB, tk *testkit.TestKit) *stressSuite {
	return &stressSuite{
		t:         t,
		tk:        tk,
		idGen:     &atomic.Int64{},
		tableName: tk.RandomName(),
	}
}

func (suite *stressSuite) init(ctx context.Context) {
	stmt := fmt.Sprintf(
		`CREATE FACT TABLE %s (id long, message text) PRIMARY INDEX id`, suite.tableName)
	suite.tk.NewTable(ctx, suite.tableName, stmt)
}

func (suite *stressSuite) insertRows(ctx context.Context, cursor *firebolt.Cursor) {
	msg := suite.tk.RandomString(256)
	idStart := suite.idGen.Add(InsertDataBatch) - InsertDataBatch

	values := make([]string, 0, InsertDataBatch)
	for i := 0; i < InsertDataBatch; i++ {
		values = append(values, fmt.Sprintf("(%d, '%s')", idStart+int64(i), msg))
	}
	stmt := fmt.Sprintf(`INSERT INTO %s VALUES %s`, suite.tableName, strings.Join(values, ", "))

	start := time.Now()
	_, err := cursor.Execute(ctx, stmt)
	require.NoError(suite.t, err)
	suite.t.Logf("Inserted %d rows into %s in %s", InsertDataBatch, suite.tableName, time.Since(start))
}

func (suite *stressSuite) queryCount(ctx context.Context, cursor *firebolt.Cursor) {
	start := time.Now()
	_, err := cursor.Execute(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, suite.tableName))
	require.NoError(suite.t, err)
	suite.t.Logf("Counted rows in %s", time.Since(start))
}

func (suite *stressSuite) queryTables(ctx context.Context, cursor *firebolt.Cursor) {
	start := time.Now()
	_, err := cursor.Execute(ctx, `SELECT table_name FROM information_schema.tables`)
	require.NoError(suite.t, err)
	suite.t.Logf("Queried tables in %s", time.Since(start))
}

func BenchmarkStressHeavyReadWrite(b *testing.B) {
	if !OptionEnabled("FIREBOLT_STRESS") {
		b.Skip("stress disabled")
	}
	tk := testkit.NewTestKit(b)
	if tk == nil {
		b.Skip("nil testkit")
	}
	defer tk.Close()

	ctx := context.Background()
	suite := newStressSuite(b, tk)
	suite.init(ctx)

	wg := sync.WaitGroup{}
	tasks := make(chan func(*firebolt.Cursor), 1024)
	for i := 0; i < TaskParallelism; i++ {
		cursor, err := tk.Connection().Cursor()
		require.NoError(b, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				task(cursor)
			}
		}()
	}

	c := time.After(TaskDuration)

	for {
		select {
		case <-c:
			close(tasks)
			wg.Wait()
			fmt.Println("Inserted:", suite.idGen.Load())
			fmt.Println("Shutting down...")
			return
		default:
			tasks <- func(cursor *firebolt.Cursor) {
				n, err := rand.Int(rand.Reader, big.NewInt(3))
				require.NoError(b, err)
				switch n.Int64() {
				case 0:
					suite.insertRows(ctx, cursor)
				case 1:
					suite.queryCount(ctx, cursor)
				case 2:
					suite.queryTables(ctx, cursor)
				}
			}
			time.Sleep(TaskInterval)
		}
	}
}
