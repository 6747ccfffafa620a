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

/*
Package firebolt provides a lightweight and easy-to-use client for running SQL against a Firebolt database.

# Connecting

Use Open to authenticate and resolve the engine to run queries on. Credentials
and connection parameters come from a Config, which can also be populated from
FIREBOLT_* environment variables with ConfigFromEnv:

	conn, err := firebolt.Open(ctx, &firebolt.Config{
		Database:     "my_database",
		EngineName:   "my_engine",
		ClientID:     os.Getenv("FIREBOLT_CLIENT_ID"),
		ClientSecret: os.Getenv("FIREBOLT_CLIENT_SECRET"),
	})
	if err != nil {
		return err
	}
	defer conn.Close()

Leave EngineName and EngineURL unset to connect to the database's default
engine, or set EngineName to "system" together with AccountName to connect
to the account's system engine.

# Queries

Create a Cursor and execute statements through it. Execute returns the number
of rows in the result set, or -1 for statements that produce none:

	cursor, err := conn.Cursor()
	if err != nil {
		return err
	}
	defer cursor.Close()

	if _, err := cursor.Execute(ctx, "SELECT id, name FROM users"); err != nil {
		return err
	}
	for {
		row, err := cursor.NextRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		fmt.Println(row...)
	}

# Asynchronous queries

ExecuteAsync submits a statement and returns a QueryHandle instead of
waiting for the result. The handle polls the query's server-side status and
can cancel it; a handle can also be rebuilt from a bare query id with
Connection.QueryHandle:

	handle, err := cursor.ExecuteAsync(ctx, "INSERT INTO big SELECT * FROM source")
	if err != nil {
		return err
	}
	status, err := handle.Wait(ctx)
	if err != nil {
		return err
	}
	if !status.Succeeded() {
		return fmt.Errorf("query %s: %s", handle.ID(), status)
	}

# Token caching

Tokens obtained from username/password or client id/secret credentials are
cached on disk under ~/.firebolt, encrypted with a key derived from the
credentials, and reused across connections until they expire. Set
Config.DisableTokenCache to keep tokens in memory only, or plug in another
TokenStore implementation, such as the Redis-backed one in the redisstore
subpackage.
*/
package firebolt
