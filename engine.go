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
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// engineURLByName resolves the endpoint of the named engine through the
// engine registry.
//
// A 404 from the lookup means the engine does not exist: authentication has
// already succeeded by the time the lookup runs, so the status is
// unambiguous. Every other failure is wrapped as an InterfaceError. The
// database-default path deliberately has no such carve-out.
func engineURLByName(ctx context.Context, c *Client, engineName string) (string, error) {
	endpoint, err := resolveEngineByName(ctx, c, engineName)
	if err != nil {
		if resolvePassthrough(err) {
			return "", err
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return "", &EngineError{Name: engineName}
		}
		return "", &InterfaceError{Op: "retrieve engine endpoint", Err: err}
	}
	return endpoint, nil
}

func resolveEngineByName(ctx context.Context, c *Client, engineName string) (string, error) {
	accountID, err := c.AccountID(ctx)
	if err != nil {
		return "", err
	}
	engineID, err := engineIDByName(ctx, c, accountID, engineName)
	if err != nil {
		return "", err
	}
	return engineEndpoint(ctx, c, accountID, engineID)
}

// databaseDefaultEngineURL resolves the endpoint of the engine bound to the
// database as its default. Every failure in the chain, 404s included, is
// wrapped as an InterfaceError: a missing database is not distinguishable
// from other lookup failures at this layer.
func databaseDefaultEngineURL(ctx context.Context, c *Client, database string) (string, error) {
	endpoint, err := resolveDefaultEngine(ctx, c, database)
	if err != nil {
		if resolvePassthrough(err) {
			return "", err
		}
		var dbErr *DatabaseError
		if errors.As(err, &dbErr) {
			return "", err
		}
		return "", &InterfaceError{Op: "retrieve default engine endpoint", Err: err}
	}
	return endpoint, nil
}

func resolveDefaultEngine(ctx context.Context, c *Client, database string) (string, error) {
	accountID, err := c.AccountID(ctx)
	if err != nil {
		return "", err
	}
	databaseID, err := databaseIDByName(ctx, c, accountID, database)
	if err != nil {
		return "", err
	}
	bindings, err := databaseBindings(ctx, c, accountID, databaseID)
	if err != nil {
		return "", err
	}

	var engineID string
	for _, b := range bindings {
		if b.Node.EngineIsDefault {
			engineID = b.Node.ID.EngineID
			break
		}
	}
	if engineID == "" {
		return "", &DatabaseError{Database: database}
	}
	return engineEndpoint(ctx, c, accountID, engineID)
}

// systemEngineURL discovers the account's system engine through the gateway
// endpoint. A 404 means the account itself is unknown.
func systemEngineURL(ctx context.Context, c *Client, accountName string) (string, error) {
	resp, err := c.get(ctx, c.apiEndpoint+fmt.Sprintf(gatewayHostPath, url.PathEscape(accountName)), nil)
	if err != nil {
		return "", err
	}
	defer sneakyBodyClose(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return "", &AccountNotFoundError{Account: accountName}
	}
	if err := checkStatusCodeOK(resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var respData struct {
		EngineURL string `json:"engineUrl"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return "", &InterfaceError{Op: "retrieve system engine endpoint", Err: err}
	}
	if respData.EngineURL == "" {
		return "", &InterfaceError{Op: "retrieve system engine endpoint", Err: errors.New("no engine url in response")}
	}
	return respData.EngineURL, nil
}

// resolvePassthrough reports whether err already carries its final type and
// must not be wrapped by the resolver.
func resolvePassthrough(err error) bool {
	var accErr *AccountNotFoundError
	var authErr *AuthenticationError
	var confErr *ConfigurationError
	return errors.As(err, &accErr) || errors.As(err, &authErr) || errors.As(err, &confErr)
}

func engineIDByName(ctx context.Context, c *Client, accountID, engineName string) (string, error) {
	params := url.Values{}
	params.Set("engine_name", engineName)

	resp, err := c.get(ctx, c.apiEndpoint+fmt.Sprintf(engineByNamePath, accountID), params)
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
		EngineID struct {
			EngineID string `json:"engine_id"`
		} `json:"engine_id"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return "", err
	}
	if respData.EngineID.EngineID == "" {
		return "", errors.New("no engine id in response")
	}
	return respData.EngineID.EngineID, nil
}

func engineEndpoint(ctx context.Context, c *Client, accountID, engineID string) (string, error) {
	resp, err := c.get(ctx, c.apiEndpoint+fmt.Sprintf(engineByIDPath, accountID, engineID), nil)
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
		Engine struct {
			Endpoint string `json:"endpoint"`
		} `json:"engine"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return "", err
	}
	if respData.Engine.Endpoint == "" {
		return "", errors.New("no engine endpoint in response")
	}
	return respData.Engine.Endpoint, nil
}

func databaseIDByName(ctx context.Context, c *Client, accountID, database string) (string, error) {
	params := url.Values{}
	params.Set("database_name", database)

	resp, err := c.get(ctx, c.apiEndpoint+fmt.Sprintf(databaseByNamePath, accountID), params)
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
		DatabaseID struct {
			DatabaseID string `json:"database_id"`
		} `json:"database_id"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return "", err
	}
	if respData.DatabaseID.DatabaseID == "" {
		return "", errors.New("no database id in response")
	}
	return respData.DatabaseID.DatabaseID, nil
}

type binding struct {
	Node struct {
		ID struct {
			EngineID string `json:"engine_id"`
		} `json:"id"`
		EngineIsDefault bool `json:"engine_is_default"`
	} `json:"node"`
}

func databaseBindings(ctx context.Context, c *Client, accountID, databaseID string) ([]binding, error) {
	params := url.Values{}
	params.Set("filter.id_database_id_eq", databaseID)

	resp, err := c.get(ctx, c.apiEndpoint+fmt.Sprintf(bindingsPath, accountID), params)
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
		Edges []binding `json:"edges"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return nil, err
	}
	return respData.Edges, nil
}
