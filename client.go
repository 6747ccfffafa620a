package firebolt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Client is an authenticated HTTP client for the Firebolt API. It attaches
// a bearer token to every request and memoizes account resolution for its
// lifetime.
//
// URLs are passed through exactly as built by the caller: /resource and
// /resource/ are different resources to the backend, so no trailing slash
// is ever appended.
type Client struct {
	httpClient  *http.Client
	auth        *authenticator
	accountName string
	apiEndpoint string

	group     singleflight.Group
	mu        sync.Mutex
	accountID string
}

func newClient(httpClient *http.Client, auth *authenticator, accountName, apiEndpoint string) *Client {
	return &Client{
		httpClient:  httpClient,
		auth:        auth,
		accountName: accountName,
		apiEndpoint: apiEndpoint,
	}
}

// AccountID resolves the configured account name to its id, or the default
// account's id when no name is configured. The first call issues a GET to
// the account endpoint; concurrent first callers share that round-trip, and
// the result is reused for the Client's lifetime.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accountID != "" {
		id := c.accountID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("account_id", func() (interface{}, error) {
		return c.fetchAccountID(ctx)
	})
	if err != nil {
		return "", err
	}

	id := v.(string)
	c.mu.Lock()
	c.accountID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) fetchAccountID(ctx context.Context) (string, error) {
	params := url.Values{}
	if c.accountName != "" {
		params.Set("account_name", c.accountName)
	}

	resp, err := c.get(ctx, c.apiEndpoint+accountByNamePath, params)
	if err != nil {
		return "", err
	}
	defer sneakyBodyClose(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return "", &AccountNotFoundError{Account: c.accountName}
	}
	if err := checkStatusCodeOK(resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var respData struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &respData); err != nil {
		return "", err
	}
	if respData.ID == "" {
		return "", &AccountNotFoundError{Account: c.accountName}
	}

	logger.Debug().Str("account_id", respData.ID).Msg("resolved account")
	return respData.ID, nil
}

func (c *Client) get(ctx context.Context, rawURL string, params url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, params, "", nil)
}

func (c *Client) post(ctx context.Context, rawURL string, params url.Values, contentType string, body []byte) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, params, contentType, body)
}

func (c *Client) do(ctx context.Context, method, rawURL string, params url.Values, contentType string, body []byte) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}

	token, err := c.auth.token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

func (c *Client) closeIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
