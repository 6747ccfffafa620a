package firebolt

import (
	"net/url"
	"strings"
)

// DefaultAPIEndpoint is the Firebolt API host used when Config.APIEndpoint
// is empty.
const DefaultAPIEndpoint = "api.app.firebolt.io"

// SystemEngineName is the reserved engine name that selects the account's
// system engine, resolved through the gateway endpoint instead of the
// engine registry.
const SystemEngineName = "system"

const (
	authTokenPath = "/auth/v1/token"
	authLoginPath = "/auth/v1/login"

	accountByNamePath = "/iam/v2/accounts:getIdByName"

	// The account id slot is filled at call time.
	engineByNamePath   = "/core/v1/accounts/%s/engines:getIdByName"
	engineByIDPath     = "/core/v1/accounts/%s/engines/%s"
	databaseByNamePath = "/core/v1/accounts/%s/databases:getIdByName"
	bindingsPath       = "/core/v1/accounts/%s/bindings"

	gatewayHostPath = "/web/v3/account/%s/engineUrl"

	// Engine-relative endpoints for server-side queries.
	statusPath = "/status"
	cancelPath = "/cancel"
)

// fixURLScheme prepends https:// to endpoints given without a scheme, so
// that bare hosts like api.app.firebolt.io are accepted everywhere a URL is.
func fixURLScheme(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}

// authEndpoint derives the authentication endpoint from the API endpoint by
// replacing the first host label with "id": api.app.firebolt.io serves the
// API while id.app.firebolt.io issues tokens. Path and query are dropped,
// scheme and port are kept.
func authEndpoint(apiEndpoint string) (*url.URL, error) {
	u, err := url.Parse(fixURLScheme(apiEndpoint))
	if err != nil {
		return nil, err
	}

	labels := strings.Split(u.Hostname(), ".")
	labels[0] = "id"
	host := strings.Join(labels, ".")
	if port := u.Port(); port != "" {
		host += ":" + port
	}

	return &url.URL{Scheme: u.Scheme, Host: host}, nil
}
