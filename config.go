package firebolt

import (
	"errors"
	"net/http"

	"github.com/joeshaw/envdecode"
)

// Config defines the inputs for opening a connection.
//
// Exactly one of EngineName and EngineURL may be set; when both are empty
// the database's default engine is used. Exactly one credential form must
// be set: Username/Password, AccessToken, or ClientID/ClientSecret.
type Config struct {
	// Database is the name of the database to connect to. Required.
	Database string `env:"FIREBOLT_DATABASE"`

	// EngineName selects an engine by its registered name. The reserved
	// name SystemEngineName routes through the account gateway.
	EngineName string `env:"FIREBOLT_ENGINE_NAME"`

	// EngineURL connects directly to a known engine endpoint, skipping all
	// resolution round-trips.
	EngineURL string `env:"FIREBOLT_ENGINE_URL"`

	// AccountName scopes resolution for users with access to multiple
	// accounts. Empty selects the default account.
	AccountName string `env:"FIREBOLT_ACCOUNT"`

	// APIEndpoint is the Firebolt API host, used for authentication and
	// resource resolution. Defaults to DefaultAPIEndpoint.
	APIEndpoint string `env:"FIREBOLT_API_ENDPOINT"`

	// Username and Password authenticate a user account.
	Username string `env:"FIREBOLT_USERNAME"`
	Password string `env:"FIREBOLT_PASSWORD"`

	// AccessToken authenticates with a previously issued token. The token
	// is used as is: it is never refreshed and never cached.
	AccessToken string `env:"FIREBOLT_ACCESS_TOKEN"`

	// ClientID and ClientSecret authenticate a service account.
	ClientID     string `env:"FIREBOLT_CLIENT_ID"`
	ClientSecret string `env:"FIREBOLT_CLIENT_SECRET"`

	// DisableTokenCache turns off the persistent token cache. Issued
	// tokens are then held in process memory only, and any previously
	// cached record is left untouched.
	DisableTokenCache bool `env:"FIREBOLT_DISABLE_TOKEN_CACHE"`

	// TokenStore overrides where issued tokens are cached. Defaults to a
	// FileTokenStore under the user's home directory. Ignored when
	// DisableTokenCache is set.
	TokenStore TokenStore

	// Transport overrides the HTTP transport for every request, including
	// authentication. Defaults to a keep-alive tuned transport.
	Transport http.RoundTripper
}

// ConfigFromEnv loads a Config from FIREBOLT_* environment variables.
// Unset variables leave the corresponding fields at their zero values.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	return &cfg, nil
}
