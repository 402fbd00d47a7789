package amazon

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-smarthome/core"
	"github.com/goliatone/go-smarthome/providers"
)

const (
	ProviderID = "lwa"
	TokenURL   = core.DefaultLWATokenURL
	ProfileURL = core.DefaultLWAProfileURL
)

// Login with Amazon token hosts per Alexa gateway region.
var regionTokenURLs = map[string]string{
	core.GatewayRegionNA: "https://api.amazon.com/auth/o2/token",
	core.GatewayRegionEU: "https://api.amazon.co.uk/auth/o2/token",
	core.GatewayRegionFE: "https://api.amazon.co.jp/auth/o2/token",
}

type Config struct {
	TokenURL       string
	RequestTimeout time.Duration
	HTTPClient     providers.HTTPDoer
}

func DefaultConfig() Config {
	return Config{
		TokenURL:       TokenURL,
		RequestTimeout: 10 * time.Second,
	}
}

// ConfigFromAuth maps the service auth section onto the LWA client config.
func ConfigFromAuth(auth core.AuthConfig) Config {
	return Config{
		TokenURL:       auth.TokenURL,
		RequestTimeout: auth.RequestTimeout,
	}
}

// TokenURLForRegion returns the regional LWA token endpoint, falling back to
// the global one for unknown regions.
func TokenURLForRegion(region string) string {
	if url, ok := regionTokenURLs[strings.ToLower(strings.TrimSpace(region))]; ok {
		return url
	}
	return TokenURL
}

// New builds the LWA token client. LWA expects the client credentials as
// form fields.
func New(cfg Config) (*providers.OAuth2Client, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return providers.NewOAuth2Client(providers.OAuth2Config{
		ID:                 ProviderID,
		TokenURL:           cfg.TokenURL,
		ClientSecretInBody: true,
		RequestTimeout:     cfg.RequestTimeout,
		HTTPClient:         httpClient,
	})
}
