package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLWATokenURL   = "https://api.amazon.com/auth/o2/token"
	DefaultLWAProfileURL = "https://api.amazon.com/user/profile"
)

const (
	GatewayRegionNA = "na"
	GatewayRegionEU = "eu"
	GatewayRegionFE = "fe"
)

var gatewayRegionURLs = map[string]string{
	GatewayRegionNA: "https://api.amazonalexa.com/v3/events",
	GatewayRegionEU: "https://api.eu.amazonalexa.com/v3/events",
	GatewayRegionFE: "https://api.fe.amazonalexa.com/v3/events",
}

const (
	StorageDriverSQLite   = "sqlite3"
	StorageDriverPostgres = "postgres"
	StorageDriverDynamoDB = "dynamodb"
	StorageDriverMemory   = "memory"
)

type AuthConfig struct {
	ClientID       string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret   string        `koanf:"client_secret" mapstructure:"client_secret"`
	TokenURL       string        `koanf:"token_url" mapstructure:"token_url"`
	ProfileURL     string        `koanf:"profile_url" mapstructure:"profile_url"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

// HasClientCredentials reports whether both skill client credentials are set.
func (c AuthConfig) HasClientCredentials() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

type TokenConfig struct {
	ExpiryBuffer    time.Duration `koanf:"expiry_buffer" mapstructure:"expiry_buffer"`
	IssueMargin     time.Duration `koanf:"issue_margin" mapstructure:"issue_margin"`
	// RefreshAttempts bounds retries of a transient refresh failure.
	RefreshAttempts int           `koanf:"refresh_attempts" mapstructure:"refresh_attempts"`
	RefreshBackoff  time.Duration `koanf:"refresh_backoff" mapstructure:"refresh_backoff"`
	RefreshLockTTL  time.Duration `koanf:"refresh_lock_ttl" mapstructure:"refresh_lock_ttl"`
}

type GatewayConfig struct {
	Region         string        `koanf:"region" mapstructure:"region"`
	URL            string        `koanf:"url" mapstructure:"url"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

// EndpointURL returns the explicit override or the regional event gateway.
func (c GatewayConfig) EndpointURL() string {
	if url := strings.TrimSpace(c.URL); url != "" {
		return url
	}
	return gatewayRegionURLs[strings.ToLower(strings.TrimSpace(c.Region))]
}

type DiscoveryConfig struct {
	ManufacturerName string `koanf:"manufacturer_name" mapstructure:"manufacturer_name"`
	Description      string `koanf:"description" mapstructure:"description"`
}

type OutboxConfig struct {
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	// Deferred hands draining to the job queue instead of the request path.
	Deferred bool `koanf:"deferred" mapstructure:"deferred"`
}

type StorageConfig struct {
	Driver         string        `koanf:"driver" mapstructure:"driver"`
	DSN            string        `koanf:"dsn" mapstructure:"dsn"`
	EndpointsTable string        `koanf:"endpoints_table" mapstructure:"endpoints_table"`
	UsersTable     string        `koanf:"users_table" mapstructure:"users_table"`
	CacheTTL       time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type MQTTConfig struct {
	Broker      string `koanf:"broker" mapstructure:"broker"`
	ClientID    string `koanf:"client_id" mapstructure:"client_id"`
	Username    string `koanf:"username" mapstructure:"username"`
	Password    string `koanf:"password" mapstructure:"password"`
	TopicPrefix string `koanf:"topic_prefix" mapstructure:"topic_prefix"`
	QoS         int    `koanf:"qos" mapstructure:"qos"`
}

func (c MQTTConfig) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

type LoggingConfig struct {
	Level  string `koanf:"level" mapstructure:"level"`
	Format string `koanf:"format" mapstructure:"format"`
}

type ValidationConfig struct {
	DisableEnvelopes bool `koanf:"disable_envelopes" mapstructure:"disable_envelopes"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Auth        AuthConfig       `koanf:"auth" mapstructure:"auth"`
	Tokens      TokenConfig      `koanf:"tokens" mapstructure:"tokens"`
	Gateway     GatewayConfig    `koanf:"gateway" mapstructure:"gateway"`
	Discovery   DiscoveryConfig  `koanf:"discovery" mapstructure:"discovery"`
	Outbox      OutboxConfig     `koanf:"outbox" mapstructure:"outbox"`
	Storage     StorageConfig    `koanf:"storage" mapstructure:"storage"`
	MQTT        MQTTConfig       `koanf:"mqtt" mapstructure:"mqtt"`
	Logging     LoggingConfig    `koanf:"logging" mapstructure:"logging"`
	Validation  ValidationConfig `koanf:"validation" mapstructure:"validation"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "smarthome",
		Auth: AuthConfig{
			TokenURL:       DefaultLWATokenURL,
			ProfileURL:     DefaultLWAProfileURL,
			RequestTimeout: 10 * time.Second,
		},
		Tokens: TokenConfig{
			ExpiryBuffer:    DefaultTokenExpiryBuffer,
			IssueMargin:     DefaultTokenIssueMargin,
			RefreshAttempts: defaultRefreshMaxAttempts,
			RefreshBackoff:  defaultRefreshInitialBackoff,
			RefreshLockTTL:  defaultRefreshLockTTL,
		},
		Gateway: GatewayConfig{
			Region:         GatewayRegionEU,
			RequestTimeout: 10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			ManufacturerName: DefaultManufacturerName,
			Description:      DefaultEndpointDescription,
		},
		Outbox: OutboxConfig{
			BatchSize:      defaultOutboxBatchSize,
			MaxAttempts:    defaultOutboxMaxAttempts,
			InitialBackoff: defaultOutboxInitialBackoff,
			MaxBackoff:     defaultOutboxMaxBackoff,
		},
		Storage: StorageConfig{
			Driver:         StorageDriverMemory,
			EndpointsTable: "APISensorEndpointDetails",
			UsersTable:     "APISensorUsers",
			CacheTTL:       30 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    "smarthome",
			TopicPrefix: "smarthome",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Tokens.ExpiryBuffer < 0 || c.Tokens.IssueMargin < 0 {
		return fmt.Errorf("core: tokens expiry_buffer and issue_margin must not be negative")
	}
	if c.Tokens.RefreshAttempts < 0 {
		return fmt.Errorf("core: tokens refresh_attempts must not be negative")
	}
	if strings.TrimSpace(c.Gateway.URL) == "" {
		if _, ok := gatewayRegionURLs[strings.ToLower(strings.TrimSpace(c.Gateway.Region))]; !ok {
			return fmt.Errorf("core: gateway region %q is invalid", c.Gateway.Region)
		}
	}
	switch strings.TrimSpace(c.Storage.Driver) {
	case "", StorageDriverMemory, StorageDriverSQLite, StorageDriverPostgres, StorageDriverDynamoDB:
	default:
		return fmt.Errorf("core: storage driver %q is invalid", c.Storage.Driver)
	}
	if c.Outbox.BatchSize < 0 || c.Outbox.MaxAttempts < 0 {
		return fmt.Errorf("core: outbox batch_size and max_attempts must not be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("core: mqtt qos %d is invalid", c.MQTT.QoS)
	}
	return nil
}
