package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-smarthome/alexa"
)

type endpointRecord struct {
	bun.BaseModel `bun:"table:smarthome_endpoints,alias:se"`

	ID                string             `bun:"id,pk"`
	EndpointID        string             `bun:"endpoint_id,notnull"`
	UserID            string             `bun:"user_id,notnull"`
	FriendlyName      string             `bun:"friendly_name,notnull"`
	Description       string             `bun:"description,notnull"`
	ManufacturerName  string             `bun:"manufacturer_name,notnull"`
	DisplayCategories []string           `bun:"display_categories,type:jsonb,notnull"`
	Capabilities      []alexa.Capability `bun:"capabilities,type:jsonb,notnull"`
	CreatedAt         time.Time          `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time          `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:smarthome_credentials,alias:sc"`

	ID            string    `bun:"id,pk"`
	UserID        string    `bun:"user_id,notnull"`
	AccessToken   string    `bun:"access_token,notnull"`
	RefreshToken  string    `bun:"refresh_token,notnull"`
	TokenType     string    `bun:"token_type,notnull"`
	ClientID      string    `bun:"client_id,notnull"`
	ClientSecret  string    `bun:"client_secret,notnull"`
	ExpirationUTC string    `bun:"expiration_utc,notnull"`
	GrantCode     string    `bun:"grant_code,notnull"`
	GranteeToken  string    `bun:"grantee_token,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type lifecycleOutboxRecord struct {
	bun.BaseModel `bun:"table:smarthome_lifecycle_outbox,alias:slo"`

	ID            string         `bun:"id,pk"`
	EventID       string         `bun:"event_id,notnull"`
	EventName     string         `bun:"event_name,notnull"`
	EndpointID    string         `bun:"endpoint_id,notnull"`
	UserID        string         `bun:"user_id,notnull"`
	Source        string         `bun:"source,notnull"`
	Payload       map[string]any `bun:"payload,type:jsonb,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	Delivered     []string       `bun:"delivered,type:jsonb"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError     string         `bun:"last_error"`
	OccurredAt    time.Time      `bun:"occurred_at,nullzero,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
