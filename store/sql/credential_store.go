package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-smarthome/core"
)

// CredentialStore keeps one credential row per user.
type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*credentialRecord]
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{db: db, repo: repo}, nil
}

func (s *CredentialStore) Get(ctx context.Context, userID string) (core.Credential, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, core.NewStorageError("credential get", err)
	}
	if len(records) == 0 {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	return records[0].toDomain()
}

// Put replaces the stored credential for the user.
func (s *CredentialStore) Put(ctx context.Context, credential core.Credential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	credential.UserID = strings.TrimSpace(credential.UserID)
	if credential.UserID == "" {
		return core.NewValidationError("userId", "credential user id is required")
	}

	now := time.Now().UTC()
	record := newCredentialRecord(credential, now)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_type = EXCLUDED.token_type").
		Set("client_id = EXCLUDED.client_id").
		Set("client_secret = EXCLUDED.client_secret").
		Set("expiration_utc = EXCLUDED.expiration_utc").
		Set("grant_code = EXCLUDED.grant_code").
		Set("grantee_token = EXCLUDED.grantee_token").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.NewStorageError("credential put", err)
	}
	return nil
}

func newCredentialRecord(credential core.Credential, now time.Time) *credentialRecord {
	return &credentialRecord{
		ID:            uuid.NewString(),
		UserID:        credential.UserID,
		AccessToken:   credential.AccessToken,
		RefreshToken:  credential.RefreshToken,
		TokenType:     credential.TokenType,
		ClientID:      credential.ClientID,
		ClientSecret:  credential.ClientSecret,
		ExpirationUTC: credential.ExpirationString(),
		GrantCode:     credential.GrantCode,
		GranteeToken:  credential.GranteeToken,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r credentialRecord) toDomain() (core.Credential, error) {
	expiration, err := core.ParseExpiration(r.ExpirationUTC)
	if err != nil {
		return core.Credential{}, core.NewStorageError("credential decode", err)
	}
	return core.Credential{
		UserID:        strings.TrimSpace(r.UserID),
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		TokenType:     r.TokenType,
		ClientID:      r.ClientID,
		ClientSecret:  r.ClientSecret,
		ExpirationUTC: expiration,
		GrantCode:     r.GrantCode,
		GranteeToken:  r.GranteeToken,
	}, nil
}
