package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/goliatone/go-smarthome/core"
)

// CredentialStore keeps one credential row per user, keyed by UserId.
type CredentialStore struct {
	client API
	table  string
}

func NewCredentialStore(client API, table string) (*CredentialStore, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamo: client is required")
	}
	if strings.TrimSpace(table) == "" {
		table = DefaultUsersTable
	}
	return &CredentialStore{client: client, table: table}, nil
}

func (s *CredentialStore) Get(ctx context.Context, userID string) (core.Credential, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            stringKey("UserId", userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return core.Credential{}, core.NewStorageError("credential get", err)
	}
	if out == nil || len(out.Item) == 0 {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	credential, err := decodeCredential(out.Item)
	if err != nil {
		return core.Credential{}, core.NewStorageError("credential get", err)
	}
	return credential, nil
}

// Put replaces the whole row for credential.UserID.
func (s *CredentialStore) Put(ctx context.Context, credential core.Credential) error {
	if strings.TrimSpace(credential.UserID) == "" {
		return core.NewValidationError("user_id", "user id is required")
	}
	item, err := encodeCredential(credential)
	if err != nil {
		return core.NewStorageError("credential put", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return core.NewStorageError("credential put", err)
	}
	return nil
}
