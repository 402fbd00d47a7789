package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goliatone/go-smarthome/core"
)

// EndpointStore keeps endpoint descriptors in a table keyed by EndpointId.
type EndpointStore struct {
	client API
	table  string
}

func NewEndpointStore(client API, table string) (*EndpointStore, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamo: client is required")
	}
	if strings.TrimSpace(table) == "" {
		table = DefaultEndpointsTable
	}
	return &EndpointStore{client: client, table: table}, nil
}

func (s *EndpointStore) Upsert(ctx context.Context, endpoint core.EndpointDescriptor) error {
	if err := endpoint.Validate(); err != nil {
		return err
	}
	item, err := encodeEndpoint(endpoint)
	if err != nil {
		return core.NewStorageError("endpoint upsert", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return core.NewStorageError("endpoint upsert", err)
	}
	return nil
}

func (s *EndpointStore) Get(ctx context.Context, endpointID string) (core.EndpointDescriptor, error) {
	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		return core.EndpointDescriptor{}, core.ErrEndpointNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            stringKey("EndpointId", endpointID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return core.EndpointDescriptor{}, core.NewStorageError("endpoint get", err)
	}
	if out == nil || len(out.Item) == 0 {
		return core.EndpointDescriptor{}, core.ErrEndpointNotFound
	}
	endpoint, err := decodeEndpoint(out.Item)
	if err != nil {
		return core.EndpointDescriptor{}, core.NewStorageError("endpoint get", err)
	}
	return endpoint, nil
}

func (s *EndpointStore) Delete(ctx context.Context, endpointID string) error {
	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		return nil
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       stringKey("EndpointId", endpointID),
	})
	if err != nil {
		return core.NewStorageError("endpoint delete", err)
	}
	return nil
}

// DeleteAll removes every row. Rows that fail to delete stay out of the
// returned slice and their errors are joined.
func (s *EndpointStore) DeleteAll(ctx context.Context) ([]core.EndpointDescriptor, error) {
	snapshot, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	deleted := make([]core.EndpointDescriptor, 0, len(snapshot))
	var failures []error
	for _, endpoint := range snapshot {
		if err := s.Delete(ctx, endpoint.EndpointID); err != nil {
			failures = append(failures, err)
			continue
		}
		deleted = append(deleted, endpoint)
	}
	return deleted, joinFailures(failures)
}

func (s *EndpointStore) List(ctx context.Context) ([]core.EndpointDescriptor, error) {
	return s.scan(ctx, "endpoint list", &dynamodb.ScanInput{TableName: aws.String(s.table)})
}

func (s *EndpointStore) FindByUser(ctx context.Context, userID string) ([]core.EndpointDescriptor, error) {
	return s.scan(ctx, "endpoint find by user", &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("UserId = :user_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: strings.TrimSpace(userID)},
		},
	})
}

func (s *EndpointStore) scan(ctx context.Context, operation string, input *dynamodb.ScanInput) ([]core.EndpointDescriptor, error) {
	out := make([]core.EndpointDescriptor, 0)
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, core.NewStorageError(operation, err)
		}
		for _, item := range page.Items {
			endpoint, err := decodeEndpoint(item)
			if err != nil {
				return nil, core.NewStorageError(operation, err)
			}
			out = append(out, endpoint)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointID < out[j].EndpointID })
	return out, nil
}
