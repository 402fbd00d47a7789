package dynamo

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goliatone/go-smarthome/alexa"
	"github.com/goliatone/go-smarthome/core"
)

// endpointItem is the APISensorEndpointDetails row. Lists are stored as
// JSON text in string attributes.
type endpointItem struct {
	EndpointID        string `dynamodbav:"EndpointId"`
	UserID            string `dynamodbav:"UserId"`
	FriendlyName      string `dynamodbav:"FriendlyName"`
	Description       string `dynamodbav:"Description"`
	ManufacturerName  string `dynamodbav:"ManufacturerName"`
	DisplayCategories string `dynamodbav:"DisplayCategories"`
	Capabilities      string `dynamodbav:"Capabilities"`
}

// userItem is the APISensorUsers row.
type userItem struct {
	UserID        string `dynamodbav:"UserId"`
	GrantCode     string `dynamodbav:"GrantCode"`
	GranteeToken  string `dynamodbav:"GranteeToken"`
	AccessToken   string `dynamodbav:"AccessToken"`
	ClientID      string `dynamodbav:"ClientId"`
	ClientSecret  string `dynamodbav:"ClientSecret"`
	ExpirationUTC string `dynamodbav:"ExpirationUTC"`
	RefreshToken  string `dynamodbav:"RefreshToken"`
	TokenType     string `dynamodbav:"TokenType"`
}

func encodeEndpoint(endpoint core.EndpointDescriptor) (map[string]types.AttributeValue, error) {
	capabilities := endpoint.Capabilities
	if capabilities == nil {
		capabilities = []alexa.Capability{}
	}
	rawCapabilities, err := json.Marshal(capabilities)
	if err != nil {
		return nil, fmt.Errorf("dynamo: encode capabilities: %w", err)
	}
	if err := alexa.ValidateCapabilities(rawCapabilities); err != nil {
		return nil, fmt.Errorf("dynamo: invalid capabilities for %s: %w", endpoint.EndpointID, err)
	}
	categories := endpoint.DisplayCategories
	if categories == nil {
		categories = []string{}
	}
	rawCategories, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("dynamo: encode display categories: %w", err)
	}

	return attributevalue.MarshalMap(endpointItem{
		EndpointID:        endpoint.EndpointID,
		UserID:            endpoint.UserID,
		FriendlyName:      endpoint.FriendlyName,
		Description:       endpoint.Description,
		ManufacturerName:  endpoint.ManufacturerName,
		DisplayCategories: string(rawCategories),
		Capabilities:      string(rawCapabilities),
	})
}

func decodeEndpoint(item map[string]types.AttributeValue) (core.EndpointDescriptor, error) {
	var row endpointItem
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return core.EndpointDescriptor{}, fmt.Errorf("dynamo: decode endpoint row: %w", err)
	}
	if strings.TrimSpace(row.EndpointID) == "" {
		return core.EndpointDescriptor{}, fmt.Errorf("dynamo: endpoint row without EndpointId")
	}

	endpoint := core.EndpointDescriptor{
		EndpointID:       row.EndpointID,
		UserID:           row.UserID,
		FriendlyName:     row.FriendlyName,
		Description:      row.Description,
		ManufacturerName: row.ManufacturerName,
	}
	if raw := strings.TrimSpace(row.Capabilities); raw != "" {
		if err := alexa.ValidateCapabilities([]byte(raw)); err != nil {
			return core.EndpointDescriptor{}, fmt.Errorf("dynamo: malformed capabilities on %s: %w", row.EndpointID, err)
		}
		if err := json.Unmarshal([]byte(raw), &endpoint.Capabilities); err != nil {
			return core.EndpointDescriptor{}, fmt.Errorf("dynamo: decode capabilities on %s: %w", row.EndpointID, err)
		}
	}
	if raw := strings.TrimSpace(row.DisplayCategories); raw != "" {
		if err := json.Unmarshal([]byte(raw), &endpoint.DisplayCategories); err != nil {
			return core.EndpointDescriptor{}, fmt.Errorf("dynamo: decode display categories on %s: %w", row.EndpointID, err)
		}
	}
	return endpoint, nil
}

func encodeCredential(credential core.Credential) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(userItem{
		UserID:        credential.UserID,
		GrantCode:     credential.GrantCode,
		GranteeToken:  credential.GranteeToken,
		AccessToken:   credential.AccessToken,
		ClientID:      credential.ClientID,
		ClientSecret:  credential.ClientSecret,
		ExpirationUTC: credential.ExpirationString(),
		RefreshToken:  credential.RefreshToken,
		TokenType:     credential.TokenType,
	})
}

func decodeCredential(item map[string]types.AttributeValue) (core.Credential, error) {
	var row userItem
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return core.Credential{}, fmt.Errorf("dynamo: decode user row: %w", err)
	}
	expiration, err := core.ParseExpiration(row.ExpirationUTC)
	if err != nil {
		return core.Credential{}, err
	}
	return core.Credential{
		UserID:        row.UserID,
		AccessToken:   row.AccessToken,
		RefreshToken:  row.RefreshToken,
		TokenType:     row.TokenType,
		ClientID:      row.ClientID,
		ClientSecret:  row.ClientSecret,
		ExpirationUTC: expiration,
		GrantCode:     row.GrantCode,
		GranteeToken:  row.GranteeToken,
	}, nil
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}
