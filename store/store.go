package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/homeapi/internal/keys"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

// Store reads and writes entities in the single table.
type Store struct {
	client  DynamoDBAPI
	config  Config
	indexes map[string]string
}

// New creates a new Store instance.
func New(client DynamoDBAPI, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		indexes: map[string]string{
			config.APIKeyIndex: config.APIKeyIndexAttr,
		},
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// GetItem looks up an entity by kind and identifier. A missing item returns
// (nil, nil).
func (s *Store) GetItem(ctx context.Context, kind keys.Kind, id string) (Entity, error) {
	if !keys.Valid(kind, id) {
		return nil, fmt.Errorf("get %s: %w", kind, keys.ErrMalformedKey)
	}
	k := keys.Encode(kind, id)

	var out *dynamodb.GetItemOutput
	err := s.do(ctx, "get item", func(ctx context.Context) error {
		var err error
		out, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.config.TableName),
			Key:       keyAttrs(k),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return s.decodeItem(out.Item)
}

// GetDevice is GetItem for devices.
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	e, err := s.GetItem(ctx, keys.KindDevice, id)
	if e == nil || err != nil {
		return nil, err
	}
	return e.(*Device), nil
}

// GetPlace is GetItem for places.
func (s *Store) GetPlace(ctx context.Context, id string) (*Place, error) {
	e, err := s.GetItem(ctx, keys.KindPlace, id)
	if e == nil || err != nil {
		return nil, err
	}
	return e.(*Place), nil
}

// GetAPIKey is GetItem for API keys.
func (s *Store) GetAPIKey(ctx context.Context, hash string) (*APIKey, error) {
	e, err := s.GetItem(ctx, keys.KindAPIKey, hash)
	if e == nil || err != nil {
		return nil, err
	}
	return e.(*APIKey), nil
}

// PutItem writes an entity. Devices and places are overwritten; API keys are
// only created, and an existing hash fails with ErrDuplicateKey.
func (s *Store) PutItem(ctx context.Context, e Entity) error {
	if !keys.Valid(e.Kind(), e.Identifier()) {
		return fmt.Errorf("put %s: %w", e.Kind(), keys.ErrMalformedKey)
	}
	item, err := s.encodeEntity(e)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TableName),
		Item:      item,
	}
	if e.Kind() == keys.KindAPIKey {
		expr, err := expression.NewBuilder().
			WithCondition(expression.AttributeNotExists(expression.Name(attrPK))).
			Build()
		if err != nil {
			return fmt.Errorf("build condition: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
	}

	err = s.do(ctx, "put item", func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, input)
		return err
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrDuplicateKey
	}
	return err
}

// DeleteItem removes an entity. Deleting a missing item is not an error.
func (s *Store) DeleteItem(ctx context.Context, kind keys.Kind, id string) error {
	if !keys.Valid(kind, id) {
		return fmt.Errorf("delete %s: %w", kind, keys.ErrMalformedKey)
	}
	k := keys.Encode(kind, id)

	return s.do(ctx, "delete item", func(ctx context.Context) error {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.config.TableName),
			Key:       keyAttrs(k),
		})
		return err
	})
}

// TouchAPIKey records that the key was used at the given time. A key deleted
// in the meantime is left deleted.
func (s *Store) TouchAPIKey(ctx context.Context, hash string, at time.Time) error {
	if !keys.Valid(keys.KindAPIKey, hash) {
		return fmt.Errorf("touch api key: %w", keys.ErrMalformedKey)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(attrPK))).
		WithUpdate(expression.Set(expression.Name(attrLastUsedAt), expression.Value(at.UTC()))).
		Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	err = s.do(ctx, "touch api key", func(ctx context.Context) error {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.config.TableName),
			Key:                       keyAttrs(keys.Encode(keys.KindAPIKey, hash)),
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return err
	})

	// Ignore condition failure - key was deleted
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// UpdateItem sets the attributes present on a reading without touching the
// rest, and returns the item as stored afterwards. Unset optional fields are
// left as they were. A reading that does not exist returns (nil, nil).
func (s *Store) UpdateItem(ctx context.Context, e Entity) (Entity, error) {
	switch e.Kind() {
	case keys.KindElectricity, keys.KindFinalElectricity, keys.KindPlaceCondition:
	default:
		return nil, fmt.Errorf("update: unsupported entity %s", e.Kind())
	}
	if !keys.Valid(e.Kind(), e.Identifier()) {
		return nil, fmt.Errorf("update %s: %w", e.Kind(), keys.ErrMalformedKey)
	}
	item, err := s.encodeEntity(e)
	if err != nil {
		return nil, err
	}
	delete(item, attrPK)
	delete(item, attrSK)
	if len(item) == 0 {
		return s.GetItem(ctx, e.Kind(), e.Identifier())
	}

	names := make([]string, 0, len(item))
	for name := range item {
		names = append(names, name)
	}
	sort.Strings(names)
	var update expression.UpdateBuilder
	for _, name := range names {
		update = update.Set(expression.Name(name), expression.Value(item[name]))
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(attrPK))).
		WithUpdate(update).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	var out *dynamodb.UpdateItemOutput
	err = s.do(ctx, "update item", func(ctx context.Context) error {
		var err error
		out, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.config.TableName),
			Key:                       keyAttrs(keys.Encode(e.Kind(), e.Identifier())),
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              types.ReturnValueAllNew,
		})
		return err
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decodeItem(out.Attributes)
}

func keyAttrs(k keys.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: k.PK},
		attrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}
