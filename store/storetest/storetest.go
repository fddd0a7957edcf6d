// Package storetest provides an in-memory stand-in for the DynamoDB table used
// by the store package. It understands the expressions the store builds:
// equality key conditions with an optional sort key BETWEEN, the
// attribute_exists/attribute_not_exists conditions and SET updates.
package storetest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Operation names accepted by Fail and Calls.
const (
	OpGetItem    = "GetItem"
	OpPutItem    = "PutItem"
	OpDeleteItem = "DeleteItem"
	OpUpdateItem = "UpdateItem"
	OpQuery      = "Query"
)

var (
	assignment   = regexp.MustCompile(`(#\w+)\s*=\s*(:\w+)`)
	notExistsFn  = regexp.MustCompile(`attribute_not_exists\s*\(\s*(#\w+)\s*\)`)
	existsFn     = regexp.MustCompile(`attribute_exists\s*\(\s*(#\w+)\s*\)`)
	between      = regexp.MustCompile(`(#\w+)\s+BETWEEN\s+(:\w+)\s+AND\s+(:\w+)`)
	conditionMsg = aws.String("The conditional request failed")
)

// Client is an in-memory table with a partition key "pk" and sort key "sk".
type Client struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	indexes  map[string]string
	failures map[string][]error
	calls    map[string]int

	// MaxPageItems, when positive, caps every Query response below the
	// requested Limit, the way DynamoDB cuts pages at 1MB.
	MaxPageItems int
}

// NewClient returns an empty table. Call AddIndex for each secondary index.
func NewClient() *Client {
	return &Client{
		items:    make(map[string]map[string]types.AttributeValue),
		indexes:  make(map[string]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// AddIndex registers a secondary index partitioned on attr.
func (c *Client) AddIndex(name, attr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[name] = attr
}

// Fail queues errors returned by the next calls of op, one per call.
func (c *Client) Fail(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], errs...)
}

// Calls returns how many times op was called.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Put stores a raw item, bypassing any conditions.
func (c *Client) Put(item map[string]types.AttributeValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[itemKey(item)] = copyItem(item)
}

// Item returns the raw item with the given key, or nil.
func (c *Client) Item(pk, sk string) map[string]types.AttributeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[pk+"\x00"+sk]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of stored items.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Client) begin(op string) error {
	c.calls[op]++
	if errs := c.failures[op]; len(errs) > 0 {
		c.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

// GetItem implements store.DynamoDBAPI.
func (c *Client) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpGetItem); err != nil {
		return nil, err
	}
	item, ok := c.items[itemKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

// PutItem implements store.DynamoDBAPI.
func (c *Client) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpPutItem); err != nil {
		return nil, err
	}
	key := itemKey(params.Item)
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, c.items[key]); err != nil {
		return nil, err
	}
	c.items[key] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem implements store.DynamoDBAPI.
func (c *Client) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpDeleteItem); err != nil {
		return nil, err
	}
	key := itemKey(params.Key)
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, c.items[key]); err != nil {
		return nil, err
	}
	delete(c.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

// UpdateItem implements store.DynamoDBAPI. Only SET clauses are supported.
func (c *Client) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpUpdateItem); err != nil {
		return nil, err
	}
	key := itemKey(params.Key)
	current := c.items[key]
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, current); err != nil {
		return nil, err
	}

	updated := copyItem(current)
	if updated == nil {
		updated = copyItem(params.Key)
	}
	update := aws.ToString(params.UpdateExpression)
	if !strings.HasPrefix(strings.TrimSpace(update), "SET") {
		return nil, fmt.Errorf("storetest: unsupported update expression %q", update)
	}
	for _, m := range assignment.FindAllStringSubmatch(update, -1) {
		updated[params.ExpressionAttributeNames[m[1]]] = params.ExpressionAttributeValues[m[2]]
	}
	c.items[key] = updated

	out := &dynamodb.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

// Query implements store.DynamoDBAPI for equality key conditions on the table
// partition key or a registered index. A BETWEEN on sk narrows the table
// partition; ScanIndexForward false returns items in descending order.
func (c *Client) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpQuery); err != nil {
		return nil, err
	}

	partAttr := "pk"
	var keyAttrs []string
	if name := aws.ToString(params.IndexName); name != "" {
		attr, ok := c.indexes[name]
		if !ok {
			return nil, &types.ResourceNotFoundException{Message: aws.String("index not found: " + name)}
		}
		partAttr = attr
		keyAttrs = []string{"pk", "sk", attr}
	} else {
		keyAttrs = []string{"pk", "sk"}
	}

	m := assignment.FindStringSubmatch(aws.ToString(params.KeyConditionExpression))
	if m == nil || params.ExpressionAttributeNames[m[1]] != partAttr {
		return nil, fmt.Errorf("storetest: unsupported key condition %q", aws.ToString(params.KeyConditionExpression))
	}
	want, ok := params.ExpressionAttributeValues[m[2]].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("storetest: key condition value must be a string")
	}

	inRange := func(map[string]types.AttributeValue) bool { return true }
	if b := between.FindStringSubmatch(aws.ToString(params.KeyConditionExpression)); b != nil {
		if params.ExpressionAttributeNames[b[1]] != "sk" {
			return nil, fmt.Errorf("storetest: BETWEEN is only supported on sk")
		}
		lo, okLo := params.ExpressionAttributeValues[b[2]].(*types.AttributeValueMemberS)
		hi, okHi := params.ExpressionAttributeValues[b[3]].(*types.AttributeValueMemberS)
		if !okLo || !okHi {
			return nil, fmt.Errorf("storetest: BETWEEN bounds must be strings")
		}
		inRange = func(item map[string]types.AttributeValue) bool {
			sk, ok := item["sk"].(*types.AttributeValueMemberS)
			return ok && sk.Value >= lo.Value && sk.Value <= hi.Value
		}
	}

	var matched []map[string]types.AttributeValue
	for _, item := range c.items {
		if v, ok := item[partAttr].(*types.AttributeValueMemberS); ok && v.Value == want.Value && inRange(item) {
			matched = append(matched, item)
		}
	}
	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		if forward {
			return itemKey(matched[i]) < itemKey(matched[j])
		}
		return itemKey(matched[i]) > itemKey(matched[j])
	})

	if params.ExclusiveStartKey != nil {
		after := itemKey(params.ExclusiveStartKey)
		i := sort.Search(len(matched), func(i int) bool {
			if forward {
				return itemKey(matched[i]) > after
			}
			return itemKey(matched[i]) < after
		})
		matched = matched[i:]
	}

	limit := len(matched)
	if params.Limit != nil && int(*params.Limit) < limit {
		limit = int(*params.Limit)
	}
	if c.MaxPageItems > 0 && c.MaxPageItems < limit {
		limit = c.MaxPageItems
	}

	out := &dynamodb.QueryOutput{}
	for _, item := range matched[:limit] {
		out.Items = append(out.Items, copyItem(item))
	}
	out.Count = int32(len(out.Items))

	if limit < len(matched) || (params.Limit != nil && limit == int(*params.Limit) && limit > 0) {
		last := matched[limit-1]
		out.LastEvaluatedKey = make(map[string]types.AttributeValue, len(keyAttrs))
		for _, a := range keyAttrs {
			out.LastEvaluatedKey[a] = last[a]
		}
	}
	return out, nil
}

func checkCondition(expr *string, names map[string]string, current map[string]types.AttributeValue) error {
	if expr == nil {
		return nil
	}
	for _, m := range notExistsFn.FindAllStringSubmatch(*expr, -1) {
		if _, ok := current[names[m[1]]]; ok {
			return &types.ConditionalCheckFailedException{Message: conditionMsg}
		}
	}
	for _, m := range existsFn.FindAllStringSubmatch(*expr, -1) {
		if _, ok := current[names[m[1]]]; !ok {
			return &types.ConditionalCheckFailedException{Message: conditionMsg}
		}
	}
	return nil
}

// itemKey orders items by partition then sort key.
func itemKey(item map[string]types.AttributeValue) string {
	var pk, sk string
	if v, ok := item["pk"].(*types.AttributeValueMemberS); ok {
		pk = v.Value
	}
	if v, ok := item["sk"].(*types.AttributeValueMemberS); ok {
		sk = v.Value
	}
	return pk + "\x00" + sk
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
