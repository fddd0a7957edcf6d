package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Token is a continuation token: the key of the last item of a page, which the
// next query resumes after. It is only meaningful to the query that produced it.
type Token []byte

// Page is one bounded slice of a query result in sort key order.
type Page struct {
	Items []Entity

	// Cursors holds, for each item, the token that resumes right after it.
	Cursors []Token

	// Next resumes after the last item. It is nil when no items remain.
	Next Token
}

// SortRange bounds a query to sort keys between From and To, inclusive.
type SortRange struct {
	From string
	To   string
}

// QueryOptions controls a partition query.
type QueryOptions struct {
	// Token resumes after the item it was issued for.
	Token Token

	// PageSize is the maximum number of items returned.
	PageSize int32

	// Range, when set, limits the sort keys read.
	Range *SortRange

	// Reverse reads in descending sort key order.
	Reverse bool
}

// QueryByPartition returns up to pageSize items of a partition, resuming after
// token when one is given.
func (s *Store) QueryByPartition(ctx context.Context, pk string, token Token, pageSize int32) (Page, error) {
	return s.Query(ctx, pk, QueryOptions{Token: token, PageSize: pageSize})
}

// Query returns one page of a partition. A token whose sort key falls outside
// opts.Range is rejected with ErrInvalidToken.
func (s *Store) Query(ctx context.Context, pk string, opts QueryOptions) (Page, error) {
	start, err := decodeToken(opts.Token, attrPK, pk, attrPK, attrSK)
	if err != nil {
		return Page{}, err
	}

	cond := expression.Key(attrPK).Equal(expression.Value(pk))
	if r := opts.Range; r != nil {
		if r.From > r.To {
			return Page{}, fmt.Errorf("query: empty sort key range %q..%q", r.From, r.To)
		}
		if start != nil {
			sk := start[attrSK].(*types.AttributeValueMemberS).Value
			if sk < r.From || sk > r.To {
				return Page{}, ErrInvalidToken
			}
		}
		cond = expression.KeyAnd(cond, expression.Key(attrSK).Between(expression.Value(r.From), expression.Value(r.To)))
	}

	expr, err := expression.NewBuilder().WithKeyCondition(cond).Build()
	if err != nil {
		return Page{}, fmt.Errorf("build key condition: %w", err)
	}

	return s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         start,
		ScanIndexForward:          aws.Bool(!opts.Reverse),
	}, opts.PageSize, []string{attrPK, attrSK})
}

// QueryByIndex returns up to pageSize items whose index partition attribute
// equals value, resuming after token when one is given.
func (s *Store) QueryByIndex(ctx context.Context, indexName, value string, token Token, pageSize int32) (Page, error) {
	attr, ok := s.indexes[indexName]
	if !ok {
		return Page{}, fmt.Errorf("%w: %s", ErrUnknownIndex, indexName)
	}
	start, err := decodeToken(token, attr, value, attrPK, attrSK, attr)
	if err != nil {
		return Page{}, err
	}

	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(attr).Equal(expression.Value(value))).
		Build()
	if err != nil {
		return Page{}, fmt.Errorf("build key condition: %w", err)
	}

	return s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		IndexName:                 aws.String(indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         start,
	}, pageSize, []string{attrPK, attrSK, attr})
}

// query reads pageSize+1 items so that Next is only set when more remain.
// DynamoDB may stop short of Limit (1MB pages), so it keeps following
// LastEvaluatedKey until it has enough.
func (s *Store) query(ctx context.Context, input *dynamodb.QueryInput, pageSize int32, tokenAttrs []string) (Page, error) {
	if pageSize < 1 {
		return Page{}, fmt.Errorf("query: page size must be positive, got %d", pageSize)
	}
	want := int(pageSize) + 1

	var raw []map[string]types.AttributeValue
	for {
		input.Limit = aws.Int32(int32(want - len(raw)))

		var out *dynamodb.QueryOutput
		err := s.do(ctx, "query", func(ctx context.Context) error {
			var err error
			out, err = s.client.Query(ctx, input)
			return err
		})
		if err != nil {
			return Page{}, err
		}

		raw = append(raw, out.Items...)
		if len(raw) >= want || len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	more := len(raw) > int(pageSize)
	if more {
		raw = raw[:pageSize]
	}

	page := Page{
		Items:   make([]Entity, 0, len(raw)),
		Cursors: make([]Token, 0, len(raw)),
	}
	for _, item := range raw {
		e, err := s.decodeItem(item)
		if err != nil {
			return Page{}, err
		}
		t, err := encodeToken(item, tokenAttrs)
		if err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, e)
		page.Cursors = append(page.Cursors, t)
	}
	if more && len(page.Cursors) > 0 {
		page.Next = page.Cursors[len(page.Cursors)-1]
	}
	return page, nil
}

func encodeToken(item map[string]types.AttributeValue, attrs []string) (Token, error) {
	key := make(map[string]string, len(attrs))
	for _, a := range attrs {
		v, ok := stringAttr(item, a)
		if !ok {
			return nil, fmt.Errorf("%w: missing attribute %q", ErrCorruptRecord, a)
		}
		key[a] = v
	}
	b, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("marshal token: %w", err)
	}
	return b, nil
}

// decodeToken turns a token back into an ExclusiveStartKey. The token must name
// exactly attrs and its partAttr value must match the partition being queried.
func decodeToken(t Token, partAttr, partValue string, attrs ...string) (map[string]types.AttributeValue, error) {
	if len(t) == 0 {
		return nil, nil
	}
	var key map[string]string
	if err := json.Unmarshal(t, &key); err != nil {
		return nil, ErrInvalidToken
	}
	if len(key) != len(attrs) || key[partAttr] != partValue {
		return nil, ErrInvalidToken
	}

	start := make(map[string]types.AttributeValue, len(attrs))
	for _, a := range attrs {
		v, ok := key[a]
		if !ok || v == "" {
			return nil, ErrInvalidToken
		}
		start[a] = &types.AttributeValueMemberS{Value: v}
	}
	return start, nil
}
