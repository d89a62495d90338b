package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"codes-bot/internal/lookup"
)

// DynamoDB accepts at most 25 put requests per BatchWriteItem call.
const maxBatchWrite = 25

// dynamodbAPI is the minimal DynamoDB interface required by DynamoSource.
type dynamodbAPI interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoSource serves the reference mapping from a DynamoDB table where each
// item carries a key attribute and a value attribute.
type DynamoSource struct {
	api        dynamodbAPI
	tableName  string
	keyField   string
	valueField string
}

var _ lookup.Source = (*DynamoSource)(nil)

// NewDynamoSource creates a DynamoSource reading keyField and valueField from
// tableName.
func NewDynamoSource(api dynamodbAPI, tableName, keyField, valueField string) (*DynamoSource, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	tableName = strings.TrimSpace(tableName)
	if tableName == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	keyField, valueField = strings.TrimSpace(keyField), strings.TrimSpace(valueField)
	if keyField == "" || valueField == "" {
		return nil, errors.New("repository: key and value fields must not be empty")
	}
	if keyField == valueField {
		return nil, errors.New("repository: key and value fields must differ")
	}
	return &DynamoSource{api: api, tableName: tableName, keyField: keyField, valueField: valueField}, nil
}

func (s *DynamoSource) Name() string {
	return "dynamodb:" + s.tableName
}

// Fetch scans the whole table, following LastEvaluatedKey until exhausted.
// Items missing either attribute are skipped.
func (s *DynamoSource) Fetch(ctx context.Context) ([]lookup.Entry, error) {
	var (
		entries  []lookup.Entry
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tableName),
			ProjectionExpression: aws.String("#k, #v"),
			ExpressionAttributeNames: map[string]string{
				"#k": s.keyField,
				"#v": s.valueField,
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: scan %s: %w", s.tableName, err)
		}
		if out == nil {
			return nil, fmt.Errorf("repository: scan %s: empty response", s.tableName)
		}

		for _, item := range out.Items {
			key, kok := scalarAttr(item, s.keyField)
			value, vok := scalarAttr(item, s.valueField)
			if !kok || !vok {
				continue
			}
			entries = append(entries, lookup.Entry{Key: key, Value: value})
		}

		if len(out.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Put writes entries to the table in batches, retrying unprocessed items
// until the table accepts them or ctx ends. A key repeated in entries keeps
// its last value.
func (s *DynamoSource) Put(ctx context.Context, entries []lookup.Entry) error {
	entries = lastWins(entries)
	for start := 0; start < len(entries); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(entries))

		reqs := make([]types.WriteRequest, 0, end-start)
		for _, e := range entries[start:end] {
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: map[string]types.AttributeValue{
				s.keyField:   &types.AttributeValueMemberS{Value: e.Key},
				s.valueField: &types.AttributeValueMemberS{Value: e.Value},
			}}})
		}

		pending := map[string][]types.WriteRequest{s.tableName: reqs}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retryDelay(attempt)):
				}
			}
			out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("repository: batch write %s: %w", s.tableName, err)
			}
			if out == nil {
				break
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func retryDelay(attempt int) time.Duration {
	d := 50 * time.Millisecond << min(attempt-1, 5)
	return min(d, time.Second)
}

func lastWins(entries []lookup.Entry) []lookup.Entry {
	idx := make(map[string]int, len(entries))
	out := make([]lookup.Entry, 0, len(entries))
	for _, e := range entries {
		if i, ok := idx[e.Key]; ok {
			out[i] = e
			continue
		}
		idx[e.Key] = len(out)
		out = append(out, e)
	}
	return out
}

// scalarAttr returns a string or number attribute as trimmed text.
func scalarAttr(item map[string]types.AttributeValue, key string) (string, bool) {
	var raw string
	switch v := item[key].(type) {
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberN:
		raw = v.Value
	default:
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
