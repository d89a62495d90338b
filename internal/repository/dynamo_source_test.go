package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"codes-bot/internal/lookup"
)

type fakeDynamo struct {
	pages    []*dynamodb.ScanOutput
	scanErr  error
	scanIns  []*dynamodb.ScanInput
	writeIns []*dynamodb.BatchWriteItemInput
	// unprocessed is returned once from the first BatchWriteItem call.
	unprocessed map[string][]types.WriteRequest
	writeErr    error
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanIns = append(f.scanIns, in)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.pages[len(f.scanIns)-1], nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.writeIns = append(f.writeIns, in)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: f.unprocessed}
	f.unprocessed = nil
	return out, nil
}

func item(kv ...types.AttributeValue) map[string]types.AttributeValue {
	m := map[string]types.AttributeValue{}
	if len(kv) > 0 && kv[0] != nil {
		m["article"] = kv[0]
	}
	if len(kv) > 1 && kv[1] != nil {
		m["barcode"] = kv[1]
	}
	return m
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestNewDynamoSource_Validation(t *testing.T) {
	api := &fakeDynamo{}
	cases := []struct {
		name              string
		api               dynamodbAPI
		table, key, value string
	}{
		{name: "nil api", table: "t", key: "k", value: "v"},
		{name: "no table", api: api, table: " ", key: "k", value: "v"},
		{name: "no key", api: api, table: "t", key: "", value: "v"},
		{name: "same fields", api: api, table: "t", key: "k", value: "k"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDynamoSource(tc.api, tc.table, tc.key, tc.value)
			require.Error(t, err)
		})
	}
}

func TestDynamoSource_FetchPaginates(t *testing.T) {
	lastKey := map[string]types.AttributeValue{"article": s("A2")}
	api := &fakeDynamo{pages: []*dynamodb.ScanOutput{
		{Items: []map[string]types.AttributeValue{
			item(s("A1"), s("000111")),
			item(s("A2"), n("4600")),
		}, LastEvaluatedKey: lastKey},
		{Items: []map[string]types.AttributeValue{
			item(s("A3")),
			item(nil, s("999")),
			item(s("  "), s("1")),
			item(s("a4"), s(" 222 ")),
		}},
	}}
	src, err := NewDynamoSource(api, "reference", "article", "barcode")
	require.NoError(t, err)
	require.Equal(t, "dynamodb:reference", src.Name())

	entries, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []lookup.Entry{
		{Key: "A1", Value: "000111"},
		{Key: "A2", Value: "4600"},
		{Key: "a4", Value: "222"},
	}, entries)

	require.Len(t, api.scanIns, 2)
	require.Nil(t, api.scanIns[0].ExclusiveStartKey)
	require.Equal(t, lastKey, api.scanIns[1].ExclusiveStartKey)
	require.Equal(t, "reference", *api.scanIns[0].TableName)
	require.Equal(t, map[string]string{"#k": "article", "#v": "barcode"}, api.scanIns[0].ExpressionAttributeNames)
}

func TestDynamoSource_FetchError(t *testing.T) {
	api := &fakeDynamo{scanErr: errors.New("throttled")}
	src, err := NewDynamoSource(api, "reference", "article", "barcode")
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	require.ErrorContains(t, err, "throttled")
	require.ErrorContains(t, err, "scan reference")
}

func TestDynamoSource_PutBatchesAndRetries(t *testing.T) {
	api := &fakeDynamo{}
	src, err := NewDynamoSource(api, "reference", "article", "barcode")
	require.NoError(t, err)

	entries := make([]lookup.Entry, 0, 30)
	for i := range 30 {
		entries = append(entries, lookup.Entry{Key: string(rune('A' + i)), Value: "v"})
	}
	entries = append(entries, lookup.Entry{Key: "A", Value: "last"})

	retry := []types.WriteRequest{{PutRequest: &types.PutRequest{Item: item(s("B"), s("v"))}}}
	api.unprocessed = map[string][]types.WriteRequest{"reference": retry}

	require.NoError(t, src.Put(context.Background(), entries))

	// 25 + retry of one unprocessed item + 5
	require.Len(t, api.writeIns, 3)
	first := api.writeIns[0].RequestItems["reference"]
	require.Len(t, first, maxBatchWrite)
	require.Equal(t, s("last"), first[0].PutRequest.Item["barcode"])
	require.Equal(t, retry, api.writeIns[1].RequestItems["reference"])
	require.Len(t, api.writeIns[2].RequestItems["reference"], 5)
}

func TestDynamoSource_PutError(t *testing.T) {
	api := &fakeDynamo{writeErr: errors.New("denied")}
	src, err := NewDynamoSource(api, "reference", "article", "barcode")
	require.NoError(t, err)

	err = src.Put(context.Background(), []lookup.Entry{{Key: "A1", Value: "1"}})
	require.ErrorContains(t, err, "denied")
}
