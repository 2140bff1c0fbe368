// Copyright (C) 2025 Xyngular, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultCacheTable is the DynamoDB table backing the distributed cache.
const DefaultCacheTable = "global-all-configCache"

// Keep under DynamoDB's 25-request BatchWriteItem ceiling.
const cacheWriteBatchSize = 25

// DynamoCacheAPI is the subset of the DynamoDB API the cache store uses.
type DynamoCacheAPI interface {
	dynamodb.QueryAPIClient
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// cacheRow is the DynamoDB shape of a CacheRecord. The ttl attribute is
// epoch seconds so the table's TTL reaper can expire rows server-side.
type cacheRow struct {
	AppKey               string  `dynamodbav:"app_key"`
	NameKey              string  `dynamodbav:"name_key"`
	RealName             string  `dynamodbav:"real_name"`
	OriginalName         string  `dynamodbav:"original_name"`
	RealDirectory        string  `dynamodbav:"real_directory"`
	DirectoryFingerprint string  `dynamodbav:"cache_concat_directory_paths"`
	ProviderFingerprint  string  `dynamodbav:"cache_concat_provider_names"`
	Value                *string `dynamodbav:"value"`
	Source               string  `dynamodbav:"source"`
	TTL                  int64   `dynamodbav:"ttl"`
	CreatedAt            string  `dynamodbav:"created_at"`
}

// DynamoCacheStore implements CacheStore on a DynamoDB table keyed by
// (app_key, name_key).
type DynamoCacheStore struct {
	client DynamoCacheAPI
	table  string
}

// CacheStoreOption customizes a DynamoCacheStore.
type CacheStoreOption func(*DynamoCacheStore)

// WithCacheTable overrides the table name.
func WithCacheTable(table string) CacheStoreOption {
	return func(s *DynamoCacheStore) { s.table = table }
}

// NewDynamoCacheStore returns a store over the given DynamoDB client.
func NewDynamoCacheStore(client DynamoCacheAPI, opts ...CacheStoreOption) *DynamoCacheStore {
	s := &DynamoCacheStore{client: client, table: DefaultCacheTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DynamoCacheStore) Fetch(ctx context.Context, partitionKey string) ([]CacheRecord, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("app_key = :app"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":app": &types.AttributeValueMemberS{Value: partitionKey},
		},
	})
	var records []CacheRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query cache table %s: %w", s.table, err)
		}
		var rows []cacheRow
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return nil, fmt.Errorf("unmarshal cache rows from %s: %w", s.table, err)
		}
		for _, row := range rows {
			records = append(records, row.record())
		}
	}
	return records, nil
}

func (s *DynamoCacheStore) Write(ctx context.Context, records []CacheRecord) error {
	for start := 0; start < len(records); start += cacheWriteBatchSize {
		end := min(start+cacheWriteBatchSize, len(records))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, rec := range records[start:end] {
			av, err := attributevalue.MarshalMap(newCacheRow(rec))
			if err != nil {
				return fmt.Errorf("marshal cache row %s: %w", rec.SortKey, err)
			}
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: av},
			})
		}
		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: requests},
		})
		if err != nil {
			return fmt.Errorf("write cache table %s: %w", s.table, err)
		}
	}
	return nil
}

func newCacheRow(rec CacheRecord) cacheRow {
	return cacheRow{
		AppKey:               rec.PartitionKey,
		NameKey:              rec.SortKey,
		RealName:             rec.Name,
		OriginalName:         rec.OriginalName,
		RealDirectory:        rec.Directory,
		DirectoryFingerprint: rec.DirectoryFingerprint,
		ProviderFingerprint:  rec.ProviderFingerprint,
		Value:                rec.Value,
		Source:               rec.Source,
		TTL:                  rec.ExpiresAt.Unix(),
		CreatedAt:            rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (r cacheRow) record() CacheRecord {
	created, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		created = time.Time{}
	}
	return CacheRecord{
		PartitionKey:         r.AppKey,
		SortKey:              r.NameKey,
		Name:                 r.RealName,
		OriginalName:         r.OriginalName,
		Directory:            r.RealDirectory,
		DirectoryFingerprint: r.DirectoryFingerprint,
		ProviderFingerprint:  r.ProviderFingerprint,
		Value:                r.Value,
		Source:               r.Source,
		CreatedAt:            created,
		ExpiresAt:            time.Unix(r.TTL, 0).UTC(),
	}
}
