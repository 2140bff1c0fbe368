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

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/provider"
)

const (
	dynamoSourceName = "dynamo"

	// DefaultConfigTable is the flat config table queried per directory.
	DefaultConfigTable = "global-all-config"
)

// dynamoRecord is one row of the config table.
type dynamoRecord struct {
	Directory string `dynamodbav:"directory"`
	Name      string `dynamodbav:"name"`
	Value     string `dynamodbav:"value"`
	Source    string `dynamodbav:"source"`
	TTL       int64  `dynamodbav:"ttl"`
}

// Dynamo serves values from a DynamoDB table keyed by directory path. Each
// directory is one Query, held in the shared local cache.
type Dynamo struct {
	client dynamodb.QueryAPIClient
	cache  *provider.LocalCache
	table  string
	errs   errorTracker
}

// DynamoOption customizes a Dynamo provider.
type DynamoOption func(*Dynamo)

// WithConfigTable overrides the table name.
func WithConfigTable(table string) DynamoOption {
	return func(d *Dynamo) { d.table = table }
}

// NewDynamo returns a DynamoDB config provider sharing the resolver's
// local cache.
func NewDynamo(client dynamodb.QueryAPIClient, cache *provider.LocalCache, opts ...DynamoOption) *Dynamo {
	d := &Dynamo{client: client, cache: cache, table: DefaultConfigTable}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dynamo) Name() string         { return dynamoSourceName }
func (d *Dynamo) Cacheable() bool      { return true }
func (d *Dynamo) NeedsDirectory() bool { return true }

func (d *Dynamo) Lookup(ctx context.Context, dir directory.Directory, name string) (*directory.Item, error) {
	if dir.IsZero() || dir.IsNonExistent() {
		return nil, nil
	}
	listing, err := d.listing(ctx, dir)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, nil
	}
	return listing.Get(name), nil
}

func (d *Dynamo) Retrieved(dir directory.Directory) (map[string]*directory.Item, bool) {
	cached, ok := d.cache.Get(dynamoSourceName, dir.Path())
	if !ok {
		return nil, false
	}
	listing, ok := cached.(*directory.Listing)
	if !ok || listing == nil {
		return nil, false
	}
	out := make(map[string]*directory.Item)
	for _, it := range listing.Items() {
		out[it.Name] = it
	}
	return out, true
}

func (d *Dynamo) listing(ctx context.Context, dir directory.Directory) (*directory.Listing, error) {
	if cached, ok := d.cache.Get(dynamoSourceName, dir.Path()); ok {
		listing, _ := cached.(*directory.Listing)
		return listing, nil
	}
	if d.errs.hasError(dir.Path()) {
		return nil, nil
	}

	listing := directory.NewListing(dir)
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("#dir = :dir"),
		ExpressionAttributeNames: map[string]string{
			"#dir": "directory",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":dir": &types.AttributeValueMemberS{Value: dir.Path()},
		},
	})
	now := time.Now().Unix()
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if recoverAWSError(ctx, err, dynamoSourceName, &d.errs, dir) {
				d.cache.Set(dynamoSourceName, dir.Path(), listing)
				return listing, nil
			}
			return nil, err
		}
		var records []dynamoRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return nil, fmt.Errorf("unmarshal config rows from %s: %w", d.table, err)
		}
		for _, rec := range records {
			if rec.Name == "" {
				continue
			}
			// Rows past their TTL linger until DynamoDB reaps them.
			if rec.TTL > 0 && rec.TTL < now {
				continue
			}
			source := rec.Source
			if source == "" {
				source = dynamoSourceName
			}
			listing.Add(directory.NewItem(dir, rec.Name, rec.Value, source))
		}
	}
	d.cache.Set(dynamoSourceName, dir.Path(), listing)
	return listing, nil
}
