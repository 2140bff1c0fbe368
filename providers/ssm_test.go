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
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/provider"
)

type fakeSSMClient struct {
	calls  atomic.Int32
	params map[string]string // full path -> value
	err    error
}

func (f *fakeSSMClient) GetParametersByPath(_ context.Context, input *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersByPathOutput{}
	prefix := *input.Path + "/"
	for name, value := range f.params {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{
				Name:  aws.String(name),
				Value: aws.String(value),
			})
		}
	}
	return out, nil
}

func TestSSMLookup(t *testing.T) {
	ctx := context.Background()
	client := &fakeSSMClient{params: map[string]string{
		"/myService/prod/DB_HOST": "db.internal",
		"/myService/prod/DB_PORT": "5432",
	}}
	store := NewSSMParamStore(client, provider.NewLocalCache())
	dir := directory.New("myService", "prod")

	item, err := store.Lookup(ctx, dir, "db_host")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "db.internal", item.Value)
	assert.Equal(t, "ssm", item.Source)

	// The sibling came back in the same fetch.
	item, err = store.Lookup(ctx, dir, "DB_PORT")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "5432", item.Value)
	assert.Equal(t, int32(1), client.calls.Load(), "one directory fetch serves every name under it")

	item, err = store.Lookup(ctx, dir, "missing")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestSSMRetrieved(t *testing.T) {
	ctx := context.Background()
	client := &fakeSSMClient{params: map[string]string{"/svc/prod/KEY": "v"}}
	store := NewSSMParamStore(client, provider.NewLocalCache())
	dir := directory.New("svc", "prod")

	_, ok := store.Retrieved(dir)
	assert.False(t, ok, "nothing retrieved before the first lookup")

	_, err := store.Lookup(ctx, dir, "key")
	require.NoError(t, err)

	items, ok := store.Retrieved(dir)
	require.True(t, ok)
	assert.Len(t, items, 1)
	assert.Equal(t, "v", items["key"].Value)
}

func TestSSMPermissionErrorSkipsDirectoryForever(t *testing.T) {
	ctx := context.Background()
	client := &fakeSSMClient{err: accessDenied()}
	cache := provider.NewLocalCache()
	store := NewSSMParamStore(client, cache)
	dir := directory.New("svc", "prod")

	item, err := store.Lookup(ctx, dir, "key")
	require.NoError(t, err, "permission errors degrade to a miss")
	assert.Nil(t, item)
	assert.Equal(t, int32(1), client.calls.Load())

	// Even after the local cache is dropped, the directory stays skipped.
	cache.Reset()
	item, err = store.Lookup(ctx, dir, "key")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestSSMZeroDirectory(t *testing.T) {
	ctx := context.Background()
	client := &fakeSSMClient{}
	store := NewSSMParamStore(client, provider.NewLocalCache())

	item, err := store.Lookup(ctx, directory.Directory{}, "key")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Zero(t, client.calls.Load())
}
