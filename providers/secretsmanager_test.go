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
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/provider"
)

type fakeSecretsClient struct {
	listCalls atomic.Int32
	getCalls  atomic.Int32
	secrets   map[string]*string // full name -> value (nil means no value set)
	listErr   error
	getErr    error
}

func (f *fakeSecretsClient) ListSecrets(_ context.Context, _ *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.listCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &secretsmanager.ListSecretsOutput{}
	for name := range f.secrets {
		out.SecretList = append(out.SecretList, smtypes.SecretListEntry{Name: aws.String(name)})
	}
	return out, nil
}

func (f *fakeSecretsClient) GetSecretValue(_ context.Context, input *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.getCalls.Add(1)
	if f.getErr != nil {
		return nil, f.getErr
	}
	value, ok := f.secrets[*input.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: value}, nil
}

func TestSecretsManagerLookup(t *testing.T) {
	ctx := context.Background()
	client := &fakeSecretsClient{secrets: map[string]*string{
		"/myService/prod/API_TOKEN": aws.String("tok-123"),
		"/myService/prod/OTHER":     aws.String("other"),
		"/elsewhere/dev/THING":      aws.String("x"),
	}}
	sm := NewSecretsManager(client, provider.NewLocalCache())
	dir := directory.New("myService", "prod")

	item, err := sm.Lookup(ctx, dir, "api_token")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "tok-123", item.Value)
	assert.Equal(t, "secrets", item.Source)
	assert.Equal(t, int32(1), client.listCalls.Load())
	assert.Equal(t, int32(1), client.getCalls.Load(), "only the requested secret is fetched")

	// Second lookup of the same secret is served from memory.
	_, err = sm.Lookup(ctx, dir, "API_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.getCalls.Load())

	// A name the listing does not contain never triggers a fetch.
	item, err = sm.Lookup(ctx, dir, "unlisted")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, int32(1), client.getCalls.Load())
	assert.Equal(t, int32(1), client.listCalls.Load(), "the name index is listed once")
}

func TestSecretsManagerMissingValue(t *testing.T) {
	ctx := context.Background()
	client := &fakeSecretsClient{secrets: map[string]*string{
		"/svc/prod/EMPTY": nil,
	}}
	sm := NewSecretsManager(client, provider.NewLocalCache())
	dir := directory.New("svc", "prod")

	item, err := sm.Lookup(ctx, dir, "empty")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, int32(1), client.getCalls.Load())

	// The miss is remembered; no second fetch.
	item, err = sm.Lookup(ctx, dir, "empty")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, int32(1), client.getCalls.Load())
}

func TestSecretsManagerRetrievedExcludesUnfetched(t *testing.T) {
	ctx := context.Background()
	client := &fakeSecretsClient{secrets: map[string]*string{
		"/svc/prod/FETCHED":   aws.String("a"),
		"/svc/prod/UNFETCHED": aws.String("b"),
	}}
	sm := NewSecretsManager(client, provider.NewLocalCache())
	dir := directory.New("svc", "prod")

	_, err := sm.Lookup(ctx, dir, "fetched")
	require.NoError(t, err)

	items, ok := sm.Retrieved(dir)
	require.True(t, ok)
	assert.Len(t, items, 1)
	assert.Contains(t, items, "fetched")
}

func TestSecretsManagerListPermissionError(t *testing.T) {
	ctx := context.Background()
	client := &fakeSecretsClient{listErr: accessDenied()}
	sm := NewSecretsManager(client, provider.NewLocalCache())
	dir := directory.New("svc", "prod")

	item, err := sm.Lookup(ctx, dir, "key")
	require.NoError(t, err)
	assert.Nil(t, item)

	item, err = sm.Lookup(ctx, dir, "key2")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, int32(1), client.listCalls.Load())
}
