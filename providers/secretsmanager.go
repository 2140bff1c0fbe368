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
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/provider"
)

const (
	secretsSourceName = "secrets"

	// Local-cache keys. The availability index is account-wide, value
	// listings are per directory.
	secretsAvailableKey = "available"
	secretsValuesPrefix = "values:"

	// Source recorded on placeholder items for secrets that were listed
	// but whose value turned out to be absent; keeps a miss from being
	// re-fetched every lookup.
	secretsNoValueSource = "secrets/no-value"
)

// SecretsManagerClient is the subset of the Secrets Manager API the
// provider uses.
type SecretsManagerClient interface {
	secretsmanager.ListSecretsAPIClient
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretsIndex maps directory path to the names listed under it. Values
// are fetched lazily, one secret at a time, because GetSecretValue is the
// expensive call.
type secretsIndex map[string]*directory.Listing

// SecretsManager serves values from AWS Secrets Manager. Secret names are
// expected to be directory-shaped ("/service/env/NAME"); the full name
// index is listed once per cache window and individual values fetched on
// demand.
type SecretsManager struct {
	client SecretsManagerClient
	cache  *provider.LocalCache
	errs   errorTracker
}

// NewSecretsManager returns a secrets provider sharing the resolver's
// local cache.
func NewSecretsManager(client SecretsManagerClient, cache *provider.LocalCache) *SecretsManager {
	return &SecretsManager{client: client, cache: cache}
}

func (s *SecretsManager) Name() string         { return secretsSourceName }
func (s *SecretsManager) Cacheable() bool      { return true }
func (s *SecretsManager) NeedsDirectory() bool { return true }

func (s *SecretsManager) Lookup(ctx context.Context, dir directory.Directory, name string) (*directory.Item, error) {
	if dir.IsZero() || dir.IsNonExistent() {
		return nil, nil
	}

	values := s.values(dir)
	if item := values.Get(name); item != nil {
		if item.Source == secretsNoValueSource {
			return nil, nil
		}
		return item, nil
	}

	index, err := s.index(ctx, dir)
	if err != nil {
		return nil, err
	}
	available := index[dir.Path()]
	if available == nil {
		return nil, nil
	}
	entry := available.Get(name)
	if entry == nil {
		return nil, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(dir.Path() + "/" + entry.OriginalName),
	})
	if err != nil {
		// A secret deleted between list and get is a miss for that name
		// only, not a directory-wide failure.
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) || recoverAWSError(ctx, err, secretsSourceName, &s.errs, dir) {
			values.Add(directory.NewItem(dir, entry.OriginalName, "", secretsNoValueSource))
			return nil, nil
		}
		return nil, err
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	default:
		values.Add(directory.NewItem(dir, entry.OriginalName, "", secretsNoValueSource))
		return nil, nil
	}
	item := directory.NewItem(dir, entry.OriginalName, value, secretsSourceName)
	values.Add(item)
	return item, nil
}

// Retrieved exposes only the secrets already fetched for a directory;
// unfetched names are deliberately excluded so the distributed cache never
// stores a value we have not read.
func (s *SecretsManager) Retrieved(dir directory.Directory) (map[string]*directory.Item, bool) {
	cached, ok := s.cache.Get(secretsSourceName, secretsValuesPrefix+dir.Path())
	if !ok {
		return nil, false
	}
	listing, ok := cached.(*directory.Listing)
	if !ok || listing == nil {
		return nil, false
	}
	out := make(map[string]*directory.Item)
	for _, it := range listing.Items() {
		if it.Source == secretsNoValueSource {
			continue
		}
		out[it.Name] = it
	}
	return out, true
}

// values returns the per-directory listing of fetched secrets, creating it
// on first use.
func (s *SecretsManager) values(dir directory.Directory) *directory.Listing {
	key := secretsValuesPrefix + dir.Path()
	if cached, ok := s.cache.Get(secretsSourceName, key); ok {
		if listing, ok := cached.(*directory.Listing); ok && listing != nil {
			return listing
		}
	}
	listing := directory.NewListing(dir)
	s.cache.Set(secretsSourceName, key, listing)
	return listing
}

// index lists every secret name in the account, grouped by directory path.
// One ListSecrets sweep per local-cache window.
func (s *SecretsManager) index(ctx context.Context, dir directory.Directory) (secretsIndex, error) {
	if cached, ok := s.cache.Get(secretsSourceName, secretsAvailableKey); ok {
		if index, ok := cached.(secretsIndex); ok {
			return index, nil
		}
	}
	if s.errs.hasError(dir.Path()) {
		return secretsIndex{}, nil
	}

	index := secretsIndex{}
	paginator := secretsmanager.NewListSecretsPaginator(s.client, &secretsmanager.ListSecretsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if recoverAWSError(ctx, err, secretsSourceName, &s.errs, dir) {
				s.cache.Set(secretsSourceName, secretsAvailableKey, index)
				return index, nil
			}
			return nil, err
		}
		for _, secret := range page.SecretList {
			if secret.Name == nil {
				continue
			}
			dirPath, name, ok := splitSecretName(*secret.Name)
			if !ok {
				continue
			}
			listing := index[dirPath]
			if listing == nil {
				secretDir, err := directory.FromPath(dirPath)
				if err != nil {
					continue
				}
				listing = directory.NewListing(secretDir)
				index[dirPath] = listing
			}
			listing.Add(directory.NewItem(listing.Directory(), name, "", secretsSourceName))
		}
	}
	s.cache.Set(secretsSourceName, secretsAvailableKey, index)
	return index, nil
}

// splitSecretName splits "/service/env/NAME" into its directory path and
// leaf name. Names without a directory component are ignored.
func splitSecretName(full string) (dirPath, name string, ok bool) {
	if !strings.HasPrefix(full, "/") {
		full = "/" + full
	}
	i := strings.LastIndexByte(full, '/')
	if i <= 0 || i == len(full)-1 {
		return "", "", false
	}
	return full[:i], full[i+1:], true
}
