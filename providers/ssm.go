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
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/provider"
)

const ssmSourceName = "ssm"

// SSMParamStore serves values from SSM Parameter Store. Each directory is
// fetched in one shot via GetParametersByPath (non-recursive, decrypted)
// and held in the shared local cache until its expiration sweep.
type SSMParamStore struct {
	client ssm.GetParametersByPathAPIClient
	cache  *provider.LocalCache
	errs   errorTracker
}

// NewSSMParamStore returns a parameter-store provider. The cache must be
// the resolver's shared local cache.
func NewSSMParamStore(client ssm.GetParametersByPathAPIClient, cache *provider.LocalCache) *SSMParamStore {
	return &SSMParamStore{client: client, cache: cache}
}

func (s *SSMParamStore) Name() string         { return ssmSourceName }
func (s *SSMParamStore) Cacheable() bool      { return true }
func (s *SSMParamStore) NeedsDirectory() bool { return true }

func (s *SSMParamStore) Lookup(ctx context.Context, dir directory.Directory, name string) (*directory.Item, error) {
	if dir.IsZero() || dir.IsNonExistent() {
		return nil, nil
	}
	listing, err := s.listing(ctx, dir)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, nil
	}
	return listing.Get(name), nil
}

// Retrieved exposes the already-fetched listing for a directory so the
// chain can bulk-cache it without another network call.
func (s *SSMParamStore) Retrieved(dir directory.Directory) (map[string]*directory.Item, bool) {
	cached, ok := s.cache.Get(ssmSourceName, dir.Path())
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

func (s *SSMParamStore) listing(ctx context.Context, dir directory.Directory) (*directory.Listing, error) {
	if cached, ok := s.cache.Get(ssmSourceName, dir.Path()); ok {
		listing, _ := cached.(*directory.Listing)
		return listing, nil
	}
	if s.errs.hasError(dir.Path()) {
		return nil, nil
	}

	listing := directory.NewListing(dir)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(dir.Path()),
		Recursive:      aws.Bool(false),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if recoverAWSError(ctx, err, ssmSourceName, &s.errs, dir) {
				// Remember the directory as empty so callers in this
				// process stop asking.
				s.cache.Set(ssmSourceName, dir.Path(), listing)
				return listing, nil
			}
			return nil, err
		}
		for _, p := range page.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			listing.Add(directory.NewItem(dir, lastPathSegment(*p.Name), *p.Value, ssmSourceName))
		}
	}
	s.cache.Set(ssmSourceName, dir.Path(), listing)
	return listing, nil
}

func lastPathSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
