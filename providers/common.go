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

// Package providers holds the concrete value sources: the process
// environment, SSM Parameter Store, Secrets Manager, a DynamoDB config
// table, and the DynamoDB-backed distributed cache.
package providers

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/smithy-go"

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/internal/logctx"
)

// recoverableErrorCodes are AWS error codes that degrade a lookup instead
// of failing it: the (provider, directory) pair is logged once, added to
// the skip-set, and never retried for the process lifetime.
var recoverableErrorCodes = map[string]struct{}{
	// Missing IAM permission for a specific path.
	"AccessDeniedException": {},

	// Credentials are wrong or expired; every call would fail the same way.
	"InvalidSignatureException":  {},
	"UnrecognizedClientException": {},
	"ExpiredTokenException":       {},

	// Missing table or secret store; lookups continue against the rest of
	// the chain.
	"ResourceNotFoundException": {},
}

// errorTracker is the permanent skip-set of directories that failed with a
// recoverable error on one provider. There is no time-based recovery.
type errorTracker struct {
	mu      sync.Mutex
	errored map[string]struct{}
}

// mark records the directory as errored; reports whether it was newly
// marked so the caller can log exactly once per pair.
func (t *errorTracker) mark(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.errored == nil {
		t.errored = make(map[string]struct{})
	}
	if _, ok := t.errored[path]; ok {
		return false
	}
	t.errored[path] = struct{}{}
	return true
}

func (t *errorTracker) hasError(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.errored[path]
	return ok
}

// recoverAWSError classifies err. Recoverable failures are absorbed: the
// directory joins the provider's skip-set and a warning is logged the first
// time the pair fails. Returns false when the error must propagate.
func recoverAWSError(ctx context.Context, err error, providerName string, tracker *errorTracker, dir directory.Directory) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if _, ok := recoverableErrorCodes[apiErr.ErrorCode()]; !ok {
		return false
	}
	if tracker.mark(dir.Path()) {
		logctx.FromContext(ctx).Warn("ignoring config backend error; directory will be skipped for this process",
			"provider", providerName,
			"directory", dir.Path(),
			"code", apiErr.ErrorCode(),
			"error", err.Error(),
		)
	}
	return true
}
