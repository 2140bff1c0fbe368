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

// Package awsclient builds the AWS service clients the providers use,
// from one shared aws.Config.
package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Manager holds the base AWS config and hands out service clients,
// constructing each at most once.
type Manager struct {
	baseCfg aws.Config

	mu      sync.Mutex
	ssm     *ssm.Client
	secrets *secretsmanager.Client
	dynamo  *dynamodb.Client
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*managerSettings)

type managerSettings struct {
	region string
}

// WithRegion overrides the region resolved from the environment.
func WithRegion(region string) ManagerOption {
	return func(s *managerSettings) {
		s.region = region
	}
}

// NewManager loads the default AWS config once for all clients.
func NewManager(ctx context.Context, opts ...ManagerOption) (*Manager, error) {
	var settings managerSettings
	for _, opt := range opts {
		opt(&settings)
	}

	var loadOpts []func(*config.LoadOptions) error
	if settings.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(settings.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Manager{baseCfg: cfg}, nil
}

// SSM returns the shared Parameter Store client.
func (mgr *Manager) SSM() *ssm.Client {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.ssm == nil {
		mgr.ssm = ssm.NewFromConfig(mgr.baseCfg)
	}
	return mgr.ssm
}

// SecretsManager returns the shared Secrets Manager client.
func (mgr *Manager) SecretsManager() *secretsmanager.Client {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.secrets == nil {
		mgr.secrets = secretsmanager.NewFromConfig(mgr.baseCfg)
	}
	return mgr.secrets
}

// DynamoDB returns the shared DynamoDB client.
func (mgr *Manager) DynamoDB() *dynamodb.Client {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.dynamo == nil {
		mgr.dynamo = dynamodb.NewFromConfig(mgr.baseCfg)
	}
	return mgr.dynamo
}
