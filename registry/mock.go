package registry

import (
	"context"

	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockTrustStore mocks the TrustStore interface
type MockTrustStore struct {
	mock.Mock
}

// GetWorker mocks the GetWorker method
func (m *MockTrustStore) GetWorker(ctx context.Context, identity interfaces.Identity) (*interfaces.Worker, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Worker), args.Error(1)
}

// PutWorker mocks the PutWorker method
func (m *MockTrustStore) PutWorker(ctx context.Context, identity interfaces.Identity, worker interfaces.Worker) error {
	args := m.Called(ctx, identity, worker)
	return args.Error(0)
}

// Approve mocks the Approve method
func (m *MockTrustStore) Approve(ctx context.Context, code interfaces.CodeIdentity) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

// Revoke mocks the Revoke method
func (m *MockTrustStore) Revoke(ctx context.Context, code interfaces.CodeIdentity) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

// IsApproved mocks the IsApproved method
func (m *MockTrustStore) IsApproved(ctx context.Context, code interfaces.CodeIdentity) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

// List mocks the List method
func (m *MockTrustStore) List(ctx context.Context) ([]interfaces.CodeIdentity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.CodeIdentity), args.Error(1)
}
