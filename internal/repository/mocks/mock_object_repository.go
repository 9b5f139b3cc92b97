package mocks

import (
	"context"

	"tensorbin/internal/model"
	"tensorbin/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockObjectRepository struct {
	mock.Mock
}

func (m *MockObjectRepository) CreateWithTags(ctx context.Context, obj *model.Object, tags []string, limit int64) (*model.Object, error) {
	args := m.Called(ctx, obj, tags, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func (m *MockObjectRepository) FindByID(ctx context.Context, tenantID, id string) (*model.Object, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func (m *MockObjectRepository) FindByHash(ctx context.Context, hash string) (*model.Object, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func (m *MockObjectRepository) List(ctx context.Context, tenantID string, pq repository.PageQuery) (*repository.PageResult[model.Object], error) {
	args := m.Called(ctx, tenantID, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Object]), args.Error(1)
}

func (m *MockObjectRepository) Search(ctx context.Context, q repository.SearchQuery) (*repository.PageResult[model.Object], error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Object]), args.Error(1)
}

func (m *MockObjectRepository) Delete(ctx context.Context, obj *model.Object) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *MockObjectRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTenantRepository struct {
	mock.Mock
}

func (m *MockTenantRepository) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tenant), args.Error(1)
}

func (m *MockTenantRepository) Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	args := m.Called(ctx, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tenant), args.Error(1)
}
