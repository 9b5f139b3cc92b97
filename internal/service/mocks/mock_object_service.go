package mocks

import (
	"context"
	"io"
	"time"

	"tensorbin/internal/model"
	"tensorbin/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockObjectService struct {
	mock.Mock
}

func (m *MockObjectService) Upload(ctx context.Context, tenantID string, r io.Reader, p service.UploadParams) (*model.Object, error) {
	args := m.Called(ctx, tenantID, r, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func (m *MockObjectService) Get(ctx context.Context, tenantID, id string) (*model.Object, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func (m *MockObjectService) List(ctx context.Context, tenantID string, page, perPage int) (*service.ObjectListResult, error) {
	args := m.Called(ctx, tenantID, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ObjectListResult), args.Error(1)
}

func (m *MockObjectService) Search(ctx context.Context, tenantID string, p service.SearchParams) (*service.ObjectListResult, error) {
	args := m.Called(ctx, tenantID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ObjectListResult), args.Error(1)
}

func (m *MockObjectService) Delete(ctx context.Context, tenantID, id string) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockObjectService) Download(ctx context.Context, tenantID, id string) (io.ReadCloser, *model.Object, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(*model.Object), args.Error(2)
}

func (m *MockObjectService) PresignDownload(ctx context.Context, tenantID, id string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, tenantID, id, expiry)
	return args.String(0), args.Error(1)
}
