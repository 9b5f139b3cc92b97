package dedup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"tensorbin/internal/model"
	"tensorbin/internal/storage"
	storeMocks "tensorbin/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockHashIndex struct {
	mock.Mock
}

func (m *mockHashIndex) FindByHash(ctx context.Context, hash string) (*model.Object, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestEngine_Hash(t *testing.T) {
	ctx := context.Background()
	content := strings.Repeat("tensorbin", 4096) // spans multiple chunks

	mStore := new(storeMocks.MockStorage)
	mStore.On("Get", ctx, "t1/2026/08/key").
		Return(io.NopCloser(strings.NewReader(content)), storage.ObjectInfo{}, nil)

	e := NewEngine(mStore, nil)
	hash, size, err := e.Hash(ctx, "t1/2026/08/key")

	assert.NoError(t, err)
	assert.Equal(t, digestOf(content), hash)
	assert.Equal(t, int64(len(content)), size)
	mStore.AssertExpectations(t)
}

func TestEngine_Resolve(t *testing.T) {
	ctx := context.Background()
	content := "hello world"
	hash := digestOf(content)

	tests := []struct {
		name        string
		tenantID    string
		setupMocks  func(mStore *storeMocks.MockStorage, mIndex *mockHashIndex)
		wantOutcome Outcome
		wantErrMsg  string
	}{
		{
			name:     "no match resolves new and keeps the location",
			tenantID: "t1",
			setupMocks: func(mStore *storeMocks.MockStorage, mIndex *mockHashIndex) {
				mStore.On("Get", mock.Anything, "t1/key").
					Return(io.NopCloser(strings.NewReader(content)), storage.ObjectInfo{}, nil)
				mIndex.On("FindByHash", mock.Anything, hash).Return(nil, sql.ErrNoRows)
			},
			wantOutcome: New,
		},
		{
			name:     "same tenant match deletes redundant copy",
			tenantID: "t1",
			setupMocks: func(mStore *storeMocks.MockStorage, mIndex *mockHashIndex) {
				mStore.On("Get", mock.Anything, "t1/key").
					Return(io.NopCloser(strings.NewReader(content)), storage.ObjectInfo{}, nil)
				mIndex.On("FindByHash", mock.Anything, hash).
					Return(&model.Object{ID: "obj-1", TenantID: "t1", SHA256: hash}, nil)
				mStore.On("Delete", mock.Anything, "t1/key").Return(nil)
			},
			wantOutcome: DuplicateSelf,
		},
		{
			name:     "foreign tenant match is a conflict",
			tenantID: "t2",
			setupMocks: func(mStore *storeMocks.MockStorage, mIndex *mockHashIndex) {
				mStore.On("Get", mock.Anything, "t1/key").
					Return(io.NopCloser(strings.NewReader(content)), storage.ObjectInfo{}, nil)
				mIndex.On("FindByHash", mock.Anything, hash).
					Return(&model.Object{ID: "obj-1", TenantID: "t1", SHA256: hash}, nil)
				mStore.On("Delete", mock.Anything, "t1/key").Return(nil)
			},
			wantOutcome: Conflict,
		},
		{
			name:     "failed cleanup still resolves",
			tenantID: "t1",
			setupMocks: func(mStore *storeMocks.MockStorage, mIndex *mockHashIndex) {
				mStore.On("Get", mock.Anything, "t1/key").
					Return(io.NopCloser(strings.NewReader(content)), storage.ObjectInfo{}, nil)
				mIndex.On("FindByHash", mock.Anything, hash).
					Return(&model.Object{ID: "obj-1", TenantID: "t1", SHA256: hash}, nil)
				mStore.On("Delete", mock.Anything, "t1/key").Return(errors.New("substrate down"))
			},
			wantOutcome: DuplicateSelf,
		},
		{
			name:     "read back failure",
			tenantID: "t1",
			setupMocks: func(mStore *storeMocks.MockStorage, mIndex *mockHashIndex) {
				mStore.On("Get", mock.Anything, "t1/key").
					Return(nil, storage.ObjectInfo{}, errors.New("read fail"))
			},
			wantErrMsg: "read back t1/key: read fail",
		},
		{
			name:     "index failure",
			tenantID: "t1",
			setupMocks: func(mStore *storeMocks.MockStorage, mIndex *mockHashIndex) {
				mStore.On("Get", mock.Anything, "t1/key").
					Return(io.NopCloser(strings.NewReader(content)), storage.ObjectInfo{}, nil)
				mIndex.On("FindByHash", mock.Anything, hash).Return(nil, errors.New("db fail"))
			},
			wantErrMsg: "hash lookup: db fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mIndex := new(mockHashIndex)
			tt.setupMocks(mStore, mIndex)

			e := NewEngine(mStore, mIndex)
			res, err := e.Resolve(ctx, tt.tenantID, "t1/key")

			if tt.wantErrMsg != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantOutcome, res.Outcome)
				assert.Equal(t, hash, res.Hash)
				assert.Equal(t, int64(len(content)), res.Size)
				if tt.wantOutcome != New {
					assert.NotNil(t, res.Existing)
				}
			}
			mStore.AssertExpectations(t)
			mIndex.AssertExpectations(t)
		})
	}
}
