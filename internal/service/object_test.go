package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"tensorbin/internal/config"
	"tensorbin/internal/dedup"
	"tensorbin/internal/model"
	"tensorbin/internal/repository"
	repoMocks "tensorbin/internal/repository/mocks"
	"tensorbin/internal/storage"
	storeMocks "tensorbin/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, tenantID, key string) (*dedup.Resolution, error) {
	args := m.Called(ctx, tenantID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dedup.Resolution), args.Error(1)
}

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) SubmitThumbnail(ctx context.Context, objectID, storagePath string) {
	m.Called(ctx, objectID, storagePath)
}

func (m *mockSubmitter) SubmitAnalysis(ctx context.Context, objectID, storagePath string) {
	m.Called(ctx, objectID, storagePath)
}

var testUploadCfg = config.UploadConfig{
	MaxFileSize:       10737418240,
	AllowedExtensions: []string{".jpg", ".png", ".pdf", ".txt", ".zip"},
}

type uploadMocks struct {
	store    *storeMocks.MockStorage
	repo     *repoMocks.MockObjectRepository
	tenants  *repoMocks.MockTenantRepository
	resolver *mockResolver
	jobs     *mockSubmitter
}

func newUploadService(t *testing.T, m *uploadMocks) ObjectService {
	t.Helper()
	svc := NewObjectService(m.store, m.repo, m.tenants, m.resolver, m.jobs, testUploadCfg)
	svc.(*objectService).now = func() time.Time {
		return time.Date(2026, 8, 31, 14, 32, 12, 0, time.UTC)
	}
	return svc
}

func freshTenant(used int64) *model.Tenant {
	return &model.Tenant{ID: "tenant-1", Tier: 0, StorageUsed: used}
}

func TestObjectService_Upload(t *testing.T) {
	ctx := context.Background()
	const wantKey = "tenant-1/2026/08/20260831_143212_notes.txt"
	const freeLimit = int64(1073741824)

	tests := []struct {
		name       string
		tenantID   string
		params     UploadParams
		setupMocks func(m *uploadMocks) io.Reader
		wantErr    error
		wantErrMsg string
		wantID     string
	}{
		{
			name:     "new object commits row, tags and quota as one unit",
			tenantID: "tenant-1",
			params: UploadParams{
				Filename:     "notes.txt",
				ContentType:  "text/plain",
				DeclaredSize: 11,
				Tags:         []string{" Work ", "work", "Drafts"},
			},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, storage.PutObjectOptions{
					Size:        11,
					ContentType: "text/plain",
					Metadata:    map[string]string{"original-filename": "notes.txt"},
				}).Return(storage.ObjectInfo{Key: wantKey, Size: 11}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(&dedup.Resolution{Outcome: dedup.New, Hash: "abc123", Size: 11}, nil)
				m.repo.On("CreateWithTags", ctx, mock.MatchedBy(func(obj *model.Object) bool {
					return obj.TenantID == "tenant-1" &&
						obj.StoragePath == wantKey &&
						obj.SizeBytes == 11 &&
						obj.SHA256 == "abc123" &&
						obj.UploadStatus == model.StatusCompleted
				}), []string{"work", "drafts"}, freeLimit).
					Return(&model.Object{ID: "new-id", StoragePath: wantKey}, nil)
				m.jobs.On("SubmitThumbnail", ctx, "new-id", wantKey).Return()
				m.jobs.On("SubmitAnalysis", ctx, "new-id", wantKey).Return()
				return r
			},
			wantID: "new-id",
		},
		{
			name:     "duplicate by same tenant returns existing object untouched",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(500), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{Key: wantKey}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(&dedup.Resolution{
						Outcome:  dedup.DuplicateSelf,
						Hash:     "abc123",
						Size:     11,
						Existing: &model.Object{ID: "first-id", TenantID: "tenant-1"},
					}, nil)
				// No CreateWithTags, no quota change, no job submission.
				return r
			},
			wantID: "first-id",
		},
		{
			name:     "duplicate owned by another tenant conflicts",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{Key: wantKey}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(&dedup.Resolution{
						Outcome:  dedup.Conflict,
						Hash:     "abc123",
						Size:     11,
						Existing: &model.Object{ID: "foreign-id", TenantID: "tenant-2"},
					}, nil)
				return r
			},
			wantErr: ErrContentConflict,
		},
		{
			name:     "disallowed extension rejected before any I/O",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "malware.exe", DeclaredSize: 10},
			setupMocks: func(m *uploadMocks) io.Reader {
				return strings.NewReader("x")
			},
			wantErr: ErrExtensionNotAllowed,
		},
		{
			name:     "declared size over maximum rejected before any I/O",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "big.zip", DeclaredSize: testUploadCfg.MaxFileSize + 1},
			setupMocks: func(m *uploadMocks) io.Reader {
				return strings.NewReader("x")
			},
			wantErr: ErrFileTooLarge,
		},
		{
			name:     "declared size over remaining quota rejected before write",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "big.zip", DeclaredSize: 200000},
			setupMocks: func(m *uploadMocks) io.Reader {
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(1073700000), nil)
				return strings.NewReader("x")
			},
			wantErr: ErrQuotaExceeded,
		},
		{
			name:     "quota exceeded at commit cleans up written bytes",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: -1},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{Key: wantKey}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(&dedup.Resolution{Outcome: dedup.New, Hash: "abc123", Size: 11}, nil)
				m.repo.On("CreateWithTags", ctx, mock.Anything, mock.Anything, freeLimit).
					Return(nil, repository.ErrQuotaExceeded)
				m.store.On("Delete", ctx, wantKey).Return(nil)
				return r
			},
			wantErr: ErrQuotaExceeded,
		},
		{
			name:     "lost dedup race against own concurrent upload returns winner",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{Key: wantKey}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(&dedup.Resolution{Outcome: dedup.New, Hash: "abc123", Size: 11}, nil)
				m.repo.On("CreateWithTags", ctx, mock.Anything, mock.Anything, freeLimit).
					Return(nil, repository.ErrDuplicateHash)
				m.store.On("Delete", ctx, wantKey).Return(nil)
				m.repo.On("FindByHash", ctx, "abc123").
					Return(&model.Object{ID: "winner-id", TenantID: "tenant-1"}, nil)
				return r
			},
			wantID: "winner-id",
		},
		{
			name:     "lost dedup race against foreign upload conflicts",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{Key: wantKey}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(&dedup.Resolution{Outcome: dedup.New, Hash: "abc123", Size: 11}, nil)
				m.repo.On("CreateWithTags", ctx, mock.Anything, mock.Anything, freeLimit).
					Return(nil, repository.ErrDuplicateHash)
				m.store.On("Delete", ctx, wantKey).Return(nil)
				m.repo.On("FindByHash", ctx, "abc123").
					Return(&model.Object{ID: "winner-id", TenantID: "tenant-2"}, nil)
				return r
			},
			wantErr: ErrContentConflict,
		},
		{
			name:     "storage write failure needs no compensation",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{}, errors.New("substrate down"))
				return r
			},
			wantErrMsg: "write to storage: substrate down",
		},
		{
			name:     "resolution failure deletes written bytes",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{Key: wantKey}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(nil, errors.New("hash fail"))
				m.store.On("Delete", ctx, wantKey).Return(nil)
				return r
			},
			wantErrMsg: "resolve content: hash fail",
		},
		{
			name:     "index failure deletes written bytes even when cleanup fails",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				r := strings.NewReader("hello world")
				m.tenants.On("FindByID", ctx, "tenant-1").Return(freshTenant(0), nil)
				m.store.On("Put", ctx, wantKey, r, mock.Anything).
					Return(storage.ObjectInfo{Key: wantKey}, nil)
				m.resolver.On("Resolve", ctx, "tenant-1", wantKey).
					Return(&dedup.Resolution{Outcome: dedup.New, Hash: "abc123", Size: 11}, nil)
				m.repo.On("CreateWithTags", ctx, mock.Anything, mock.Anything, freeLimit).
					Return(nil, errors.New("db fail"))
				m.store.On("Delete", ctx, wantKey).Return(errors.New("delete fail"))
				return r
			},
			wantErrMsg: "index object: db fail",
		},
		{
			name:     "unknown tenant",
			tenantID: "tenant-9",
			params:   UploadParams{Filename: "notes.txt", DeclaredSize: 11},
			setupMocks: func(m *uploadMocks) io.Reader {
				m.tenants.On("FindByID", ctx, "tenant-9").Return(nil, sql.ErrNoRows)
				return strings.NewReader("x")
			},
			wantErr: ErrTenantUnknown,
		},
		{
			name:     "nil reader",
			tenantID: "tenant-1",
			params:   UploadParams{Filename: "notes.txt"},
			setupMocks: func(m *uploadMocks) io.Reader {
				return nil
			},
			wantErr: ErrReaderNil,
		},
		{
			name:     "missing tenant id",
			tenantID: "",
			params:   UploadParams{Filename: "notes.txt"},
			setupMocks: func(m *uploadMocks) io.Reader {
				return strings.NewReader("x")
			},
			wantErr: ErrTenantRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &uploadMocks{
				store:    new(storeMocks.MockStorage),
				repo:     new(repoMocks.MockObjectRepository),
				tenants:  new(repoMocks.MockTenantRepository),
				resolver: new(mockResolver),
				jobs:     new(mockSubmitter),
			}
			r := tt.setupMocks(m)
			svc := newUploadService(t, m)

			obj, err := svc.Upload(ctx, tt.tenantID, r, tt.params)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, obj)
			case tt.wantErrMsg != "":
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
				assert.Nil(t, obj)
			default:
				assert.NoError(t, err)
				assert.Equal(t, tt.wantID, obj.ID)
			}

			m.store.AssertExpectations(t)
			m.repo.AssertExpectations(t)
			m.tenants.AssertExpectations(t)
			m.resolver.AssertExpectations(t)
			m.jobs.AssertExpectations(t)
		})
	}
}

func TestObjectService_Get(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		tenantID   string
		id         string
		setupMocks func(mRepo *repoMocks.MockObjectRepository)
		wantErr    error
	}{
		{
			name:     "happy path",
			tenantID: "tenant-1",
			id:       "obj-1",
			setupMocks: func(mRepo *repoMocks.MockObjectRepository) {
				mRepo.On("FindByID", ctx, "tenant-1", "obj-1").
					Return(&model.Object{ID: "obj-1", TenantID: "tenant-1"}, nil)
			},
		},
		{
			name:     "foreign object indistinguishable from absence",
			tenantID: "tenant-2",
			id:       "obj-1",
			setupMocks: func(mRepo *repoMocks.MockObjectRepository) {
				mRepo.On("FindByID", ctx, "tenant-2", "obj-1").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:       "empty id",
			tenantID:   "tenant-1",
			id:         "",
			setupMocks: func(mRepo *repoMocks.MockObjectRepository) {},
			wantErr:    ErrIDRequired,
		},
		{
			name:       "empty tenant",
			tenantID:   "",
			id:         "obj-1",
			setupMocks: func(mRepo *repoMocks.MockObjectRepository) {},
			wantErr:    ErrTenantRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockObjectRepository)
			tt.setupMocks(mRepo)
			svc := NewObjectService(nil, mRepo, nil, nil, nil, testUploadCfg)

			obj, err := svc.Get(ctx, tt.tenantID, tt.id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, obj)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.id, obj.ID)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestObjectService_Delete(t *testing.T) {
	ctx := context.Background()

	obj := &model.Object{ID: "obj-1", TenantID: "tenant-1", StoragePath: "tenant-1/2026/08/x.txt", SizeBytes: 100}

	tests := []struct {
		name       string
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockObjectRepository)
		wantErr    error
		wantErrMsg string
	}{
		{
			name: "happy path removes bytes then row",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockObjectRepository) {
				mRepo.On("FindByID", ctx, "tenant-1", "obj-1").Return(obj, nil)
				mStore.On("Delete", ctx, obj.StoragePath).Return(nil)
				mRepo.On("Delete", ctx, obj).Return(nil)
			},
		},
		{
			name: "second logical delete reports not found",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockObjectRepository) {
				mRepo.On("FindByID", ctx, "tenant-1", "obj-1").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "row already gone after scoped lookup",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockObjectRepository) {
				mRepo.On("FindByID", ctx, "tenant-1", "obj-1").Return(obj, nil)
				mStore.On("Delete", ctx, obj.StoragePath).Return(nil)
				mRepo.On("Delete", ctx, obj).Return(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "storage failure keeps the row",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockObjectRepository) {
				mRepo.On("FindByID", ctx, "tenant-1", "obj-1").Return(obj, nil)
				mStore.On("Delete", ctx, obj.StoragePath).Return(errors.New("substrate down"))
			},
			wantErrMsg: "delete storage: substrate down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockObjectRepository)
			tt.setupMocks(mStore, mRepo)
			svc := NewObjectService(mStore, mRepo, nil, nil, nil, testUploadCfg)

			err := svc.Delete(ctx, "tenant-1", "obj-1")

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrMsg != "":
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
			default:
				assert.NoError(t, err)
			}
			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestObjectService_Download(t *testing.T) {
	ctx := context.Background()

	t.Run("streams and counts", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockObjectRepository)
		obj := &model.Object{ID: "obj-1", TenantID: "tenant-1", StoragePath: "p", DownloadCount: 3}
		mRepo.On("FindByID", ctx, "tenant-1", "obj-1").Return(obj, nil)
		mRepo.On("IncrementDownloadCount", ctx, "obj-1").Return(nil)
		mStore.On("Get", ctx, "p").
			Return(io.NopCloser(strings.NewReader("bytes")), storage.ObjectInfo{}, nil)

		svc := NewObjectService(mStore, mRepo, nil, nil, nil, testUploadCfg)
		rc, got, err := svc.Download(ctx, "tenant-1", "obj-1")

		assert.NoError(t, err)
		assert.Equal(t, int64(4), got.DownloadCount)
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "bytes", string(data))
		mStore.AssertExpectations(t)
		mRepo.AssertExpectations(t)
	})

	t.Run("blocked object refused", func(t *testing.T) {
		mRepo := new(repoMocks.MockObjectRepository)
		mRepo.On("FindByID", ctx, "tenant-1", "obj-1").
			Return(&model.Object{ID: "obj-1", Blocked: true}, nil)

		svc := NewObjectService(nil, mRepo, nil, nil, nil, testUploadCfg)
		_, _, err := svc.Download(ctx, "tenant-1", "obj-1")

		assert.ErrorIs(t, err, ErrObjectBlocked)
	})
}

func TestObjectService_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("filters normalized and forwarded", func(t *testing.T) {
		mRepo := new(repoMocks.MockObjectRepository)
		mRepo.On("Search", ctx, repository.SearchQuery{
			TenantID:   "tenant-1",
			Text:       "report",
			Tags:       []string{"work", "drafts"},
			MimePrefix: "image/",
			Limit:      2,
			Offset:     4,
		}).Return(&repository.PageResult[model.Object]{
			Items: []model.Object{{ID: "a"}, {ID: "b"}},
			Total: 5,
		}, nil)

		svc := NewObjectService(nil, mRepo, nil, nil, nil, testUploadCfg)
		res, err := svc.Search(ctx, "tenant-1", SearchParams{
			Text:       " report ",
			Tags:       []string{"Work", "DRAFTS", "work"},
			MimePrefix: "image/",
			Page:       3,
			PerPage:    2,
		})

		assert.NoError(t, err)
		assert.Equal(t, 5, res.Total)
		assert.Equal(t, 3, res.Page)
		assert.Equal(t, 3, res.TotalPages)
		assert.Len(t, res.Items, 2)
		mRepo.AssertExpectations(t)
	})

	t.Run("pagination boundaries clamp to defaults", func(t *testing.T) {
		mRepo := new(repoMocks.MockObjectRepository)
		mRepo.On("Search", ctx, mock.MatchedBy(func(q repository.SearchQuery) bool {
			return q.Limit == 20 && q.Offset == 0
		})).Return(&repository.PageResult[model.Object]{Items: []model.Object{}, Total: 0}, nil)

		svc := NewObjectService(nil, mRepo, nil, nil, nil, testUploadCfg)
		_, err := svc.Search(ctx, "tenant-1", SearchParams{Page: 0, PerPage: -1})

		assert.NoError(t, err)
		mRepo.AssertExpectations(t)
	})
}

func TestObjectService_List(t *testing.T) {
	ctx := context.Background()

	mRepo := new(repoMocks.MockObjectRepository)
	mRepo.On("List", ctx, "tenant-1", repository.PageQuery{Limit: 2, Offset: 2}).
		Return(&repository.PageResult[model.Object]{
			Items: []model.Object{{ID: "c"}, {ID: "d"}},
			Total: 5,
		}, nil)

	svc := NewObjectService(nil, mRepo, nil, nil, nil, testUploadCfg)
	res, err := svc.List(ctx, "tenant-1", 2, 2)

	assert.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Page)
	assert.Equal(t, 3, res.TotalPages)
	mRepo.AssertExpectations(t)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t,
		[]string{"work", "drafts", "2026"},
		NormalizeTags([]string{" Work ", "DRAFTS", "work", "", "  ", "2026"}))
	assert.Empty(t, NormalizeTags(nil))
	assert.Empty(t, NormalizeTags([]string{"  "}))
}
