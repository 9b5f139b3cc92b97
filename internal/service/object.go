package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tensorbin/internal/allocator"
	"tensorbin/internal/config"
	"tensorbin/internal/dedup"
	"tensorbin/internal/jobs"
	"tensorbin/internal/model"
	"tensorbin/internal/quota"
	"tensorbin/internal/repository"
	"tensorbin/internal/storage"
)

var (
	ErrTenantRequired = errors.New("tenant id is required")
	ErrIDRequired     = errors.New("id is required")
	ErrReaderNil      = errors.New("reader is nil")
	ErrTenantUnknown  = errors.New("tenant not found")

	// ErrNotFound covers true absence and objects owned by another tenant;
	// callers cannot distinguish the two.
	ErrNotFound = errors.New("object not found")

	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrFileTooLarge        = errors.New("file exceeds maximum object size")
	ErrQuotaExceeded       = errors.New("storage quota exceeded")
	ErrContentConflict     = errors.New("content already stored by another tenant")
	ErrObjectBlocked       = errors.New("object is blocked")
)

// UploadParams carries the caller-declared upload attributes. DeclaredSize
// may be -1 when unknown; the authoritative size is always the hashed byte
// count.
type UploadParams struct {
	Filename     string
	ContentType  string
	DeclaredSize int64
	Title        *string
	Tags         []string
}

// SearchParams carries tenant-scoped search filters.
type SearchParams struct {
	Text       string
	Tags       []string
	MimePrefix string
	Page       int
	PerPage    int
}

// ObjectListResult is the service-level DTO for paginated objects.
type ObjectListResult struct {
	Items      []model.Object `json:"files"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	TotalPages int            `json:"total_pages"`
}

// Resolver is the slice of the deduplication engine the orchestrator uses.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, key string) (*dedup.Resolution, error)
}

// ObjectService defines the use cases for the object store core.
type ObjectService interface {
	// Upload runs the upload orchestration: validate, write, hash/resolve,
	// quota-check and index as one unit. On a same-tenant duplicate it
	// returns the existing object unchanged.
	Upload(ctx context.Context, tenantID string, r io.Reader, p UploadParams) (*model.Object, error)

	// Get returns a tenant's object by id.
	Get(ctx context.Context, tenantID, id string) (*model.Object, error)

	// List returns a page of the tenant's objects, newest first.
	List(ctx context.Context, tenantID string, page, perPage int) (*ObjectListResult, error)

	// Search filters the tenant's objects by free text, tags (superset
	// match) and mime prefix.
	Search(ctx context.Context, tenantID string, p SearchParams) (*ObjectListResult, error)

	// Delete removes an object's bytes and index entry and credits the
	// tenant's quota.
	Delete(ctx context.Context, tenantID, id string) error

	// Download streams an object's bytes, bumping its download counter.
	Download(ctx context.Context, tenantID, id string) (io.ReadCloser, *model.Object, error)

	// PresignDownload returns a time-limited direct download URL.
	PresignDownload(ctx context.Context, tenantID, id string, expiry time.Duration) (string, error)
}

// objectService is a concrete implementation of ObjectService.
type objectService struct {
	store    storage.Storage
	repo     repository.ObjectRepository
	tenants  repository.TenantRepository
	resolver Resolver
	jobs     jobs.Submitter
	cfg      config.UploadConfig
	now      func() time.Time
}

// NewObjectService constructs a new ObjectService.
func NewObjectService(
	store storage.Storage,
	repo repository.ObjectRepository,
	tenants repository.TenantRepository,
	resolver Resolver,
	submitter jobs.Submitter,
	cfg config.UploadConfig,
) ObjectService {
	return &objectService{
		store:    store,
		repo:     repo,
		tenants:  tenants,
		resolver: resolver,
		jobs:     submitter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Upload sequences the write-before-you-know-the-key pattern: the physical
// write happens first, resolution follows, and every failure after the
// write triggers a compensating delete so no orphaned bytes survive.
func (s *objectService) Upload(ctx context.Context, tenantID string, r io.Reader, p UploadParams) (*model.Object, error) {
	// validating: no I/O performed on this path.
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if r == nil {
		return nil, ErrReaderNil
	}
	ext := strings.ToLower(filepath.Ext(p.Filename))
	if !s.extensionAllowed(ext) {
		return nil, ErrExtensionNotAllowed
	}
	if p.DeclaredSize > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantUnknown
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	limit := quota.Limit(tenant.Tier)
	// Cheap rejection against the declared size; the authoritative check
	// re-runs inside the commit transaction with the exact byte count.
	if p.DeclaredSize > 0 && !quota.CanStore(tenant.StorageUsed, limit, p.DeclaredSize) {
		return nil, ErrQuotaExceeded
	}

	// writing: the content hash is unknown until the bytes are down.
	key := allocator.Allocate(tenantID, p.Filename, s.now().UTC())
	contentType := p.ContentType
	if contentType == "" {
		if contentType = mime.TypeByExtension(ext); contentType == "" {
			contentType = "application/octet-stream"
		}
	}
	if _, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        p.DeclaredSize,
		ContentType: contentType,
		Metadata:    map[string]string{"original-filename": p.Filename},
	}); err != nil {
		return nil, fmt.Errorf("write to storage: %w", err)
	}

	// hashing/resolving: the engine removes the redundant copy itself on
	// the duplicate branches.
	res, err := s.resolver.Resolve(ctx, tenantID, key)
	if err != nil {
		s.compensate(ctx, key)
		return nil, fmt.Errorf("resolve content: %w", err)
	}
	switch res.Outcome {
	case dedup.DuplicateSelf:
		return res.Existing, nil
	case dedup.Conflict:
		return nil, ErrContentConflict
	}

	// quota-checking + indexing: one transaction charges the counter and
	// persists the object row plus its tags.
	now := s.now().UTC()
	obj := &model.Object{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		Title:            p.Title,
		Filename:         allocator.Sanitize(p.Filename),
		OriginalFilename: p.Filename,
		StoragePath:      key,
		SizeBytes:        res.Size,
		MimeType:         contentType,
		SHA256:           res.Hash,
		UploadStatus:     model.StatusCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	stored, err := s.repo.CreateWithTags(ctx, obj, NormalizeTags(p.Tags), limit)
	if err != nil {
		s.compensate(ctx, key)
		switch {
		case errors.Is(err, repository.ErrQuotaExceeded):
			return nil, ErrQuotaExceeded
		case errors.Is(err, repository.ErrTenantNotFound):
			return nil, ErrTenantUnknown
		case errors.Is(err, repository.ErrDuplicateHash):
			// Lost the commit race against a concurrent identical upload.
			// The constraint is the arbiter; retry as a lookup.
			return s.resolveLostRace(ctx, tenantID, res.Hash)
		default:
			return nil, fmt.Errorf("index object: %w", err)
		}
	}

	// committed: background work is submit-and-forget.
	s.jobs.SubmitThumbnail(ctx, stored.ID, stored.StoragePath)
	s.jobs.SubmitAnalysis(ctx, stored.ID, stored.StoragePath)

	return stored, nil
}

// resolveLostRace turns a unique-violation on the content hash into the
// same outcome a pre-commit duplicate would have produced.
func (s *objectService) resolveLostRace(ctx context.Context, tenantID, hash string) (*model.Object, error) {
	winner, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("lookup winning upload: %w", err)
	}
	if winner.TenantID == tenantID {
		return winner, nil
	}
	return nil, ErrContentConflict
}

// Get returns an object by id, scoped to the tenant.
func (s *objectService) Get(ctx context.Context, tenantID, id string) (*model.Object, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if id == "" {
		return nil, ErrIDRequired
	}
	obj, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

// List returns paginated objects without exposing repository types.
func (s *objectService) List(ctx context.Context, tenantID string, page, perPage int) (*ObjectListResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	page, perPage = clampPage(page, perPage)

	res, err := s.repo.List(ctx, tenantID, repository.PageQuery{Limit: perPage, Offset: (page - 1) * perPage})
	if err != nil {
		return nil, err
	}
	return listResult(res, page, perPage), nil
}

// Search runs the filtered query. Tags are normalized the same way they
// were normalized at attach time, so matching is case-insensitive.
func (s *objectService) Search(ctx context.Context, tenantID string, p SearchParams) (*ObjectListResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	page, perPage := clampPage(p.Page, p.PerPage)

	res, err := s.repo.Search(ctx, repository.SearchQuery{
		TenantID:   tenantID,
		Text:       strings.TrimSpace(p.Text),
		Tags:       NormalizeTags(p.Tags),
		MimePrefix: strings.TrimSpace(p.MimePrefix),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	})
	if err != nil {
		return nil, err
	}
	return listResult(res, page, perPage), nil
}

// Delete removes an object's physical bytes, then its index entry. The
// physical delete is idempotent; the logical delete of a missing row
// reports ErrNotFound.
func (s *objectService) Delete(ctx context.Context, tenantID, id string) error {
	obj, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, obj.StoragePath); err != nil {
		// Keep the row: a reachable index entry beats a leaked object.
		return fmt.Errorf("delete storage: %w", err)
	}
	if err := s.repo.Delete(ctx, obj); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Download streams the object's bytes after bumping its download counter.
func (s *objectService) Download(ctx context.Context, tenantID, id string) (io.ReadCloser, *model.Object, error) {
	obj, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	if obj.Blocked {
		return nil, nil, ErrObjectBlocked
	}
	if err := s.repo.IncrementDownloadCount(ctx, obj.ID); err != nil {
		return nil, nil, fmt.Errorf("count download: %w", err)
	}
	rc, _, err := s.store.Get(ctx, obj.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read storage: %w", err)
	}
	obj.DownloadCount++
	return rc, obj, nil
}

// PresignDownload returns a credential-free URL for direct delivery.
func (s *objectService) PresignDownload(ctx context.Context, tenantID, id string, expiry time.Duration) (string, error) {
	obj, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if obj.Blocked {
		return "", ErrObjectBlocked
	}
	return s.store.PresignGet(ctx, obj.StoragePath, expiry)
}

func (s *objectService) extensionAllowed(ext string) bool {
	for _, allowed := range s.cfg.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

// compensate removes bytes that will never gain an index entry. Failures
// are logged as leaked objects; the original error still propagates.
func (s *objectService) compensate(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		b, mErr := json.Marshal(map[string]any{
			"ts":            s.now().UTC().Format(time.RFC3339Nano),
			"level":         "warn",
			"component":     "service",
			"event":         "leaked_object",
			"storage_key":   key,
			"error_message": err.Error(),
		})
		if mErr != nil {
			log.Printf("leaked object %s: %v", key, err)
			return
		}
		log.SetFlags(0)
		log.Println(string(b))
	}
}

// NormalizeTags trims, lower-cases and de-duplicates a tag batch, dropping
// entries that normalize to empty. Order of first appearance is kept.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		n := strings.ToLower(strings.TrimSpace(t))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func listResult(res *repository.PageResult[model.Object], page, perPage int) *ObjectListResult {
	return &ObjectListResult{
		Items:      res.Items,
		Total:      res.Total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (res.Total + perPage - 1) / perPage,
	}
}
