package repository

import (
	"context"
	"errors"

	"tensorbin/internal/model"
)

// Typed failures surfaced by the persistence layer. The service layer maps
// these onto its own error taxonomy; nothing above the repository inspects
// SQLSTATE codes directly.
var (
	// ErrDuplicateHash means the unique constraint on an object's content
	// hash fired: a concurrent (or earlier) upload already stored these
	// bytes. The caller retries as a hash lookup.
	ErrDuplicateHash = errors.New("content hash already indexed")

	// ErrQuotaExceeded means the guarded tenant counter update found the
	// upload would overshoot the tenant's byte limit.
	ErrQuotaExceeded = errors.New("tenant storage quota exceeded")

	// ErrTenantNotFound means the owning tenant row does not exist.
	ErrTenantNotFound = errors.New("tenant not found")
)

// ObjectRepository defines data access for stored objects and their tags
// using SQL queries only. No business logic here, strictly persistence
// operations. Reads are always tenant-scoped except FindByHash, which is
// the store-wide content-addressing lookup.
type ObjectRepository interface {
	// CreateWithTags persists the object row (with normalized tags) and
	// charges the owning tenant's storage counter, all in one transaction.
	// The tenant row is locked and its committed usage re-read inside the
	// transaction, so concurrent uploads for one tenant serialize on the
	// quota check. Returns ErrQuotaExceeded, ErrTenantNotFound or
	// ErrDuplicateHash as applicable.
	CreateWithTags(ctx context.Context, obj *model.Object, tags []string, limit int64) (*model.Object, error)

	// FindByID returns a tenant's object by id, tags included.
	// sql.ErrNoRows covers both absence and foreign ownership.
	FindByID(ctx context.Context, tenantID, id string) (*model.Object, error)

	// FindByHash returns the object owning a content hash, regardless of
	// tenant. Used by deduplication resolution.
	FindByHash(ctx context.Context, hash string) (*model.Object, error)

	// List returns a tenant's objects ordered by creation time descending
	// (id descending on ties) with a total row count.
	List(ctx context.Context, tenantID string, pq PageQuery) (*PageResult[model.Object], error)

	// Search filters a tenant's objects by free text, tag superset and
	// mime prefix. The total count applies the same predicate as the page.
	Search(ctx context.Context, q SearchQuery) (*PageResult[model.Object], error)

	// Delete removes the object row (tags cascade) and credits the owning
	// tenant's storage counter by the recorded size, clamped at zero, in
	// one transaction. Returns sql.ErrNoRows if the row is already gone.
	Delete(ctx context.Context, obj *model.Object) error

	// IncrementDownloadCount bumps the download counter for an object.
	IncrementDownloadCount(ctx context.Context, id string) error
}

// TenantRepository defines data access for tenants.
type TenantRepository interface {
	// FindByID returns a tenant by id.
	FindByID(ctx context.Context, id string) (*model.Tenant, error)

	// Create inserts a new tenant row and returns the stored record.
	Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// SearchQuery holds tenant-scoped search filters plus pagination. Zero
// values mean "filter not applied"; Tags are matched with AND semantics
// (the object's tag set must be a superset of the requested set).
type SearchQuery struct {
	TenantID   string
	Text       string
	Tags       []string
	MimePrefix string
	Limit      int
	Offset     int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
