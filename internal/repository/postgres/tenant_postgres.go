package postgres

import (
	"context"
	"database/sql"

	"tensorbin/internal/model"
	"tensorbin/internal/repository"
)

// TenantPostgres is a PostgreSQL implementation of repository.TenantRepository.
type TenantPostgres struct {
	db *sql.DB
}

// NewTenantPostgres creates a new TenantPostgres repository.
func NewTenantPostgres(db *sql.DB) *TenantPostgres {
	return &TenantPostgres{db: db}
}

var _ repository.TenantRepository = (*TenantPostgres)(nil)

const tenantColumns = `id, tier, storage_used, created_at, updated_at`

func scanTenant(row rowScanner) (*model.Tenant, error) {
	var t model.Tenant
	if err := row.Scan(&t.ID, &t.Tier, &t.StorageUsed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByID fetches a tenant by id.
func (r *TenantPostgres) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(r.db.QueryRowContext(ctx, q, id))
}

// Create inserts a new tenant row and returns the stored record.
func (r *TenantPostgres) Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	q := `INSERT INTO tenants (id, tier, storage_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + tenantColumns
	return scanTenant(r.db.QueryRowContext(ctx, q, t.ID, t.Tier, t.StorageUsed, t.CreatedAt, t.UpdatedAt))
}
