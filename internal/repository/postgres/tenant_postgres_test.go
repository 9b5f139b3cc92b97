package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"tensorbin/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestTenantPostgres_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewTenantPostgres(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		now := time.Now().UTC()
		mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id = (.+)").
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tier", "storage_used", "created_at", "updated_at"}).
				AddRow("tenant-1", 1, int64(12345), now, now))

		tenant, err := repo.FindByID(ctx, "tenant-1")

		assert.NoError(t, err)
		assert.Equal(t, 1, tenant.Tier)
		assert.Equal(t, int64(12345), tenant.StorageUsed)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id = (.+)").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		tenant, err := repo.FindByID(ctx, "missing")

		assert.ErrorIs(t, err, sql.ErrNoRows)
		assert.Nil(t, tenant)
	})
}

func TestTenantPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewTenantPostgres(db)
	now := time.Now().UTC()
	tenant := &model.Tenant{ID: "tenant-1", Tier: 2, StorageUsed: 0, CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery("INSERT INTO tenants").
		WithArgs(tenant.ID, tenant.Tier, tenant.StorageUsed, tenant.CreatedAt, tenant.UpdatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tier", "storage_used", "created_at", "updated_at"}).
			AddRow(tenant.ID, tenant.Tier, tenant.StorageUsed, tenant.CreatedAt, tenant.UpdatedAt))

	got, err := repo.Create(context.Background(), tenant)

	assert.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
