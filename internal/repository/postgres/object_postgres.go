package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"tensorbin/internal/model"
	"tensorbin/internal/repository"
)

// ObjectPostgres is a PostgreSQL implementation of repository.ObjectRepository.
// It uses database/sql with parameterized queries and contains no business
// logic. The content-hash unique index is the final arbiter for concurrent
// deduplication; the tenant row lock serializes quota accounting.
type ObjectPostgres struct {
	db *sql.DB
}

// NewObjectPostgres creates a new ObjectPostgres repository.
func NewObjectPostgres(db *sql.DB) *ObjectPostgres {
	return &ObjectPostgres{db: db}
}

var _ repository.ObjectRepository = (*ObjectPostgres)(nil)

const objectColumns = `id, tenant_id, title, filename, original_filename, storage_path,
	size_bytes, mime_type, sha256, upload_status, blocked, download_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*model.Object, error) {
	var o model.Object
	if err := row.Scan(
		&o.ID,
		&o.TenantID,
		&o.Title,
		&o.Filename,
		&o.OriginalFilename,
		&o.StoragePath,
		&o.SizeBytes,
		&o.MimeType,
		&o.SHA256,
		&o.UploadStatus,
		&o.Blocked,
		&o.DownloadCount,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505), optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// CreateWithTags runs the commit phase of an upload as one transaction:
// lock the tenant row, re-check the quota against committed usage, insert
// the object row, attach tags, charge the counter.
func (r *ObjectPostgres) CreateWithTags(ctx context.Context, obj *model.Object, tags []string, limit int64) (*model.Object, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the tenant serializes concurrent quota checks; the usage
	// read below always sees the latest committed baseline.
	var used int64
	err = tx.QueryRowContext(ctx,
		`SELECT storage_used FROM tenants WHERE id = $1 FOR UPDATE`, obj.TenantID,
	).Scan(&used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrTenantNotFound
		}
		return nil, fmt.Errorf("lock tenant: %w", err)
	}
	if used+obj.SizeBytes > limit {
		return nil, repository.ErrQuotaExceeded
	}

	const qInsert = `
		INSERT INTO objects (id, tenant_id, title, filename, original_filename, storage_path,
			size_bytes, mime_type, sha256, upload_status, blocked, download_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + objectColumns
	row := tx.QueryRowContext(ctx, qInsert,
		obj.ID,
		obj.TenantID,
		obj.Title,
		obj.Filename,
		obj.OriginalFilename,
		obj.StoragePath,
		obj.SizeBytes,
		obj.MimeType,
		obj.SHA256,
		obj.UploadStatus,
		obj.Blocked,
		obj.DownloadCount,
		obj.CreatedAt,
		obj.UpdatedAt,
	)
	out, err := scanObject(row)
	if err != nil {
		if isUniqueViolation(err, "objects_sha256_key") {
			return nil, repository.ErrDuplicateHash
		}
		return nil, fmt.Errorf("insert object: %w", err)
	}

	const qTag = `INSERT INTO tags (object_id, tag) VALUES ($1, $2) ON CONFLICT (object_id, tag) DO NOTHING`
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, qTag, out.ID, tag); err != nil {
			return nil, fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}

	const qCharge = `UPDATE tenants SET storage_used = storage_used + $2, updated_at = now() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, qCharge, obj.TenantID, obj.SizeBytes); err != nil {
		return nil, fmt.Errorf("charge quota: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	out.Tags = tags
	return out, nil
}

// FindByID fetches a single object by tenant and id, tags included.
func (r *ObjectPostgres) FindByID(ctx context.Context, tenantID, id string) (*model.Object, error) {
	q := `SELECT ` + objectColumns + ` FROM objects WHERE id = $1 AND tenant_id = $2`
	obj, err := scanObject(r.db.QueryRowContext(ctx, q, id, tenantID))
	if err != nil {
		return nil, err
	}
	tags, err := r.loadTags(ctx, []string{obj.ID})
	if err != nil {
		return nil, err
	}
	obj.Tags = tags[obj.ID]
	return obj, nil
}

// FindByHash fetches the object owning a content hash, store-wide.
func (r *ObjectPostgres) FindByHash(ctx context.Context, hash string) (*model.Object, error) {
	q := `SELECT ` + objectColumns + ` FROM objects WHERE sha256 = $1`
	obj, err := scanObject(r.db.QueryRowContext(ctx, q, hash))
	if err != nil {
		return nil, err
	}
	tags, err := r.loadTags(ctx, []string{obj.ID})
	if err != nil {
		return nil, err
	}
	obj.Tags = tags[obj.ID]
	return obj, nil
}

// List returns a tenant's objects using LIMIT/OFFSET pagination and a total count.
func (r *ObjectPostgres) List(ctx context.Context, tenantID string, pq repository.PageQuery) (*repository.PageResult[model.Object], error) {
	const qCount = `SELECT COUNT(*) FROM objects WHERE tenant_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, tenantID).Scan(&total); err != nil {
		return nil, err
	}

	q := `SELECT ` + objectColumns + `
		FROM objects
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, q, tenantID, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	items, err := collectObjects(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTags(ctx, items); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Object]{Items: items, Total: total}, nil
}

// Search filters a tenant's objects by free text, tag superset and mime
// prefix. The count query reuses the exact predicate of the page query so
// Total stays consistent with the filtered result set.
func (r *ObjectPostgres) Search(ctx context.Context, q repository.SearchQuery) (*repository.PageResult[model.Object], error) {
	where, args := searchPredicate(q)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE `+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	qPage := fmt.Sprintf(`SELECT %s FROM objects WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		objectColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, qPage, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, err
	}
	items, err := collectObjects(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTags(ctx, items); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Object]{Items: items, Total: total}, nil
}

// searchPredicate builds a WHERE clause plus its ordered arguments from the
// search filters. The same clause backs both the count and the page query.
func searchPredicate(q repository.SearchQuery) (string, []any) {
	parts := []string{"tenant_id = $1"}
	args := []any{q.TenantID}

	if q.Text != "" {
		p := fmt.Sprintf("(filename ILIKE $%d OR original_filename ILIKE $%d OR title ILIKE $%d)",
			len(args)+1, len(args)+1, len(args)+1)
		parts = append(parts, p)
		args = append(args, "%"+q.Text+"%")
	}

	if len(q.Tags) > 0 {
		ph := make([]string, 0, len(q.Tags))
		for _, tag := range q.Tags {
			args = append(args, tag)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		// Superset match: the object must carry every requested tag.
		args = append(args, len(q.Tags))
		parts = append(parts, fmt.Sprintf(
			"id IN (SELECT object_id FROM tags WHERE tag IN (%s) GROUP BY object_id HAVING COUNT(DISTINCT tag) = $%d)",
			strings.Join(ph, ", "), len(args)))
	}

	if q.MimePrefix != "" {
		args = append(args, q.MimePrefix+"%")
		parts = append(parts, fmt.Sprintf("mime_type LIKE $%d", len(args)))
	}

	return strings.Join(parts, " AND "), args
}

// Delete removes the object row and credits the tenant counter in one
// transaction. Tags cascade via the schema.
func (r *ObjectPostgres) Delete(ctx context.Context, obj *model.Object) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = $1 AND tenant_id = $2`, obj.ID, obj.TenantID)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Row already gone; no quota credit.
		return sql.ErrNoRows
	}

	const qCredit = `UPDATE tenants SET storage_used = GREATEST(storage_used - $2, 0), updated_at = now() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, qCredit, obj.TenantID, obj.SizeBytes); err != nil {
		return fmt.Errorf("credit quota: %w", err)
	}

	return tx.Commit()
}

// IncrementDownloadCount bumps the download counter for the delivery path.
func (r *ObjectPostgres) IncrementDownloadCount(ctx context.Context, id string) error {
	const q = `UPDATE objects SET download_count = download_count + 1, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func collectObjects(rows *sql.Rows) ([]model.Object, error) {
	defer rows.Close()
	items := make([]model.Object, 0)
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// loadTags fetches tags for a set of object ids in one query.
func (r *ObjectPostgres) loadTags(ctx context.Context, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	q := fmt.Sprintf(`SELECT object_id, tag FROM tags WHERE object_id IN (%s) ORDER BY tag`, strings.Join(ph, ", "))
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string, len(ids))
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

func (r *ObjectPostgres) attachTags(ctx context.Context, items []model.Object) error {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	tags, err := r.loadTags(ctx, ids)
	if err != nil {
		return err
	}
	for i := range items {
		items[i].Tags = tags[items[i].ID]
		if items[i].Tags == nil {
			items[i].Tags = []string{}
		}
	}
	return nil
}
