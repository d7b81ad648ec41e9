package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/billgate/domain/catalog"
)

// PackageStore implements ports.PackageStore using SQLite.
// Packages are reference data: created for seeding, never updated once a
// payment references them.
type PackageStore struct {
	db *DB
}

// NewPackageStore creates a new SQLite package store.
func NewPackageStore(db *DB) *PackageStore {
	return &PackageStore{db: db}
}

const packageColumns = `
	id, code, name, description, price, discount_price, currency, duration_days,
	job_posts_quota, featured_quota, urgent_quota, cv_views_quota,
	active, created_at, updated_at`

// Get retrieves a package by ID.
func (s *PackageStore) Get(ctx context.Context, id string) (catalog.Package, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE id = ?
	`, id)
	return scanPackage(row)
}

// GetByCode retrieves a package by its unique code.
func (s *PackageStore) GetByCode(ctx context.Context, code string) (catalog.Package, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE code = ?
	`, code)
	return scanPackage(row)
}

// ListActive returns all active packages ordered by price.
func (s *PackageStore) ListActive(ctx context.Context) ([]catalog.Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE active = 1
		ORDER BY price
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create stores a package.
func (s *PackageStore) Create(ctx context.Context, p catalog.Package) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO packages (
			id, code, name, description, price, discount_price, currency, duration_days,
			job_posts_quota, featured_quota, urgent_quota, cv_views_quota,
			active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Code, p.Name, p.Description, p.Price, p.DiscountPrice, p.Currency,
		p.DurationDays, p.JobPostsQuota, p.FeaturedQuota, p.UrgentQuota, p.CVViewsQuota,
		boolToInt(p.Active), p.CreatedAt, p.UpdatedAt,
	)

	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

func scanPackage(row rowScanner) (catalog.Package, error) {
	var p catalog.Package
	var active int

	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.Description, &p.Price, &p.DiscountPrice,
		&p.Currency, &p.DurationDays,
		&p.JobPostsQuota, &p.FeaturedQuota, &p.UrgentQuota, &p.CVViewsQuota,
		&active, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Package{}, ErrNotFound
	}
	if err != nil {
		return catalog.Package{}, err
	}

	p.Active = active != 0
	return p, nil
}
