package postgres

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

const (
	productColumns  = `id, name, price, image_url, category_id, created_at, updated_at`
	categoryColumns = `id, name, description, parent_id, created_at, updated_at`
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.Name, product.Price, product.ImageURL, nullString(product.CategoryID),
		product.CreatedAt, product.UpdatedAt)
	return mapProductWriteError(err, "insert product")
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, errors.Wrap(err, "select product")
	}
	return product, nil
}

func (r *productRepository) List(ctx context.Context) ([]domain.Product, error) {
	return r.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC`)
}

func (r *productRepository) ListByCategory(ctx context.Context, categoryID string) ([]domain.Product, error) {
	return r.query(ctx, `SELECT `+productColumns+` FROM products WHERE category_id = $1 ORDER BY name ASC`, categoryID)
}

func (r *productRepository) FindByName(ctx context.Context, name string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE lower(name) = lower($1)`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, errors.Wrap(err, "select product by name")
	}
	return product, nil
}

func (r *productRepository) Update(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET name = $1, price = $2, image_url = $3, category_id = $4, updated_at = $5
		WHERE id = $6
	`, product.Name, product.Price, product.ImageURL, nullString(product.CategoryID), product.UpdatedAt, product.ID)
	if err := mapProductWriteError(err, "update product"); err != nil {
		return err
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) query(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product row")
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate product rows")
	}
	return products, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		product    domain.Product
		categoryID sql.NullString
	)
	if err := row.Scan(&product.ID, &product.Name, &product.Price, &product.ImageURL, &categoryID,
		&product.CreatedAt, &product.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	product.CategoryID = categoryID.String
	return product, nil
}

func mapProductWriteError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return domain.ErrProductNameTaken
	case isForeignKeyViolation(err):
		return domain.ErrCategoryNotFound
	default:
		return errors.Wrap(err, op)
	}
}

type categoryRepository struct {
	db *sql.DB
}

// NewCategoryRepository создаёт PostgreSQL-реализацию CategoryRepository.
func NewCategoryRepository(store *Store) domain.CategoryRepository {
	return &categoryRepository{db: store.DB()}
}

func (r *categoryRepository) Create(ctx context.Context, category domain.Category) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, category.ID, category.Name, category.Description, nullString(category.ParentID),
		category.CreatedAt, category.UpdatedAt)
	return mapCategoryWriteError(err, "insert category")
}

func (r *categoryRepository) Get(ctx context.Context, id string) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	category, err := scanCategory(r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
		return domain.Category{}, errors.Wrap(err, "select category")
	}
	return category, nil
}

func (r *categoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	return r.query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name ASC`)
}

func (r *categoryRepository) ListChildren(ctx context.Context, parentID string) ([]domain.Category, error) {
	return r.query(ctx, `SELECT `+categoryColumns+` FROM categories WHERE parent_id = $1 ORDER BY name ASC`, parentID)
}

func (r *categoryRepository) FindByName(ctx context.Context, name string) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	category, err := scanCategory(r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE lower(name) = lower($1)`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
		return domain.Category{}, errors.Wrap(err, "select category by name")
	}
	return category, nil
}

func (r *categoryRepository) Update(ctx context.Context, category domain.Category) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE categories
		SET name = $1, description = $2, parent_id = $3, updated_at = $4
		WHERE id = $5
	`, category.Name, category.Description, nullString(category.ParentID), category.UpdatedAt, category.ID)
	if err := mapCategoryWriteError(err, "update category"); err != nil {
		return err
	}
	return requireAffected(res, domain.ErrCategoryNotFound)
}

func (r *categoryRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCategoryInUse
		}
		return errors.Wrap(err, "delete category")
	}
	return requireAffected(res, domain.ErrCategoryNotFound)
}

func (r *categoryRepository) query(ctx context.Context, query string, args ...any) ([]domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan category row")
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate category rows")
	}
	return categories, nil
}

func scanCategory(row rowScanner) (domain.Category, error) {
	var (
		category domain.Category
		parentID sql.NullString
	)
	if err := row.Scan(&category.ID, &category.Name, &category.Description, &parentID,
		&category.CreatedAt, &category.UpdatedAt); err != nil {
		return domain.Category{}, err
	}
	category.ParentID = parentID.String
	return category, nil
}

func mapCategoryWriteError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return domain.ErrCategoryNameTaken
	case isForeignKeyViolation(err):
		return domain.ErrCategoryNotFound
	default:
		return errors.Wrap(err, op)
	}
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var (
	_ domain.ProductRepository  = (*productRepository)(nil)
	_ domain.CategoryRepository = (*categoryRepository)(nil)
)
