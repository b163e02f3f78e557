package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/padifield/ricemart/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// ListFilter narrows and paginates product listings. Zero values mean
// "no constraint"; page and limit are normalized by the repository.
type ListFilter struct {
	Query    string
	Featured bool
	MinPrice float64
	MaxPrice float64
	Page     int
	Limit    int
}

type ProductPage struct {
	Items []domain.Product `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

const productColumns = `id, name, description, variety, price, stock_quantity, image_url, featured, farmer_id, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }, p *domain.Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Description, &p.Variety, &p.Price,
		&p.StockQuantity, &p.ImageURL, &p.Featured, &p.FarmerID,
		&p.CreatedAt, &p.UpdatedAt)
}

func (r *ProductRepository) List(ctx context.Context, filter ListFilter) (*ProductPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Query != "" {
		conds = append(conds, "name ILIKE "+arg("%"+filter.Query+"%"))
	}
	if filter.Featured {
		conds = append(conds, "featured = TRUE")
	}
	if filter.MinPrice > 0 {
		conds = append(conds, "price >= "+arg(filter.MinPrice))
	}
	if filter.MaxPrice > 0 {
		conds = append(conds, "price <= "+arg(filter.MaxPrice))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := "SELECT " + productColumns + " FROM products" + where +
		" ORDER BY created_at DESC, id" +
		" LIMIT " + arg(filter.Limit) + " OFFSET " + arg((filter.Page-1)*filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	page := &ProductPage{Items: []domain.Product{}, Total: total, Page: filter.Page, Limit: filter.Limit}
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return page, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	p := &domain.Product{}

	err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id), p)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

// Reserve decrements available stock, failing when less than the requested
// quantity remains. The guard in the WHERE clause keeps the decrement atomic.
func (r *ProductRepository) Reserve(ctx context.Context, id string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
	`, id, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrInsufficientStock
	}

	return nil
}

// Release returns previously reserved stock, e.g. after a cancellation.
func (r *ProductRepository) Release(ctx context.Context, id string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1
	`, id, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return errors.New("unknown product")
	}

	return nil
}
