package store

import (
	"context"
	"database/sql"

	"toystore/internal/models"
)

// GetOrCreateCart returns the user's cart, creating it on first access.
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == nil {
		return &cart, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// One cart per user; a concurrent first access loses the insert race
	// and reads the winner's row.
	query := `
		INSERT INTO carts (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, created_at, updated_at`
	if err := s.db.GetContext(ctx, &cart, query, userID); err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartItems retrieves a cart's lines in insertion order.
func (s *Store) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY id", cartID)
	return items, err
}

// GetCartItem retrieves one line by product/variant pair, nil when absent.
func (s *Store) GetCartItem(ctx context.Context, cartID, productID, variantID int64) (*models.CartItem, error) {
	var item models.CartItem
	query := "SELECT * FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND variant_id IS NOT DISTINCT FROM $3"
	err := s.db.GetContext(ctx, &item, query, cartID, productID, nullableID(variantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateCartItem inserts a new cart line.
func (s *Store) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (cart_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	row := s.db.QueryRowxContext(ctx, query,
		item.CartID, item.ProductID, item.VariantID, item.Quantity)
	return row.Scan(&item.ID, &item.CreatedAt)
}

// SetCartItemQuantity replaces a line's quantity.
func (s *Store) SetCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	return err
}

// DeleteCartItem removes a single line.
func (s *Store) DeleteCartItem(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID)
	return err
}

// ClearCart removes every line of a cart.
func (s *Store) ClearCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	return err
}

func nullableID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
