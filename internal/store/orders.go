package store

import (
	"context"
	"database/sql"
	"fmt"

	"toystore/internal/apperr"
	"toystore/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderInsertQuery = `
	INSERT INTO orders (
		order_number, user_id, status, payment_status, payment_method,
		subtotal, tax_amount, shipping_cost, discount, total_amount,
		coupon_id, shipping_address, billing_address,
		refund_status, payment_details, refund_details
	) VALUES (
		:order_number, :user_id, :status, :payment_status, :payment_method,
		:subtotal, :tax_amount, :shipping_cost, :discount, :total_amount,
		:coupon_id, :shipping_address, :billing_address,
		:refund_status, :payment_details, :refund_details
	)
	RETURNING id, created_at, updated_at`

const orderUpdateQuery = `
	UPDATE orders SET
		status = :status,
		payment_status = :payment_status,
		gateway_order_id = :gateway_order_id,
		gateway_payment_id = :gateway_payment_id,
		tracking_number = :tracking_number,
		shipped_at = :shipped_at,
		delivered_at = :delivered_at,
		refund_status = :refund_status,
		refund_amount = :refund_amount,
		refunded_at = :refunded_at,
		payment_details = :payment_details,
		refund_details = :refund_details,
		updated_at = NOW()
	WHERE id = :id`

// CreateOrderTx persists an order, its item snapshots, the commit-time stock
// deduction and the coupon usage increment as one transaction. On any failure
// nothing is created.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Commit-time stock re-check and deduction in one statement per line.
	for i := range items {
		if err := deductStock(ctx, tx, &items[i]); err != nil {
			return err
		}
	}

	rows, err := tx.NamedQuery(orderInsertQuery, order)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if rows.Next() {
		if err := rows.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			rows.Close()
			return err
		}
	}
	rows.Close()

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, variant_id, product_name, unit_price, quantity, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	for i := range items {
		items[i].OrderID = order.ID
		err := tx.GetContext(ctx, &items[i].ID, itemQuery,
			items[i].OrderID, items[i].ProductID, items[i].VariantID,
			items[i].ProductName, items[i].UnitPrice, items[i].Quantity, items[i].TotalPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if order.CouponID.Valid {
		res, err := tx.ExecContext(ctx, `
			UPDATE coupons SET usage_count = usage_count + 1
			WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`,
			order.CouponID.Int64)
		if err != nil {
			return fmt.Errorf("failed to increment coupon usage: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.Validation("coupon usage limit reached")
		}
	}

	return tx.Commit()
}

func deductStock(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	var res sql.Result
	var err error
	if item.VariantID.Valid {
		res, err = tx.ExecContext(ctx,
			"UPDATE variants SET stock = stock - $1 WHERE id = $2 AND active AND stock >= $1",
			item.Quantity, item.VariantID.Int64)
	} else {
		res, err = tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1 WHERE id = $2 AND active AND stock >= $1",
			item.Quantity, item.ProductID)
	}
	if err != nil {
		return fmt.Errorf("failed to deduct stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.Validation("insufficient stock for %q", item.ProductName)
	}
	return nil
}

// UpdateOrderTx runs fn against the order under a row lock and persists the
// mutable fields in the same transaction. All order mutations funnel through
// here so webhook- and user-driven writes to one order are serialized.
func (s *Store) UpdateOrderTx(ctx context.Context, orderID int64, fn func(o *models.Order) error) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order not found: %d", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if err := fn(&order); err != nil {
		return nil, err
	}

	if _, err := tx.NamedExecContext(ctx, orderUpdateQuery, &order); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderWithShipmentTx locks the order behind the shipment identified by
// AWB code, runs fn against both rows and persists them atomically.
func (s *Store) UpdateOrderWithShipmentTx(ctx context.Context, awbCode string, fn func(o *models.Order, sh *models.Shipment) error) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var shipment models.Shipment
	err = tx.GetContext(ctx, &shipment,
		"SELECT * FROM shipments WHERE awb_code = $1 FOR UPDATE", awbCode)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("shipment not found for awb: %s", awbCode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock shipment: %w", err)
	}

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", shipment.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if err := fn(&order, &shipment); err != nil {
		return nil, err
	}

	_, err = tx.NamedExecContext(ctx, `
		UPDATE shipments SET
			status = :status,
			shipment_details = :shipment_details,
			delivered_date = :delivered_date,
			updated_at = NOW()
		WHERE id = :id`, &shipment)
	if err != nil {
		return nil, fmt.Errorf("failed to update shipment: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, orderUpdateQuery, &order); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderNumberExists reports whether an order number is already taken.
func (s *Store) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)", orderNumber)
	return exists, err
}

// FindOrderIDByGatewayOrderID resolves an order by the remote gateway order id.
// Returns 0 when no order matches.
func (s *Store) FindOrderIDByGatewayOrderID(ctx context.Context, gatewayOrderID string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"SELECT id FROM orders WHERE gateway_order_id = $1", gatewayOrderID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// FindOrderIDByGatewayPaymentID resolves an order by the remote gateway
// payment id. Returns 0 when no order matches.
func (s *Store) FindOrderIDByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"SELECT id FROM orders WHERE gateway_payment_id = $1", gatewayPaymentID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// SetGatewayOrderID records the remote order id once; a retry that created a
// duplicate remote order keeps the first recorded id.
func (s *Store) SetGatewayOrderID(ctx context.Context, orderID int64, gatewayOrderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET gateway_order_id = $1, updated_at = NOW() WHERE id = $2 AND gateway_order_id IS NULL",
		gatewayOrderID, orderID)
	return err
}

// GetOrdersByUserID retrieves orders for a user, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves the snapshot lines of an order.
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetShipmentByOrderID retrieves an order's shipment, nil when none assigned.
func (s *Store) GetShipmentByOrderID(ctx context.Context, orderID int64) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment,
		"SELECT * FROM shipments WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// CreateShipment records a carrier AWB assignment for an order.
func (s *Store) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	query := `
		INSERT INTO shipments (order_id, awb_code, status, shipment_details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	return s.db.QueryRowxContext(ctx, query,
		shipment.OrderID, shipment.AWBCode, shipment.Status, shipment.ShipmentDetails).
		Scan(&shipment.ID, &shipment.CreatedAt, &shipment.UpdatedAt)
}

// GetCouponByCode retrieves a coupon by its upper-cased code.
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("coupon not found: %s", code)
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// IsEventProcessed checks if a notification event has been consumed before.
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records a consumed notification event.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
