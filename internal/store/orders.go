package store

import (
	"context"
	"fmt"
	"strings"

	"giftshop-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreateOrder inserts a new order row
func (s *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			id, total_price, status, payment_status, payment_method,
			external_payment_id, user_id, gift_card_id, message,
			sender_name, sender_email, recipient_name, recipient_email,
			delivery_address, delivery_date, anonymous, qr_code_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`

	row := s.q.QueryRowxContext(ctx, query,
		order.ID, order.TotalPrice, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.ExternalPaymentID, order.UserID, order.GiftCardID, order.Message,
		order.SenderName, order.SenderEmail, order.RecipientName, order.RecipientEmail,
		order.DeliveryAddress, order.DeliveryDate, order.Anonymous, order.QRCodeURL)
	return row.Scan(&order.CreatedAt, &order.UpdatedAt)
}

// CreateOrderItem inserts a price-snapshot line item
func (s *Postgres) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.q.ExecContext(ctx, query,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Postgres) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order, "SELECT * FROM orders WHERE id = $1", id)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Postgres) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, s.q, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// ListOrders returns a page of orders matching the filter plus the total count.
func (s *Postgres) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int, error) {
	conds := []string{}
	args := []interface{}{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.PaymentStatus != "" {
		add("payment_status = $%d", filter.PaymentStatus)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := sqlx.GetContext(ctx, s.q, &total, "SELECT COUNT(*) FROM orders"+where, args...); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf("SELECT * FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)-1, len(args))

	var orders []models.Order
	if err := sqlx.SelectContext(ctx, s.q, &orders, query, args...); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateOrderStatus updates the fulfilment status only
func (s *Postgres) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// SetOrderPaid records a captured payment and moves the order to PROCESSING.
func (s *Postgres) SetOrderPaid(ctx context.Context, id string, method, externalPaymentID string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, payment_method = $2, external_payment_id = $3,
		    status = $4, updated_at = NOW()
		WHERE id = $5`,
		models.PaymentStatusPaid, method, externalPaymentID, models.OrderStatusProcessing, id)
	return err
}

// SetOrderCancelled marks the order CANCELLED with the given payment status.
func (s *Postgres) SetOrderCancelled(ctx context.Context, id string, paymentStatus models.PaymentStatus) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = NOW()
		WHERE id = $3`,
		models.OrderStatusCancelled, paymentStatus, id)
	return err
}

// CountOrdersByStatus groups order counts per status
func (s *Postgres) CountOrdersByStatus(ctx context.Context) (map[models.OrderStatus]int, error) {
	rows, err := s.q.QueryxContext(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.OrderStatus]int)
	for rows.Next() {
		var status models.OrderStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// SumPaidRevenue sums total_price over paid orders
func (s *Postgres) SumPaidRevenue(ctx context.Context) (decimal.Decimal, error) {
	var revenue decimal.Decimal
	err := sqlx.GetContext(ctx, s.q, &revenue,
		"SELECT COALESCE(SUM(total_price), 0) FROM orders WHERE payment_status = $1",
		models.PaymentStatusPaid)
	return revenue, err
}

// RecentOrders returns the most recently created orders
func (s *Postgres) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, s.q, &orders,
		"SELECT * FROM orders ORDER BY created_at DESC LIMIT $1", limit)
	return orders, err
}
