package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"giftshop-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// OrderFilter narrows admin and user order listings.
type OrderFilter struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	UserID        string
	StartDate     *time.Time
	EndDate       *time.Time
	Page          int
	Limit         int
}

// Store is the transactional persistence contract consumed by the services.
// WithinTx runs fn against a store bound to a single transaction: every write
// inside fn commits together or not at all.
type Store interface {
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetGiftCardByID(ctx context.Context, id string) (*models.GiftCard, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
	SetOrderPaid(ctx context.Context, id string, method, externalPaymentID string) error
	SetOrderCancelled(ctx context.Context, id string, paymentStatus models.PaymentStatus) error
	CountOrdersByStatus(ctx context.Context) (map[models.OrderStatus]int, error)
	SumPaidRevenue(ctx context.Context) (decimal.Decimal, error)
	RecentOrders(ctx context.Context, limit int) ([]models.Order, error)

	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SetUserCustomerID(ctx context.Context, userID, customerID string) error
	SetUserPaymentMethod(ctx context.Context, userID, paymentMethodID string) error

	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, externalID, status string) error
	MarkSubscriptionPaymentFailed(ctx context.Context, externalID string) error

	WithinTx(ctx context.Context, fn func(Store) error) error
}

// Postgres implements Store on top of sqlx. The same struct serves both the
// connection pool and an open transaction: q is the pool normally, and the
// *sqlx.Tx inside WithinTx.
type Postgres struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db, q: db}, nil
}

// Close closes the database connection
func (s *Postgres) Close() error {
	return s.db.Close()
}

// WithinTx executes fn in one transaction. The transaction is rolled back on
// error or panic and committed otherwise.
func (s *Postgres) WithinTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.q.(*sqlx.Tx); inTx {
		// Already transactional, reuse the scope.
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Postgres{db: s.db, q: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// GetProductByID retrieves a product by ID
func (s *Postgres) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, s.q, &product, "SELECT * FROM products WHERE id = $1", id)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetGiftCardByID retrieves a gift card by ID
func (s *Postgres) GetGiftCardByID(ctx context.Context, id string) (*models.GiftCard, error) {
	var card models.GiftCard
	err := sqlx.GetContext(ctx, s.q, &card, "SELECT * FROM gift_cards WHERE id = $1", id)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetUserByID retrieves a user by ID
func (s *Postgres) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, s.q, &user, "SELECT * FROM users WHERE id = $1", id)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUserCustomerID records the provider-side customer reference for a user
func (s *Postgres) SetUserCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE users SET external_customer_id = $1 WHERE id = $2",
		customerID, userID)
	return err
}

// SetUserPaymentMethod records the provider-side payment method reference
func (s *Postgres) SetUserPaymentMethod(ctx context.Context, userID, paymentMethodID string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE users SET external_payment_method_id = $1 WHERE id = $2",
		paymentMethodID, userID)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
