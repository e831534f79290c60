package store

import (
	"context"
	"sync"
	"time"

	"giftshop-service/internal/models"

	"github.com/shopspring/decimal"
)

// Memory is an in-memory Store used by tests and local development. WithinTx
// runs against a copy of the dataset and swaps it in on success, so a failed
// transaction leaves no partial writes behind.
type Memory struct {
	mu     sync.Mutex
	parent *Memory
	data   *memData
}

type memData struct {
	products      map[string]models.Product
	giftCards     map[string]models.GiftCard
	orders        map[string]models.Order
	orderItems    map[string][]models.OrderItem
	users         map[string]models.User
	subscriptions map[string]models.Subscription
	orderSeq      []string
}

func newMemData() *memData {
	return &memData{
		products:      make(map[string]models.Product),
		giftCards:     make(map[string]models.GiftCard),
		orders:        make(map[string]models.Order),
		orderItems:    make(map[string][]models.OrderItem),
		users:         make(map[string]models.User),
		subscriptions: make(map[string]models.Subscription),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.giftCards {
		c.giftCards[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.orderItems {
		c.orderItems[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.subscriptions {
		c.subscriptions[k] = v
	}
	c.orderSeq = append([]string(nil), d.orderSeq...)
	return c
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

// lock acquires the root mutex unless this store is a transaction scope,
// whose parent already holds it.
func (m *Memory) lock() func() {
	if m.parent != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// WithinTx runs fn against a dataset copy and commits it atomically.
func (m *Memory) WithinTx(_ context.Context, fn func(Store) error) error {
	if m.parent != nil {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{parent: m, data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

// Seed helpers for tests and local fixtures.

func (m *Memory) PutProduct(p models.Product) {
	defer m.lock()()
	m.data.products[p.ID] = p
}

func (m *Memory) PutGiftCard(g models.GiftCard) {
	defer m.lock()()
	m.data.giftCards[g.ID] = g
}

func (m *Memory) PutUser(u models.User) {
	defer m.lock()()
	m.data.users[u.ID] = u
}

func (m *Memory) GetProductByID(_ context.Context, id string) (*models.Product, error) {
	defer m.lock()()
	p, ok := m.data.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) GetGiftCardByID(_ context.Context, id string) (*models.GiftCard, error) {
	defer m.lock()()
	g, ok := m.data.giftCards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (m *Memory) CreateOrder(_ context.Context, order *models.Order) error {
	defer m.lock()()
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	stored := *order
	stored.Items = nil
	stored.GiftCard = nil
	m.data.orders[order.ID] = stored
	m.data.orderSeq = append(m.data.orderSeq, order.ID)
	return nil
}

func (m *Memory) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	defer m.lock()()
	m.data.orderItems[item.OrderID] = append(m.data.orderItems[item.OrderID], *item)
	return nil
}

func (m *Memory) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *Memory) GetOrderItemsByOrderID(_ context.Context, orderID string) ([]models.OrderItem, error) {
	defer m.lock()()
	return append([]models.OrderItem(nil), m.data.orderItems[orderID]...), nil
}

func (m *Memory) ListOrders(_ context.Context, filter OrderFilter) ([]models.Order, int, error) {
	defer m.lock()()

	matched := make([]models.Order, 0)
	for i := len(m.data.orderSeq) - 1; i >= 0; i-- {
		o := m.data.orders[m.data.orderSeq[i]]
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && o.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if filter.UserID != "" && (o.UserID == nil || *o.UserID != filter.UserID) {
			continue
		}
		if filter.StartDate != nil && o.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && o.CreatedAt.After(*filter.EndDate) {
			continue
		}
		matched = append(matched, o)
	}

	total := len(matched)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}

	start := (page - 1) * limit
	if start >= total {
		return []models.Order{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *Memory) UpdateOrderStatus(_ context.Context, id string, status models.OrderStatus) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	m.data.orders[id] = o
	return nil
}

func (m *Memory) SetOrderPaid(_ context.Context, id string, method, externalPaymentID string) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = models.PaymentStatusPaid
	o.PaymentMethod = method
	o.ExternalPaymentID = externalPaymentID
	o.Status = models.OrderStatusProcessing
	o.UpdatedAt = time.Now()
	m.data.orders[id] = o
	return nil
}

func (m *Memory) SetOrderCancelled(_ context.Context, id string, paymentStatus models.PaymentStatus) error {
	defer m.lock()()
	o, ok := m.data.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = models.OrderStatusCancelled
	o.PaymentStatus = paymentStatus
	o.UpdatedAt = time.Now()
	m.data.orders[id] = o
	return nil
}

func (m *Memory) CountOrdersByStatus(_ context.Context) (map[models.OrderStatus]int, error) {
	defer m.lock()()
	counts := make(map[models.OrderStatus]int)
	for _, o := range m.data.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (m *Memory) SumPaidRevenue(_ context.Context) (decimal.Decimal, error) {
	defer m.lock()()
	sum := decimal.Zero
	for _, o := range m.data.orders {
		if o.PaymentStatus == models.PaymentStatusPaid {
			sum = sum.Add(o.TotalPrice)
		}
	}
	return sum, nil
}

func (m *Memory) RecentOrders(_ context.Context, limit int) ([]models.Order, error) {
	defer m.lock()()
	orders := make([]models.Order, 0, limit)
	for i := len(m.data.orderSeq) - 1; i >= 0 && len(orders) < limit; i-- {
		orders = append(orders, m.data.orders[m.data.orderSeq[i]])
	}
	return orders, nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (*models.User, error) {
	defer m.lock()()
	u, ok := m.data.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) SetUserCustomerID(_ context.Context, userID, customerID string) error {
	defer m.lock()()
	u, ok := m.data.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ExternalCustomerID = customerID
	m.data.users[userID] = u
	return nil
}

func (m *Memory) SetUserPaymentMethod(_ context.Context, userID, paymentMethodID string) error {
	defer m.lock()()
	u, ok := m.data.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ExternalPaymentMethodID = paymentMethodID
	m.data.users[userID] = u
	return nil
}

func (m *Memory) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	defer m.lock()()
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	m.data.subscriptions[sub.ExternalSubscriptionID] = *sub
	return nil
}

func (m *Memory) GetSubscriptionByExternalID(_ context.Context, externalID string) (*models.Subscription, error) {
	defer m.lock()()
	s, ok := m.data.subscriptions[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) UpdateSubscriptionStatus(_ context.Context, externalID, status string) error {
	defer m.lock()()
	s, ok := m.data.subscriptions[externalID]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	m.data.subscriptions[externalID] = s
	return nil
}

func (m *Memory) MarkSubscriptionPaymentFailed(_ context.Context, externalID string) error {
	defer m.lock()()
	s, ok := m.data.subscriptions[externalID]
	if !ok {
		return ErrNotFound
	}
	s.PaymentFailed = true
	s.UpdatedAt = time.Now()
	m.data.subscriptions[externalID] = s
	return nil
}
