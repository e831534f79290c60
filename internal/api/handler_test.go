package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"giftshop-service/internal/apperr"
	"giftshop-service/internal/gateway"
	"giftshop-service/internal/models"
	"giftshop-service/internal/service"
	"giftshop-service/internal/store"
	"giftshop-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct{}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	return "cus_test", nil
}

func (g *fakeGateway) CreateAndConfirmPayment(ctx context.Context, req gateway.PaymentRequest) (string, error) {
	return "pi_test", nil
}

func (g *fakeGateway) Refund(ctx context.Context, paymentID string) error { return nil }

func (g *fakeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return nil
}

func (g *fakeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	return nil
}

func (g *fakeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return nil
}

func (g *fakeGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*gateway.CardDetails, error) {
	return &gateway.CardDetails{ID: paymentMethodID, Brand: "visa", Last4: "4242"}, nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string) (string, error) {
	return "sub_test", nil
}

func (g *fakeGateway) GetPrice(ctx context.Context, priceID string) (*gateway.PriceInfo, error) {
	return &gateway.PriceInfo{ID: priceID, Interval: "month", IntervalCount: 1}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) (*gateway.Event, error) {
	return nil, apperr.InvalidSignature(nil)
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	mem.PutProduct(models.Product{ID: "rose-bouquet", Name: "Rose Bouquet", Price: decimal.NewFromFloat(45.50)})
	mem.PutUser(models.User{ID: "user-1", Name: "Ana", Email: "ana@example.com"})

	gw := &fakeGateway{}
	orders := service.NewOrderService(mem, gw, nil, nil)
	paymentMethods := service.NewPaymentMethodService(mem, gw)
	subscriptions := service.NewSubscriptionService(mem, gw)
	reconciler := webhook.NewReconciler(mem, gw, nil)

	router := gin.New()
	NewHandler(orders, paymentMethods, subscriptions, reconciler, nil).SetupRoutes(router)
	return router, mem
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestCreateOrderEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"items":          []gin.H{{"product_id": "rose-bouquet", "quantity": 2}},
		"recipient_name": "Maria",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "Order created successfully", envelope["message"])

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, "UNPAID", data["payment_status"])
	assert.Equal(t, "91", data["total_price"])
}

func TestCreateOrderEndpointRejectsEmpty(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{"items": []gin.H{}}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, false, envelope["success"])
	assert.NotEmpty(t, envelope["errorMessages"])
}

func TestGetOrderOwnership(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"items": []gin.H{{"product_id": "rose-bouquet", "quantity": 1}},
	}, map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeEnvelope(t, rec)["data"].(map[string]interface{})["id"].(string)

	// The owner can read it.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/orders/"+orderID, nil,
		map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Someone else gets 403.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/orders/"+orderID, nil,
		map[string]string{"X-User-ID": "user-2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admins bypass ownership.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/orders/"+orderID, nil,
		map[string]string{"X-User-ID": "admin-1", "X-User-Role": "admin"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/orders/no-such-order", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentAndCancelFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"items": []gin.H{{"product_id": "rose-bouquet", "quantity": 1}},
	}, map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeEnvelope(t, rec)["data"].(map[string]interface{})["id"].(string)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/orders/"+orderID+"/payment",
		gin.H{"payment_method_id": "pm_card"},
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "PAID", data["payment_status"])
	assert.Equal(t, "PROCESSING", data["status"])

	// Paying again conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/orders/"+orderID+"/payment",
		gin.H{"payment_method_id": "pm_card"},
		map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", nil,
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data = decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "CANCELLED", data["status"])
	assert.Equal(t, "REFUNDED", data["payment_status"])
}

func TestUpdateOrderStatusConflict(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"items": []gin.H{{"product_id": "rose-bouquet", "quantity": 1}},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeEnvelope(t, rec)["data"].(map[string]interface{})["id"].(string)

	rec = doJSON(t, router, http.MethodPatch, "/api/v1/orders/"+orderID+"/status",
		gin.H{"status": "DELIVERED"},
		map[string]string{"X-User-Role": "admin"})
	require.Equal(t, http.StatusConflict, rec.Code)

	envelope := decodeEnvelope(t, rec)
	assert.Contains(t, envelope["message"], "cannot change order status")
}

func TestListMyOrdersRequiresIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/orders/my-orders", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListOrdersPaginationMeta(t *testing.T) {
	router, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
			"items": []gin.H{{"product_id": "rose-bouquet", "quantity": 1}},
		}, map[string]string{"X-User-ID": "user-1"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/orders/my-orders?page=1&limit=2", nil,
		map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeEnvelope(t, rec)
	meta := envelope["meta"].(map[string]interface{})
	assert.Equal(t, float64(1), meta["page"])
	assert.Equal(t, float64(2), meta["limit"])
	assert.Equal(t, float64(3), meta["total"])
	assert.Equal(t, float64(2), meta["totalPages"])
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{"id":"evt_1"}`)))
	req.Header.Set("Stripe-Signature", "bogus")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, false, envelope["success"])
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
