package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"giftshop-service/internal/blob"
	"giftshop-service/internal/models"
	"giftshop-service/internal/service"
	"giftshop-service/internal/store"
	"giftshop-service/internal/util"
	"giftshop-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Identity headers injected by the upstream auth gateway. Authentication
// itself happens outside this service; handlers only consume the verified
// identity forwarded here.
const (
	headerUserID    = "X-User-ID"
	headerUserRole  = "X-User-Role"
	headerSignature = "Stripe-Signature"
)

const maxWebhookBody = 1 << 20

// Handler contains HTTP handlers
type Handler struct {
	orders         *service.OrderService
	paymentMethods *service.PaymentMethodService
	subscriptions  *service.SubscriptionService
	reconciler     *webhook.Reconciler
	storage        *blob.Storage
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	paymentMethods *service.PaymentMethodService,
	subscriptions *service.SubscriptionService,
	reconciler *webhook.Reconciler,
	storage *blob.Storage,
) *Handler {
	return &Handler{
		orders:         orders,
		paymentMethods: paymentMethods,
		subscriptions:  subscriptions,
		reconciler:     reconciler,
		storage:        storage,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Raw body, signature-verified, no auth middleware.
	router.POST("/webhook", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/my-orders", h.listMyOrders)
		v1.GET("/orders/stats/dashboard", h.orderStats)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/payment", h.processPayment)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)

		v1.POST("/payment-methods", h.attachPaymentMethod)
		v1.PUT("/payment-methods", h.updatePaymentMethod)
		v1.GET("/payment-methods", h.getPaymentMethod)

		v1.POST("/subscriptions", h.createSubscription)

		v1.POST("/files", h.uploadFile)
		v1.DELETE("/files", h.deleteFile)
		v1.DELETE("/files/batch", h.deleteFiles)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// currentUserID returns the forwarded user identity, nil for guests.
func currentUserID(c *gin.Context) *string {
	if id := c.GetHeader(headerUserID); id != "" {
		return &id
	}
	return nil
}

func isAdmin(c *gin.Context) bool {
	return c.GetHeader(headerUserRole) == "admin"
}

// requesterID is the ownership scope passed to the service layer: nil for
// administrators (bypasses the check), the caller's ID otherwise.
func requesterID(c *gin.Context) *string {
	if isAdmin(c) {
		return nil
	}
	return currentUserID(c)
}

// createOrder handles order creation; guest checkout is permitted.
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	req.UserID = currentUserID(c)

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Order created successfully", order)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrderByID(c.Request.Context(), c.Param("id"), requesterID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order retrieved successfully", order)
}

func (h *Handler) processPayment(c *gin.Context) {
	var req service.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	order, err := h.orders.ProcessPayment(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Payment processed successfully", order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), requesterID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order cancelled successfully", order)
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// updateOrderStatus is admin-only by caller contract; the upstream gateway
// admits only administrators to this route.
func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order status updated successfully", order)
}

// listOrders is the admin listing with filters and pagination.
func (h *Handler) listOrders(c *gin.Context) {
	filter := orderFilterFromQuery(c)

	orders, total, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondList(c, "Orders retrieved successfully", orders, paginationMeta(filter, total))
}

func (h *Handler) listMyOrders(c *gin.Context) {
	userID := currentUserID(c)
	if userID == nil {
		respondError(c, errUnauthenticated())
		return
	}

	filter := orderFilterFromQuery(c)
	filter.UserID = *userID
	filter.PaymentStatus = ""
	filter.StartDate = nil
	filter.EndDate = nil

	orders, total, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondList(c, "Orders retrieved successfully", orders, paginationMeta(filter, total))
}

func (h *Handler) orderStats(c *gin.Context) {
	stats, err := h.orders.GetOrderStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order statistics retrieved successfully", stats)
}

// handleWebhook verifies and applies a provider event. The body is consumed
// raw; signature verification needs the exact bytes sent by the provider.
func (h *Handler) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.reconciler.HandleEvent(c.Request.Context(), payload, c.GetHeader(headerSignature)); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Webhook processed", gin.H{"received": true})
}

type paymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

func (h *Handler) attachPaymentMethod(c *gin.Context) {
	userID := currentUserID(c)
	if userID == nil {
		respondError(c, errUnauthenticated())
		return
	}

	var req paymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.paymentMethods.AttachPaymentMethod(c.Request.Context(), *userID, req.PaymentMethodID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Payment method attached successfully", nil)
}

func (h *Handler) updatePaymentMethod(c *gin.Context) {
	userID := currentUserID(c)
	if userID == nil {
		respondError(c, errUnauthenticated())
		return
	}

	var req paymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.paymentMethods.UpdatePaymentMethod(c.Request.Context(), *userID, req.PaymentMethodID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Payment method updated successfully", nil)
}

func (h *Handler) getPaymentMethod(c *gin.Context) {
	userID := currentUserID(c)
	if userID == nil {
		respondError(c, errUnauthenticated())
		return
	}

	card, err := h.paymentMethods.GetPaymentMethod(c.Request.Context(), *userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Payment method retrieved successfully", card)
}

func (h *Handler) createSubscription(c *gin.Context) {
	userID := currentUserID(c)
	if userID == nil {
		respondError(c, errUnauthenticated())
		return
	}

	var req service.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	sub, err := h.subscriptions.CreateSubscription(c.Request.Context(), *userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Subscription created successfully", sub)
}

func (h *Handler) uploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		respondError(c, err)
		return
	}

	url, err := h.storage.Put(c.Request.Context(), data, file.Header.Get("Content-Type"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "File uploaded successfully", gin.H{"fileUrl": url})
}

type deleteFileRequest struct {
	FileURL string `json:"file_url" binding:"required"`
}

func (h *Handler) deleteFile(c *gin.Context) {
	var req deleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.storage.Delete(c.Request.Context(), req.FileURL); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "File deleted successfully", nil)
}

type deleteFilesRequest struct {
	FileURLs []string `json:"file_urls" binding:"required,min=1"`
}

func (h *Handler) deleteFiles(c *gin.Context) {
	var req deleteFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	results, err := h.storage.DeleteMany(c.Request.Context(), req.FileURLs)
	if err != nil {
		respondError(c, err)
		return
	}

	failed := make([]string, 0)
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.URL)
		}
	}
	respond(c, http.StatusOK, "Files deleted", gin.H{"failed": failed})
}

func orderFilterFromQuery(c *gin.Context) store.OrderFilter {
	filter := store.OrderFilter{
		Status:        models.OrderStatus(c.Query("status")),
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
	}

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "10")); err == nil {
		filter.Limit = limit
	}
	if raw := c.Query("startDate"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.StartDate = &t
		}
	}
	if raw := c.Query("endDate"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.EndDate = &t
		}
	}
	return filter
}

func paginationMeta(filter store.OrderFilter, total int) Meta {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}
	return Meta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
