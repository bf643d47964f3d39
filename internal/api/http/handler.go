package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
	"github.com/shestoi/stockhold/internal/service"
	"github.com/shestoi/stockhold/platform/observability"
)

// HoldCreator создание холда (HoldManager)
type HoldCreator interface {
	CreateHold(ctx context.Context, productID string, quantity int64) (service.CreateHoldResult, error)
}

// Settler превращение холда в заказ и чтение заказа (OrderSettlement)
type Settler interface {
	Settle(ctx context.Context, holdID string) (service.SettleResult, error)
	GetOrder(ctx context.Context, orderID string) (repository.Order, error)
}

// StockReader остаток для отображения (StockLedger)
type StockReader interface {
	Available(ctx context.Context, productID string) (int64, error)
}

// WebhookIngestor приём уведомлений об оплате
type WebhookIngestor interface {
	Ingest(ctx context.Context, in service.PaymentStatusUpdate) (service.IngestStatus, error)
}

// Handler HTTP-обработчики сервиса резервирования.
// Знает только о service слое и переводит его ошибки в HTTP статусы.
type Handler struct {
	holds    HoldCreator
	settler  Settler
	stock    StockReader
	webhooks WebhookIngestor
	logger   *zap.Logger
}

func NewHandler(holds HoldCreator, settler Settler, stock StockReader, webhooks WebhookIngestor, logger *zap.Logger) *Handler {
	return &Handler{
		holds:    holds,
		settler:  settler,
		stock:    stock,
		webhooks: webhooks,
		logger:   logger,
	}
}

type createHoldRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int64 `json:"quantity"`
}

type createHoldResponse struct {
	Message     string    `json:"message"`
	HoldID      string    `json:"hold_id"`
	NewQuantity int64     `json:"new_quantity"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type createOrderRequest struct {
	HoldID string `json:"hold_id"`
}

type createOrderResponse struct {
	Message string `json:"message"`
	OrderID string `json:"order_id"`
}

type webhookRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	OrderID        string `json:"order_id"`
	PaymentStatus  string `json:"payment_status"`
}

type webhookResponse struct {
	Status service.IngestStatus `json:"status"`
}

type stockResponse struct {
	ProductID         string `json:"product_id"`
	AvailableQuantity int64  `json:"available_quantity"`
}

type orderResponse struct {
	OrderID       string    `json:"order_id"`
	HoldID        string    `json:"hold_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int64     `json:"quantity"`
	PaymentStatus string    `json:"payment_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// PostHolds обрабатывает POST /holds
func (h *Handler) PostHolds(w http.ResponseWriter, r *http.Request) {
	log := observability.LoggerFromContext(r.Context(), h.logger)

	var req createHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debug("invalid hold request body", zap.Error(err))
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ProductID == "" {
		writeMessage(w, http.StatusBadRequest, "product_id is required")
		return
	}

	var qty int64
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	res, err := h.holds.CreateHold(r.Context(), req.ProductID, qty)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			writeMessage(w, http.StatusBadRequest, "Quantity must be a positive integer")
		case errors.Is(err, service.ErrInsufficientStock):
			writeMessage(w, http.StatusBadRequest, "Insufficient quantity in stock")
		case errors.Is(err, service.ErrProductNotFound):
			writeMessage(w, http.StatusNotFound, "Product not found")
		default:
			log.Error("failed to create hold", zap.Error(err), zap.String("product_id", req.ProductID))
			writeMessage(w, http.StatusInternalServerError, "Failed to create hold")
		}
		return
	}

	writeJSON(w, http.StatusOK, createHoldResponse{
		Message:     "Hold created successfully",
		HoldID:      res.HoldID,
		NewQuantity: res.NewQuantity,
		ExpiresAt:   res.ExpiresAt,
	})
}

// PostOrders обрабатывает POST /orders
func (h *Handler) PostOrders(w http.ResponseWriter, r *http.Request) {
	log := observability.LoggerFromContext(r.Context(), h.logger)

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.HoldID == "" {
		writeMessage(w, http.StatusBadRequest, "hold_id is required")
		return
	}

	res, err := h.settler.Settle(r.Context(), req.HoldID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrHoldNotFoundOrExpired):
			writeMessage(w, http.StatusNotFound, "Hold not found or expired")
		case errors.Is(err, service.ErrOrderCreateFailed):
			writeMessage(w, http.StatusInternalServerError, "Failed to create order")
		default:
			log.Error("failed to settle hold", zap.Error(err), zap.String("hold_id", req.HoldID))
			writeMessage(w, http.StatusInternalServerError, "Failed to create order")
		}
		return
	}

	writeJSON(w, http.StatusOK, createOrderResponse{
		Message: "Order created successfully",
		OrderID: res.OrderID,
	})
}

// PostPaymentWebhook обрабатывает POST /payments/webhook.
// Неизвестный заказ не ошибка для отправителя: ответ 200 applied.
func (h *Handler) PostPaymentWebhook(w http.ResponseWriter, r *http.Request) {
	log := observability.LoggerFromContext(r.Context(), h.logger)

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	status, err := h.webhooks.Ingest(r.Context(), service.PaymentStatusUpdate(req))
	if err != nil {
		if errors.Is(err, service.ErrInvalidWebhook) {
			writeMessage(w, http.StatusBadRequest, "idempotency_key, order_id and payment_status are required")
			return
		}
		log.Error("failed to ingest webhook", zap.Error(err), zap.String("order_id", req.OrderID))
		writeMessage(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Status: status})
}

// GetProductStock обрабатывает GET /products/{id}/stock
func (h *Handler) GetProductStock(w http.ResponseWriter, r *http.Request, productID string) {
	qty, err := h.stock.Available(r.Context(), productID)
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			writeMessage(w, http.StatusNotFound, "Product not found")
			return
		}
		observability.LoggerFromContext(r.Context(), h.logger).Error("failed to read stock",
			zap.Error(err), zap.String("product_id", productID))
		writeMessage(w, http.StatusInternalServerError, "Failed to read stock")
		return
	}

	writeJSON(w, http.StatusOK, stockResponse{ProductID: productID, AvailableQuantity: qty})
}

// GetOrder обрабатывает GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := h.settler.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			writeMessage(w, http.StatusNotFound, "Order not found")
			return
		}
		observability.LoggerFromContext(r.Context(), h.logger).Error("failed to get order",
			zap.Error(err), zap.String("order_id", orderID))
		writeMessage(w, http.StatusInternalServerError, "Failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:       order.ID,
		HoldID:        order.HoldID,
		ProductID:     order.ProductID,
		Quantity:      order.Quantity,
		PaymentStatus: order.PaymentStatus,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
