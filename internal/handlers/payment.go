// internal/handlers/payment.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/models"
	"github.com/coinshop/coinshop-backend/internal/services"
	"github.com/coinshop/coinshop-backend/internal/utils"
)

type PaymentHandler struct {
	invoiceService   *services.InvoiceService
	reconcileService *services.ReconcileService
	config           *config.Config
}

func NewPaymentHandler(invoiceService *services.InvoiceService, reconcileService *services.ReconcileService, cfg *config.Config) *PaymentHandler {
	return &PaymentHandler{
		invoiceService:   invoiceService,
		reconcileService: reconcileService,
		config:           cfg,
	}
}

type CreateInvoiceRequest struct {
	OrderID        *uuid.UUID `json:"order_id"`
	SubscriptionID *uuid.UUID `json:"subscription_id"`
	Chain          string     `json:"chain" validate:"required,chain"`
}

// POST /invoices
func (h *PaymentHandler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	parent, err := models.RefFromColumns(req.OrderID, req.SubscriptionID)
	if err != nil {
		utils.BadRequestResponse(c, "Exactly one of order_id or subscription_id is required", nil)
		return
	}

	invoice, err := h.invoiceService.CreateInvoice(c.Request.Context(), parent, models.Chain(req.Chain))
	if err != nil {
		var allocErr *services.AllocationError
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			utils.NotFoundResponse(c, "Order")
		case errors.As(err, &allocErr):
			utils.InternalErrorResponse(c, "Address allocation failed")
		default:
			utils.BadRequestResponse(c, err.Error(), nil)
		}
		return
	}

	utils.CreatedResponse(c, invoice)
}

// GET /payments/status
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	parent, ok := parentFromQuery(c)
	if !ok {
		return
	}

	status, err := h.invoiceService.GetPaymentStatus(parent)
	if err != nil {
		if errors.Is(err, services.ErrInvoiceNotFound) {
			utils.NotFoundResponse(c, "Invoice")
			return
		}
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, status)
}

// POST /webhooks/crypto
// Authenticated by a shared-secret token in the query string, compared
// in constant time. The processor acknowledges replays and unknown
// addresses with 200 so the notifier stops retrying them.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	token := c.Query("token")
	if token == "" || !utils.SecureCompare(token, h.config.Crypto.WebhookSecret) {
		utils.UnauthorizedResponse(c, "Invalid webhook token")
		return
	}

	var notification services.WebhookNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		utils.BadRequestResponse(c, "Invalid webhook payload", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&notification)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	if err := h.reconcileService.HandleWebhook(c.Request.Context(), &notification); err != nil {
		// Transient failure: a 5xx makes the notifier redeliver, which
		// is safe because processing is idempotent.
		utils.InternalErrorResponse(c, "Reconciliation failed, retry later")
		return
	}

	utils.SuccessResponse(c, gin.H{"received": true})
}

// POST /admin/reconcile/poll
func (h *PaymentHandler) TriggerPoll(c *gin.Context) {
	processed, err := h.reconcileService.PollPending(c.Request.Context())
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, gin.H{"processed": processed})
}

func parentFromQuery(c *gin.Context) (models.ParentRef, bool) {
	orderParam := c.Query("order_id")
	subscriptionParam := c.Query("subscription_id")

	var orderID, subscriptionID *uuid.UUID
	if orderParam != "" {
		id, err := uuid.Parse(orderParam)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid order_id", nil)
			return models.ParentRef{}, false
		}
		orderID = &id
	}
	if subscriptionParam != "" {
		id, err := uuid.Parse(subscriptionParam)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid subscription_id", nil)
			return models.ParentRef{}, false
		}
		subscriptionID = &id
	}

	parent, err := models.RefFromColumns(orderID, subscriptionID)
	if err != nil {
		utils.BadRequestResponse(c, "Exactly one of order_id or subscription_id is required", nil)
		return models.ParentRef{}, false
	}
	return parent, true
}
