// internal/handlers/subscription.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coinshop/coinshop-backend/internal/models"
	"github.com/coinshop/coinshop-backend/internal/services"
	"github.com/coinshop/coinshop-backend/internal/utils"
)

type SubscriptionHandler struct {
	subscriptionService *services.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
	}
}

type CreateSubscriptionRequest struct {
	ShopID uuid.UUID `json:"shop_id" validate:"required"`
	Tier   string    `json:"tier" validate:"required,oneof=basic pro"`
}

// POST /subscriptions
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	subscription, err := h.subscriptionService.CreateSubscription(c.Request.Context(), req.ShopID, models.ShopTier(req.Tier))
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.CreatedResponse(c, subscription)
}

// GET /subscriptions/:id
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	subscriptionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid subscription ID", nil)
		return
	}

	subscription, err := h.subscriptionService.GetSubscription(subscriptionID)
	if err != nil {
		utils.NotFoundResponse(c, "Subscription")
		return
	}

	utils.SuccessResponse(c, subscription)
}
