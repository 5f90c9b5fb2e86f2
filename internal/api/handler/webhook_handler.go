package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vendor-gateway/internal/api/dto"
)

// HandleWebhook handles POST /api/v1/vendor-webhook/:vendor
// Completes an async job with the vendor's final data
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	vendorName := c.Param("vendor")

	var req dto.WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	if req.RequestID == "" || req.FinalData == nil {
		respondError(c, http.StatusBadRequest, "Invalid webhook payload: missing request_id or final_data")
		return
	}

	job, err := h.reconciler.Reconcile(c.Request.Context(), vendorName, req.RequestID, req.FinalData)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to process webhook",
				slog.String("vendor", vendorName),
				slog.String("request_id", req.RequestID),
				slog.String("error", err.Error()),
			)
			respondError(c, status, "Internal server error processing webhook")
			return
		}
		respondError(c, status, err.Error())
		return
	}

	c.JSON(http.StatusOK, dto.WebhookResponse{
		Message: "Webhook processed successfully",
		JobID:   job.RequestID,
	})
}
