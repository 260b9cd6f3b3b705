package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/backend"
	"github.com/mmdatafocus/books_reconcile/fulfillment"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/mmdatafocus/books_reconcile/submission"
)

// fail writes the response for a flow error and records it for the error logger.
func (h *Handler) fail(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	var fe *models.FieldError
	var be *backend.BackendError
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		// repeated convert, cancel or issue: nothing happened, and nothing needs fixing
		return http.StatusOK, gin.H{"noop": true, "message": err.Error()}
	case errors.Is(err, submission.ErrSubmissionInFlight):
		return http.StatusConflict, gin.H{"error": err.Error()}
	case errors.Is(err, submission.ErrDraftNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity, gin.H{"error": fe.Err.Error(), "field": fe.Field, "id": fe.Id}
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, fulfillment.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity, gin.H{"error": err.Error()}
	case errors.As(err, &be):
		if be.Status == http.StatusNotFound {
			return http.StatusNotFound, gin.H{"error": be.Message}
		}
		return http.StatusBadGateway, gin.H{"error": be.Message, "backend_status": be.Status}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}
}
