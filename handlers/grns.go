package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/fulfillment"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/submission"
)

type openGRNRequest struct {
	OrderId int       `json:"order_id" binding:"required,gt=0"`
	Date    time.Time `json:"date"`
	Notes   string    `json:"notes"`
}

func (h *Handler) openGRN(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	var req openGRNRequest
	if !bind(c, &req) {
		return
	}
	state, err := h.grns.Open(c.Request.Context(), s, req.OrderId, req.Date, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *Handler) listOrderLines(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	orderId, ok := pathId(c)
	if !ok {
		return
	}
	lines, err := h.grns.OrderLines(c.Request.Context(), s, orderId)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

func (h *Handler) getGRN(c *gin.Context) {
	state, err := h.grns.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) applyGRNEvents(c *gin.Context) {
	var req eventsRequest[grnEvent]
	if !bind(c, &req) {
		return
	}
	events := make([]fulfillment.Event, 0, len(req.Events))
	for _, e := range req.Events {
		ev, err := e.event()
		if err != nil {
			h.fail(c, err)
			return
		}
		events = append(events, ev)
	}
	state, err := h.grns.Apply(c.Request.Context(), c.Param("key"), events...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) submitGRN(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	result, err := h.grns.Submit(c.Request.Context(), s, c.Param("key"))
	if errors.Is(err, submission.ErrDraftDiscarded) {
		c.JSON(http.StatusOK, gin.H{"stale": true, "result": result})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) discardGRN(c *gin.Context) {
	if err := h.grns.Discard(c.Request.Context(), c.Param("key")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) convertGRN(c *gin.Context) {
	h.transitionGRN(c, h.grns.Convert)
}

func (h *Handler) cancelGRN(c *gin.Context) {
	h.transitionGRN(c, h.grns.Cancel)
}

type grnTransition func(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error)

func (h *Handler) transitionGRN(c *gin.Context, transition grnTransition) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	result, err := transition(c.Request.Context(), s, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
