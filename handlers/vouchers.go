package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/allocation"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/submission"
)

type voucherHeaderRequest struct {
	VoucherId       int                `json:"voucher_id"`
	PartyId         int                `json:"party_id" binding:"required,gt=0"`
	AccountId       int                `json:"account_id"`
	Date            time.Time          `json:"date"`
	ReferenceNumber string             `json:"reference_number"`
	Narration       string             `json:"narration"`
	Attachment      *models.Attachment `json:"attachment"`
}

func (r voucherHeaderRequest) header(t models.VoucherType) models.VoucherHeader {
	return models.VoucherHeader{
		Type:            t,
		VoucherId:       r.VoucherId,
		PartyId:         r.PartyId,
		AccountId:       r.AccountId,
		Date:            r.Date,
		ReferenceNumber: r.ReferenceNumber,
		Narration:       r.Narration,
		Attachment:      r.Attachment,
	}
}

type openVoucherRequest struct {
	voucherHeaderRequest
	// allocations already on the voucher being edited
	Prior []models.Allocation `json:"prior_allocations"`
}

type eventsRequest[E any] struct {
	Events []E `json:"events" binding:"required,min=1,dive"`
}

func (h *Handler) listOutstanding(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	t, ok := voucherType(c)
	if !ok {
		return
	}
	partyId, err := strconv.Atoi(c.Query("party_id"))
	if err != nil || partyId <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid party_id"})
		return
	}
	docs, err := h.vouchers.Outstanding(c.Request.Context(), s, t, partyId)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *Handler) openVoucher(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	t, ok := voucherType(c)
	if !ok {
		return
	}
	var req openVoucherRequest
	if !bind(c, &req) {
		return
	}
	state, err := h.vouchers.Open(c.Request.Context(), s, req.header(t), req.Prior)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *Handler) getVoucher(c *gin.Context) {
	t, ok := voucherType(c)
	if !ok {
		return
	}
	state, err := h.vouchers.Get(c.Request.Context(), t, c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) updateVoucherHeader(c *gin.Context) {
	t, ok := voucherType(c)
	if !ok {
		return
	}
	var req voucherHeaderRequest
	if !bind(c, &req) {
		return
	}
	state, err := h.vouchers.UpdateHeader(c.Request.Context(), t, c.Param("key"), req.header(t))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) applyVoucherEvents(c *gin.Context) {
	t, ok := voucherType(c)
	if !ok {
		return
	}
	var req eventsRequest[voucherEvent]
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	key := c.Param("key")
	state, err := h.vouchers.Get(ctx, t, key)
	if err != nil {
		h.fail(c, err)
		return
	}
	var events []allocation.Event
	for _, e := range req.Events {
		evs, err := e.events(state.Documents)
		if err != nil {
			h.fail(c, err)
			return
		}
		events = append(events, evs...)
	}
	state, err = h.vouchers.Apply(ctx, t, key, events...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) refreshVoucher(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	t, ok := voucherType(c)
	if !ok {
		return
	}
	state, err := h.vouchers.Refresh(c.Request.Context(), s, t, c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) submitVoucher(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	t, ok := voucherType(c)
	if !ok {
		return
	}
	result, err := h.vouchers.Submit(c.Request.Context(), s, t, c.Param("key"))
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

func (h *Handler) discardVoucher(c *gin.Context) {
	t, ok := voucherType(c)
	if !ok {
		return
	}
	if err := h.vouchers.Discard(c.Request.Context(), t, c.Param("key")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
