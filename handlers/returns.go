package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/models"
)

type submitReturnRequest struct {
	// Key is chosen by the caller and reused on a manual retry of the same return.
	Key string `json:"key" binding:"required,max=64"`
	models.ReturnDraft
}

func (h *Handler) submitReturn(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	var req submitReturnRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.returns.Submit(c.Request.Context(), s, req.Key, req.ReturnDraft)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) issueReturn(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	note, err := h.returns.Issue(c.Request.Context(), s, id)
	if err != nil {
		status, body := errorResponse(err)
		if note.NoteNumber != "" {
			body["note"] = note
		}
		if status >= http.StatusInternalServerError {
			c.Error(err)
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, note)
}
