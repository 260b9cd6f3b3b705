// Package handlers exposes the reconciliation flows over HTTP. Every route expects the session
// headers read by middlewares.SessionMiddleware.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/middlewares"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/submission"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	vouchers *submission.VoucherFlow
	grns     *submission.GRNFlow
	returns  *submission.ReturnFlow
	logger   *logrus.Logger
}

// New builds every flow over the same deps, so they share one snapshot cache and guard.
func New(deps submission.Deps) *Handler {
	return &Handler{
		vouchers: submission.NewVoucherFlow(deps),
		grns:     submission.NewGRNFlow(deps),
		returns:  submission.NewReturnFlow(deps),
		logger:   deps.Logger,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	v := r.Group("/vouchers/:type")
	v.GET("/outstanding", h.listOutstanding)
	v.POST("/drafts", h.openVoucher)
	v.GET("/drafts/:key", h.getVoucher)
	v.PUT("/drafts/:key/header", h.updateVoucherHeader)
	v.POST("/drafts/:key/events", h.applyVoucherEvents)
	v.POST("/drafts/:key/refresh", h.refreshVoucher)
	v.POST("/drafts/:key/submit", h.submitVoucher)
	v.DELETE("/drafts/:key", h.discardVoucher)

	g := r.Group("/grns")
	g.POST("/drafts", h.openGRN)
	g.GET("/drafts/:key", h.getGRN)
	g.POST("/drafts/:key/events", h.applyGRNEvents)
	g.POST("/drafts/:key/submit", h.submitGRN)
	g.DELETE("/drafts/:key", h.discardGRN)
	g.GET("/orders/:id/lines", h.listOrderLines)
	g.POST("/:id/convert", h.convertGRN)
	g.POST("/:id/cancel", h.cancelGRN)

	r.POST("/returns", h.submitReturn)
	r.POST("/returns/:id/issue", h.issueReturn)
}

func session(c *gin.Context) (models.Session, bool) {
	s, ok := middlewares.GetSession(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return s, ok
}

func voucherType(c *gin.Context) (models.VoucherType, bool) {
	var t models.VoucherType
	if err := t.UnmarshalText([]byte(c.Param("type"))); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return t, true
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}
