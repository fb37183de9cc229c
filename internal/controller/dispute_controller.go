package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ledger-api/internal/dispute"
	"ledger-api/internal/models"
)

type DisputeController struct {
	writer dispute.Writer
	review dispute.ReviewService
}

func NewDisputeController(writer dispute.Writer, review dispute.ReviewService) *DisputeController {
	return &DisputeController{
		writer: writer,
		review: review,
	}
}

type ReportDisputeBody struct {
	UserID               int64                  `json:"user_id" binding:"required"`
	Type                 string                 `json:"type" binding:"required"`
	Severity             string                 `json:"severity" binding:"required"`
	Description          string                 `json:"description" binding:"required"`
	Evidence             models.DisputeEvidence `json:"evidence"`
	RelatedMatchID       string                 `json:"related_match_id,omitempty"`
	RelatedTransactionID string                 `json:"related_transaction_id,omitempty"`
	ForceAutoFlag        bool                   `json:"force_auto_flag,omitempty"`
}

type InvestigateBody struct {
	AdminID string `json:"admin_id" binding:"required"`
}

type ResolveBody struct {
	Status     string `json:"status" binding:"required"`
	AdminNotes string `json:"admin_notes,omitempty"`
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Action     string `json:"action_taken,omitempty"`
	ClearEntry bool   `json:"clear_entry,omitempty"`
}

// @Summary Report a dispute
// @Tags disputes
// @Router /api/disputes [post]
func (c *DisputeController) Report(ctx *gin.Context) {
	var body ReportDisputeBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	record, err := c.writer.Record(ctx.Request.Context(), &dispute.ReportRequest{
		UserID:               body.UserID,
		Type:                 models.DisputeType(body.Type),
		Severity:             models.DisputeSeverity(body.Severity),
		Description:          body.Description,
		Evidence:             body.Evidence,
		RelatedMatchID:       body.RelatedMatchID,
		RelatedTransactionID: body.RelatedTransactionID,
		ForceAutoFlag:        body.ForceAutoFlag,
		Context: models.RequestContext{
			IPAddress: ctx.ClientIP(),
			UserAgent: ctx.Request.UserAgent(),
		},
	})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to record dispute", Message: err.Error()})
		return
	}

	ctx.JSON(http.StatusCreated, record)
}

// @Summary List open disputes
// @Tags disputes
// @Router /api/disputes [get]
func (c *DisputeController) ListOpen(ctx *gin.Context) {
	limit := queryInt(ctx, "limit", 50)
	offset := queryInt(ctx, "offset", 0)
	if limit > 500 {
		limit = 500
	}

	records, err := c.review.ListOpen(ctx.Request.Context(), limit, offset)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list disputes", Message: err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"disputes": records,
		"limit":    limit,
		"offset":   offset,
	})
}

// @Summary Start a dispute investigation
// @Tags disputes
// @Router /api/disputes/{disputeId}/investigate [post]
func (c *DisputeController) Investigate(ctx *gin.Context) {
	var body InvestigateBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	record, err := c.review.StartInvestigation(ctx.Request.Context(), ctx.Param("disputeId"), body.AdminID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to start investigation", Message: err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, record)
}

// @Summary Resolve or dismiss a dispute
// @Tags disputes
// @Router /api/disputes/{disputeId}/resolve [post]
func (c *DisputeController) Resolve(ctx *gin.Context) {
	var body ResolveBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	record, err := c.review.Resolve(ctx.Request.Context(), ctx.Param("disputeId"), &dispute.Resolution{
		Status:     models.DisputeStatus(body.Status),
		AdminNotes: body.AdminNotes,
		ResolvedBy: body.ResolvedBy,
		Action:     models.ActionTaken(body.Action),
		ClearEntry: body.ClearEntry,
	})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to resolve dispute", Message: err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, record)
}

// @Summary Verify a flagged ledger entry
// @Tags disputes
// @Router /api/ledger/{entryId}/verify [post]
func (c *DisputeController) VerifyEntry(ctx *gin.Context) {
	if err := c.review.VerifyEntry(ctx.Request.Context(), ctx.Param("entryId")); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to verify entry", Message: err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "verified"})
}
