package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ledger-api/internal/ledger"
	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BlockedResponse is returned when a mutation is refused by risk screening.
type BlockedResponse struct {
	Error     string   `json:"error"`
	EntryID   string   `json:"entry_id"`
	DisputeID string   `json:"dispute_id,omitempty"`
	RiskScore int      `json:"risk_score"`
	Reasons   []string `json:"reasons,omitempty"`
}

type LedgerController struct {
	ledgerService ledger.Service
}

func NewLedgerController(ledgerService ledger.Service) *LedgerController {
	return &LedgerController{
		ledgerService: ledgerService,
	}
}

type CreateAccountRequest struct {
	UserID         int64 `json:"user_id" binding:"required"`
	InitialBalance int64 `json:"initial_balance"`
}

type MutationBody struct {
	Amount               int64                  `json:"amount" binding:"required"`
	Category             string                 `json:"category" binding:"required"`
	Reason               string                 `json:"reason" binding:"required"`
	AdminID              string                 `json:"admin_id,omitempty"`
	RelatedTransactionID string                 `json:"related_transaction_id,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// @Summary Create a new account
// @Tags accounts
// @Router /api/accounts [post]
func (c *LedgerController) CreateAccount(ctx *gin.Context) {
	var req CreateAccountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	account, err := c.ledgerService.CreateAccount(ctx.Request.Context(), req.UserID, req.InitialBalance)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, account)
}

// @Summary Get account information
// @Tags accounts
// @Router /api/accounts/{userId} [get]
func (c *LedgerController) GetAccount(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	account, err := c.ledgerService.GetAccount(ctx.Request.Context(), userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, account)
}

// @Summary Apply a balance mutation
// @Description Applies a signed balance change through risk screening. A
// refused mutation returns 403 with the blocked entry and dispute IDs.
// @Tags accounts
// @Router /api/accounts/{userId}/mutations [post]
func (c *LedgerController) ApplyMutation(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	var body MutationBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	req := &ledger.MutationRequest{
		UserID:               userID,
		Amount:               body.Amount,
		Category:             models.EntryCategory(body.Category),
		Reason:               body.Reason,
		AdminID:              body.AdminID,
		RelatedTransactionID: body.RelatedTransactionID,
		Metadata:             body.Metadata,
		IdempotencyKey:       ctx.GetHeader("Idempotency-Key"),
		Context: models.RequestContext{
			IPAddress: ctx.ClientIP(),
			UserAgent: ctx.Request.UserAgent(),
		},
	}

	result, err := c.ledgerService.ApplyMutation(ctx.Request.Context(), req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// @Summary Get ledger history
// @Tags accounts
// @Router /api/accounts/{userId}/ledger [get]
func (c *LedgerController) GetHistory(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	limit := queryInt(ctx, "limit", 50)
	offset := queryInt(ctx, "offset", 0)
	if limit > 500 {
		limit = 500
	}

	filter := &repository.LedgerFilter{}
	if status := ctx.Query("verification_status"); status != "" {
		filter.VerificationStatus = models.VerificationStatus(status)
	}
	if category := ctx.Query("category"); category != "" {
		filter.Category = models.EntryCategory(category)
	}
	if flagged := ctx.Query("flagged"); flagged != "" {
		value := flagged == "true"
		filter.Flagged = &value
	}

	entries, err := c.ledgerService.GetHistory(ctx.Request.Context(), userID, filter, limit, offset)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func writeServiceError(ctx *gin.Context, err error) {
	var blocked *ledger.BlockedError
	if errors.As(err, &blocked) {
		ctx.JSON(http.StatusForbidden, BlockedResponse{
			Error:     "Mutation blocked by suspicious activity",
			EntryID:   blocked.EntryID,
			DisputeID: blocked.DisputeID,
			RiskScore: blocked.Verdict.RiskScore,
			Reasons:   blocked.Verdict.Reasons,
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: "Account not found"})
	case errors.Is(err, ledger.ErrInvalidMutation):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid mutation", Message: err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Message: err.Error()})
	}
}

func userIDFromPath(ctx *gin.Context) (int64, error) {
	return strconv.ParseInt(ctx.Param("userId"), 10, 64)
}

func queryInt(ctx *gin.Context, name string, fallback int) int {
	if raw := ctx.Query(name); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			return value
		}
	}
	return fallback
}
