package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nishantd01/sheetwatch/models"
	"github.com/nishantd01/sheetwatch/service"
)

type RuleController struct {
	session *service.SessionController
}

func NewRuleController(session *service.SessionController) *RuleController {
	return &RuleController{session: session}
}

func ruleErrorStatus(err error) int {
	if errors.Is(err, service.ErrNotReady) {
		return http.StatusConflict
	}
	if errors.Is(err, models.ErrRemote) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// GET /api/v1/rules
func (ctl *RuleController) ListRules(ctx *gin.Context) {
	rules, err := ctl.session.ListRules(ctx.Request.Context())
	if err != nil {
		ctx.JSON(ruleErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"count": len(rules),
	})
}

// POST /api/v1/rules
func (ctl *RuleController) CreateRule(ctx *gin.Context) {
	var input models.RuleInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := ctl.session.AddRule(ctx.Request.Context(), input); err != nil {
		ctx.JSON(ruleErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, ctl.session.Snapshot())
}

// DELETE /api/v1/rules/:triggerId
func (ctl *RuleController) DeleteRule(ctx *gin.Context) {
	triggerID := ctx.Param("triggerId")
	if triggerID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "missing triggerId"})
		return
	}

	if err := ctl.session.DeleteRule(ctx.Request.Context(), triggerID); err != nil {
		ctx.JSON(ruleErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, ctl.session.Snapshot())
}
