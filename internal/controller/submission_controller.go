package controller

import (
	"errors"
	"net/http"
	"strconv"

	"selfinsight_backend/internal/service"
	"selfinsight_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SubmissionController struct {
	Submissions *service.SubmissionService
	Sessions    *service.SessionService
}

func NewSubmissionController(submissions *service.SubmissionService, sessions *service.SessionService) *SubmissionController {
	return &SubmissionController{Submissions: submissions, Sessions: sessions}
}

type SubmitRequest struct {
	ReferralCode string `json:"referralCode"`
	Force        bool   `json:"force"`
}

// @Summary 提交测评
// @Description 完成度检查通过后组装载荷提交评分端，超时走状态对账。force 为真时跳过缺答拦截
// @Tags 提交
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body SubmitRequest false "提交参数"
// @Success 200 {object} util.Response
// @Router /assessment/submit [post]
func (c *SubmissionController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SubmitRequest
	_ = ctx.ShouldBindJSON(&req)

	if !req.Force {
		report, err := c.Sessions.Completeness(user.UserID)
		if err != nil {
			if errors.Is(err, util.ErrSessionNotFound) {
				util.NotFound(ctx)
				return
			}
			util.LogInternalError(ctx, err)
			return
		}
		if report.HasIncomplete {
			util.ErrorWithData(ctx, http.StatusConflict, util.ErrSubmissionIncomplete.Error(), report)
			return
		}
	}

	result, err := c.Submissions.Submit(ctx.Request.Context(), user.UserID, ctx.Request.UserAgent(), req.ReferralCode)
	if err != nil {
		var rejected *service.ScoringRejectedError
		var unreachable *service.ScoringUnreachableError
		switch {
		case errors.Is(err, util.ErrSessionNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrSubmissionInFlight):
			util.Error(ctx, http.StatusConflict, err.Error())
		case errors.As(err, &rejected):
			util.Error(ctx, http.StatusUnprocessableEntity, rejected.Error())
		case errors.As(err, &unreachable):
			util.Error(ctx, http.StatusBadGateway, unreachable.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, result)
}

// @Summary 提交记录列表
// @Tags 提交
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Param userId query int false "按用户过滤"
// @Success 200 {object} util.PageResponse
// @Router /assessment/submissions [get]
func (c *SubmissionController) ListSubmissions(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	userID, _ := strconv.ParseUint(ctx.DefaultQuery("userId", "0"), 10, 64)

	records, total, err := c.Submissions.ListRecords(page, limit, uint(userID))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.SuccessPage(ctx, records, total, page, limit)
}

// @Summary 提交记录详情
// @Tags 提交
// @Produce json
// @Security BearerAuth
// @Param id path int true "记录ID"
// @Success 200 {object} util.Response
// @Router /assessment/submissions/{id} [get]
func (c *SubmissionController) GetSubmission(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(ctx, "invalid submission id")
		return
	}

	record, err := c.Submissions.GetRecord(uint(id))
	if err != nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, record)
}
