package controller

import (
	"errors"

	"selfinsight_backend/internal/model"
	"selfinsight_backend/internal/service"
	"selfinsight_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AssessmentController struct {
	Catalog     *service.CatalogService
	Sessions    *service.SessionService
	Submissions *service.SubmissionService
}

func NewAssessmentController(catalog *service.CatalogService, sessions *service.SessionService, submissions *service.SubmissionService) *AssessmentController {
	return &AssessmentController{Catalog: catalog, Sessions: sessions, Submissions: submissions}
}

// @Summary 获取题库
// @Description 按小节返回整套测评的题目
// @Tags 测评
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /assessment/catalog [get]
func (c *AssessmentController) GetCatalog(ctx *gin.Context) {
	util.Success(ctx, c.Catalog.Catalog())
}

type StartSessionRequest struct {
	SectionID string `json:"sectionId"`
}

// @Summary 开始或恢复测评会话
// @Tags 测评
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body StartSessionRequest false "可选的起始小节"
// @Success 200 {object} util.Response
// @Router /assessment/session/start [post]
func (c *AssessmentController) StartSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req StartSessionRequest
	_ = ctx.ShouldBindJSON(&req)

	sess, resumed, err := c.Sessions.Start(ctx.Request.Context(), user.UserID, req.SectionID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	// 新一轮会话开始后，上一轮的提交幂等缓存作废
	c.Submissions.ResetConfirmed(user.UserID)

	util.Success(ctx, gin.H{
		"session": sess,
		"resumed": resumed,
	})
}

// @Summary 获取当前会话状态
// @Tags 测评
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /assessment/session [get]
func (c *AssessmentController) GetSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sess, err := c.Sessions.Session(user.UserID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	pos, err := c.Sessions.Position(user.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"session":  sess,
		"position": pos,
	})
}

// @Summary 前进一题
// @Tags 测评
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /assessment/session/advance [post]
func (c *AssessmentController) Advance(ctx *gin.Context) {
	c.navigate(ctx, func(userID uint) (*model.AssessmentSession, error) {
		return c.Sessions.Advance(userID)
	})
}

// @Summary 后退一题
// @Tags 测评
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /assessment/session/retreat [post]
func (c *AssessmentController) Retreat(ctx *gin.Context) {
	c.navigate(ctx, func(userID uint) (*model.AssessmentSession, error) {
		return c.Sessions.Retreat(userID)
	})
}

type JumpRequest struct {
	Index int `json:"index"`
}

// @Summary 小节内跳题
// @Tags 测评
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body JumpRequest true "目标下标"
// @Success 200 {object} util.Response
// @Router /assessment/session/jump [post]
func (c *AssessmentController) JumpTo(ctx *gin.Context) {
	var req JumpRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	c.navigate(ctx, func(userID uint) (*model.AssessmentSession, error) {
		return c.Sessions.JumpTo(userID, req.Index)
	})
}

type ChangeSectionRequest struct {
	SectionID string `json:"sectionId" binding:"required"`
}

// @Summary 切换小节
// @Tags 测评
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body ChangeSectionRequest true "目标小节"
// @Success 200 {object} util.Response
// @Router /assessment/session/section [post]
func (c *AssessmentController) ChangeSection(ctx *gin.Context) {
	var req ChangeSectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	c.navigate(ctx, func(userID uint) (*model.AssessmentSession, error) {
		return c.Sessions.ChangeSection(userID, req.SectionID)
	})
}

func (c *AssessmentController) navigate(ctx *gin.Context, op func(userID uint) (*model.AssessmentSession, error)) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sess, err := op(user.UserID)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrSessionNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrSectionNotFound):
			util.BadRequest(ctx, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	pos, err := c.Sessions.Position(user.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"session":  sess,
		"position": pos,
	})
}

type RecordResponseRequest struct {
	QuestionID string              `json:"questionId" binding:"required"`
	Answer     service.AnswerInput `json:"answer"`
	Tags       []model.HonestyTag  `json:"tags"`
}

// @Summary 记录一次作答
// @Description 表现层在每次导航动作时推送已提交的值
// @Tags 测评
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body RecordResponseRequest true "作答内容"
// @Success 200 {object} util.Response
// @Router /assessment/session/response [post]
func (c *AssessmentController) RecordResponse(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req RecordResponseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	resp, err := c.Sessions.RecordResponse(user.UserID, req.QuestionID, req.Answer, req.Tags)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrSessionNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrQuestionNotFound), errors.Is(err, util.ErrInvalidHonestyTag):
			util.BadRequest(ctx, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, resp)
}

type BeginViewRequest struct {
	QuestionID string `json:"questionId" binding:"required"`
}

// @Summary 开始浏览一道题
// @Description 隐式结束上一题的计时并累计其浏览时长
// @Tags 测评
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body BeginViewRequest true "题目ID"
// @Success 200 {object} util.Response
// @Router /assessment/session/view [post]
func (c *AssessmentController) BeginView(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req BeginViewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.Sessions.BeginView(user.UserID, req.QuestionID); err != nil {
		switch {
		case errors.Is(err, util.ErrSessionNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrQuestionNotFound):
			util.BadRequest(ctx, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, nil)
}

// @Summary 同步落盘会话快照
// @Description 页面隐藏/卸载信号触发的立即保存
// @Tags 测评
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /assessment/session/flush [post]
func (c *AssessmentController) Flush(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.Sessions.Flush(ctx.Request.Context(), user.UserID); err != nil {
		if errors.Is(err, util.ErrSessionNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 完成度检查
// @Description 返回第一处缺答位置与缺答总数
// @Tags 测评
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /assessment/session/completeness [get]
func (c *AssessmentController) Completeness(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	report, err := c.Sessions.Completeness(user.UserID)
	if err != nil {
		if errors.Is(err, util.ErrSessionNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// @Summary 放弃当前会话
// @Tags 测评
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /assessment/session/abandon [post]
func (c *AssessmentController) Abandon(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.Sessions.Abandon(ctx.Request.Context(), user.UserID); err != nil {
		switch {
		case errors.Is(err, util.ErrSessionNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrSessionFinished):
			util.BadRequest(ctx, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, nil)
}
