package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"selfinsight_backend/internal/model"
	"selfinsight_backend/internal/util"
	"selfinsight_backend/pkg/logger"
	"selfinsight_backend/pkg/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordStore 提交留档的持久化依赖，由 repository.SubmissionRepository 实现
type RecordStore interface {
	Create(rec *model.SubmissionRecord) error
	List(page, limit int, userID uint) ([]model.SubmissionRecord, int64, error)
	FindByID(id uint) (*model.SubmissionRecord, error)
}

// PayloadArchiver 把发出的原始载荷留档到对象存储，尽力而为
type PayloadArchiver interface {
	ArchivePayload(ctx context.Context, submissionID string, blob []byte) error
}

// SubmissionService 提交协调器。评分调用慢且容易断，重复提交会造成
// 下游重复计费，所以失败时先对账再考虑重试，确认成功后幂等短路
type SubmissionService struct {
	sessions *SessionService
	store    SnapshotStore
	scoring  ScoringClient
	records  RecordStore
	archiver PayloadArchiver

	mu        sync.Mutex
	confirmed map[uint]*model.SubmitResult
	inflight  map[uint]bool
}

func NewSubmissionService(sessions *SessionService, store SnapshotStore, scoring ScoringClient, records RecordStore, archiver PayloadArchiver) *SubmissionService {
	return &SubmissionService{
		sessions:  sessions,
		store:     store,
		scoring:   scoring,
		records:   records,
		archiver:  archiver,
		confirmed: make(map[uint]*model.SubmitResult),
		inflight:  make(map[uint]bool),
	}
}

// ResetConfirmed 新一轮测评开始时清掉上一轮的幂等缓存
func (s *SubmissionService) ResetConfirmed(userID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.confirmed, userID)
}

// Submit 组装载荷并提交评分。完成度校验由调用方负责，这里不复查。
// 幂等闸门在网络调用返回前就占住，堵住连点提交的竞态
func (s *SubmissionService) Submit(ctx context.Context, userID uint, userAgent, referralCode string) (*model.SubmitResult, error) {
	s.mu.Lock()
	if result, ok := s.confirmed[userID]; ok {
		s.mu.Unlock()
		return result, nil
	}
	if s.inflight[userID] {
		s.mu.Unlock()
		return nil, util.ErrSubmissionInFlight
	}
	s.inflight[userID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, userID)
		s.mu.Unlock()
	}()

	// 在途计时结算 + 快照落盘，提交前的状态不能丢
	if err := s.sessions.Flush(ctx, userID); err != nil && !errors.Is(err, util.ErrSessionNotFound) {
		logger.Log.Warn("Pre-submit flush failed", zap.Uint("userId", userID), zap.Error(err))
	}

	// 载荷基于锁下取出的会话副本组装，提交期间的导航不与组装竞态
	sess, err := s.sessions.SessionCopy(userID)
	if err != nil {
		return nil, err
	}

	// 先看有没有悬而未决的上一次提交：有就先对账，确认送达则不再重发
	submissionID := uuid.New().String()
	if ref, _ := s.store.LoadSubmissionRef(ctx, userID); ref != nil && ref.SubmissionID != "" {
		if ref.ConfirmedAt != nil {
			result := &model.SubmitResult{
				SubmissionID: ref.SubmissionID,
				SessionID:    ref.SessionID,
				TestID:       ref.TestID,
				Reconciled:   true,
			}
			s.cacheConfirmed(userID, result)
			return result, nil
		}
		state, serr := s.scoring.EvaluationStatus(ctx, ref.SubmissionID)
		if serr == nil && (state == model.ScoringReady || state == model.ScoringProcessing) {
			monitoring.ReconciliationCounter.WithLabelValues(string(state)).Inc()
			return s.confirm(ctx, userID, sess, ref.SubmissionID, &model.ScoringAck{
				SubmissionID: ref.SubmissionID,
				SessionID:    sess.ID,
				TestID:       ref.TestID,
			}, nil, true)
		}
		// 上次的标识查不到下文，沿用它重发，评分端凭它去重
		submissionID = ref.SubmissionID
	}

	payload := s.buildPayload(sess, submissionID, userAgent, referralCode)

	// 标识先落地再发请求，响应丢了才有对账的依据
	if err := s.store.SaveSubmissionRef(ctx, userID, &model.SubmissionRef{
		SubmissionID: submissionID,
		SessionID:    sess.ID,
	}); err != nil {
		logger.Log.Warn("Failed to persist submission ref", zap.Uint("userId", userID), zap.Error(err))
	}

	ack, err := s.scoring.SubmitEvaluation(ctx, payload)
	if err == nil {
		monitoring.SubmissionCounter.WithLabelValues("accepted").Inc()
		return s.confirm(ctx, userID, sess, submissionID, ack, payload, false)
	}

	var unreachable *ScoringUnreachableError
	if errors.As(err, &unreachable) {
		// 超时可能掩盖了服务端的成功，盲目重发会重复计费，先对账
		state, serr := s.scoring.EvaluationStatus(ctx, submissionID)
		if serr == nil && (state == model.ScoringReady || state == model.ScoringProcessing) {
			monitoring.ReconciliationCounter.WithLabelValues(string(state)).Inc()
			monitoring.SubmissionCounter.WithLabelValues("reconciled").Inc()
			return s.confirm(ctx, userID, sess, submissionID, &model.ScoringAck{
				SubmissionID: submissionID,
				SessionID:    sess.ID,
			}, payload, true)
		}
		if serr != nil {
			monitoring.ReconciliationCounter.WithLabelValues("failed").Inc()
		} else {
			monitoring.ReconciliationCounter.WithLabelValues("unknown").Inc()
		}
		monitoring.SubmissionCounter.WithLabelValues("unreachable").Inc()
		logger.Log.Error("Submission unconfirmed after reconciliation",
			zap.Uint("userId", userID),
			zap.String("submissionId", submissionID),
			zap.Error(err))
		// 幂等闸门随 inflight 一起释放，允许用户手动重试
		return nil, err
	}

	monitoring.SubmissionCounter.WithLabelValues("rejected").Inc()
	logger.Log.Error("Submission rejected by scoring service",
		zap.Uint("userId", userID),
		zap.String("submissionId", submissionID),
		zap.Error(err))
	return nil, err
}

// confirm 成功收尾：终态迁移、标识确认、留档、归档、幂等缓存
func (s *SubmissionService) confirm(ctx context.Context, userID uint, sess *model.AssessmentSession, submissionID string, ack *model.ScoringAck, payload *model.EvaluationPayload, reconciled bool) (*model.SubmitResult, error) {
	now := time.Now()
	if err := s.store.SaveSubmissionRef(ctx, userID, &model.SubmissionRef{
		SubmissionID: submissionID,
		SessionID:    sess.ID,
		TestID:       ack.TestID,
		ConfirmedAt:  &now,
	}); err != nil {
		logger.Log.Warn("Failed to confirm submission ref", zap.Uint("userId", userID), zap.Error(err))
	}

	if err := s.sessions.MarkCompleted(ctx, userID); err != nil {
		logger.Log.Warn("Failed to mark session completed", zap.Uint("userId", userID), zap.Error(err))
	}

	if payload != nil {
		blob, _ := json.Marshal(payload)
		rec := &model.SubmissionRecord{
			SubmissionID:      submissionID,
			SessionID:         sess.ID,
			UserID:            userID,
			TestID:            ack.TestID,
			Status:            "accepted",
			Payload:           blob,
			DurationSeconds:   payload.DurationSeconds,
			CompletionPercent: payload.CompletionPercent,
			DeviceClass:       payload.DeviceClass,
			Browser:           payload.Browser,
			OS:                payload.OS,
			ReferralCode:      payload.ReferralCode,
		}
		if reconciled {
			rec.Status = "reconciled"
		}
		if err := s.records.Create(rec); err != nil {
			logger.Log.Error("Failed to archive submission record", zap.String("submissionId", submissionID), zap.Error(err))
		}
		if s.archiver != nil {
			if err := s.archiver.ArchivePayload(ctx, submissionID, blob); err != nil {
				logger.Log.Warn("Payload archive failed", zap.String("submissionId", submissionID), zap.Error(err))
			}
		}
	}

	result := &model.SubmitResult{
		SubmissionID: submissionID,
		SessionID:    sess.ID,
		TestID:       ack.TestID,
		Redirect:     ack.Redirect,
		Reconciled:   reconciled,
	}
	s.cacheConfirmed(userID, result)
	return result, nil
}

func (s *SubmissionService) cacheConfirmed(userID uint, result *model.SubmitResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed[userID] = result
}

// buildPayload 按全局题序走一遍题库，每道题恰好出现一次：
// 答过的用存储串，没答的用占位答案和空标签
func (s *SubmissionService) buildPayload(sess *model.AssessmentSession, submissionID, userAgent, referralCode string) *model.EvaluationPayload {
	catalog := s.sessions.Catalog()
	rows := make([]model.AnswerRow, 0, catalog.TotalQuestions())
	catalog.WalkQuestions(func(global int, sec *model.Section, q *model.Question) bool {
		row := model.AnswerRow{
			Index:       global,
			QuestionID:  q.ID,
			Text:        q.Text,
			Answer:      model.DeclinedAnswer,
			SectionID:   sec.ID,
			SectionName: sec.Title,
			Tags:        []model.HonestyTag{},
		}
		if resp := sess.Response(q.ID); resp != nil {
			if resp.RawAnswer != "" {
				row.Answer = resp.RawAnswer
			}
			if len(resp.Tags) > 0 {
				row.Tags = resp.Tags
			}
			row.TimeTakenSeconds = resp.ViewSeconds
		}
		rows = append(rows, row)
		return true
	})

	profile := util.ClassifyUserAgent(userAgent)
	return &model.EvaluationPayload{
		SubmissionID:      submissionID,
		SessionID:         sess.ID,
		UserID:            sess.UserID,
		Answers:           rows,
		DurationSeconds:   int(time.Since(sess.StartedAt).Seconds()),
		CompletionPercent: s.sessions.CompletionPercent(sess),
		DeviceClass:       profile.DeviceClass,
		Browser:           profile.Browser,
		OS:                profile.OS,
		ReferralCode:      referralCode,
	}
}

func (s *SubmissionService) ListRecords(page, limit int, userID uint) ([]model.SubmissionRecord, int64, error) {
	return s.records.List(page, limit, userID)
}

func (s *SubmissionService) GetRecord(id uint) (*model.SubmissionRecord, error) {
	return s.records.FindByID(id)
}
