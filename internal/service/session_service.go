package service

import (
	"context"
	"sync"
	"time"

	"selfinsight_backend/internal/model"
	"selfinsight_backend/internal/util"
	"selfinsight_backend/pkg/logger"

	"go.uber.org/zap"
)

// SnapshotStore 会话快照的持久化依赖，由 repository.SessionSnapshotRepository 实现
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, userID uint, s *model.AssessmentSession) error
	LoadSnapshot(ctx context.Context, userID uint) (*model.AssessmentSession, error)
	ClearSnapshot(ctx context.Context, userID uint) error
	SaveSubmissionRef(ctx context.Context, userID uint, ref *model.SubmissionRef) error
	LoadSubmissionRef(ctx context.Context, userID uint) (*model.SubmissionRef, error)
	ClearSubmissionRef(ctx context.Context, userID uint) error
	ClearTagCache(ctx context.Context, userID uint) error
}

// SessionService 测评会话状态机。每用户同时只有一个活动会话，
// 所有修改都是对内存会话对象的同步调用，快照落盘由防抖定时器兜底
type SessionService struct {
	catalog *model.Catalog
	store   SnapshotStore
	timer   *ViewTimer

	mu    sync.Mutex
	live  map[uint]*model.AssessmentSession
	dirty map[uint]bool

	stopAutosave chan struct{}
}

func NewSessionService(cat *CatalogService, store SnapshotStore) *SessionService {
	return &SessionService{
		catalog:      cat.Catalog(),
		store:        store,
		timer:        NewViewTimer(),
		live:         make(map[uint]*model.AssessmentSession),
		dirty:        make(map[uint]bool),
		stopAutosave: make(chan struct{}),
	}
}

func (s *SessionService) Catalog() *model.Catalog {
	return s.catalog
}

// Start 恢复或新建会话。有快照且未完成则恢复并强制回到 in_progress；
// 已完成的快照不再重开，直接换新会话。两种情况都清掉遗留的提交标识
// 与标签缓存，避免新一轮作答和上一轮混淆
func (s *SessionService) Start(ctx context.Context, userID uint, sectionID string) (*model.AssessmentSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.store.LoadSnapshot(ctx, userID)
	if err != nil {
		logger.Log.Warn("Snapshot load failed, starting fresh", zap.Uint("userId", userID), zap.Error(err))
		snap = nil
	}

	resumed := false
	var sess *model.AssessmentSession
	if snap != nil && snap.Status != model.SessionCompleted && snap.Status != model.SessionAbandoned {
		snap.Status = model.SessionInProgress
		snap.CompletedAt = nil
		sess = snap
		resumed = true
	} else {
		sess = model.NewAssessmentSession(userID, s.catalog.Sections[0].ID)
	}

	if sectionID != "" && s.catalog.SectionByID(sectionID) != nil && sectionID != sess.CurrentSectionID {
		sess.CurrentSectionID = sectionID
		sess.CurrentQuestionIndex = 0
	}
	s.clampLocked(sess)

	if err := s.store.ClearSubmissionRef(ctx, userID); err != nil {
		logger.Log.Warn("Failed to clear cached submission ref", zap.Uint("userId", userID), zap.Error(err))
	}
	if err := s.store.ClearTagCache(ctx, userID); err != nil {
		logger.Log.Warn("Failed to clear tag cache", zap.Uint("userId", userID), zap.Error(err))
	}

	s.timer.Drop(sess.ID)
	s.live[userID] = sess
	s.dirty[userID] = true
	return sess, resumed, nil
}

// Session 返回用户当前的活动会话
func (s *SessionService) Session(userID uint) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(userID)
}

// SessionCopy 返回活动会话的深拷贝。锁外遍历响应表的读取方
// （载荷组装等）必须走这里，不能拿 Session 的活动指针
func (s *SessionService) SessionCopy(userID uint) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *SessionService) sessionLocked(userID uint) (*model.AssessmentSession, error) {
	sess, ok := s.live[userID]
	if !ok {
		return nil, util.ErrSessionNotFound
	}
	return sess, nil
}

// clampLocked 导航不变式：题目下标永远落在当前小节的有效区间内
func (s *SessionService) clampLocked(sess *model.AssessmentSession) {
	sec := s.catalog.SectionByID(sess.CurrentSectionID)
	if sec == nil {
		sess.CurrentSectionID = s.catalog.Sections[0].ID
		sec = &s.catalog.Sections[0]
		sess.CurrentQuestionIndex = 0
		return
	}
	if sess.CurrentQuestionIndex < 0 {
		sess.CurrentQuestionIndex = 0
	}
	if max := len(sec.Questions) - 1; sess.CurrentQuestionIndex > max {
		sess.CurrentQuestionIndex = max
	}
}

// Advance 小节内前进一题。已在小节末题时不动，是否跨节或交卷由调用方决定
func (s *SessionService) Advance(userID uint) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	if q := s.catalog.QuestionAt(sess.CurrentSectionID, sess.CurrentQuestionIndex); q != nil {
		sess.MarkVisited(q.ID)
	}
	if !s.catalog.IsLastOfSection(sess.CurrentSectionID, sess.CurrentQuestionIndex) {
		sess.CurrentQuestionIndex++
	}
	s.clampLocked(sess)
	s.dirty[userID] = true
	return sess, nil
}

// Retreat 后退一题；在小节首题时回到上一小节的末题，在全卷首题时不动
func (s *SessionService) Retreat(userID uint) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	if q := s.catalog.QuestionAt(sess.CurrentSectionID, sess.CurrentQuestionIndex); q != nil {
		sess.MarkVisited(q.ID)
	}

	if sess.CurrentQuestionIndex > 0 {
		sess.CurrentQuestionIndex--
	} else if idx := s.catalog.SectionIndex(sess.CurrentSectionID); idx > 0 {
		prev := s.catalog.Sections[idx-1]
		sess.CurrentSectionID = prev.ID
		sess.CurrentQuestionIndex = len(prev.Questions) - 1
	}
	s.clampLocked(sess)
	s.dirty[userID] = true
	return sess, nil
}

// JumpTo 小节内跳题，越界时收敛到边界
func (s *SessionService) JumpTo(userID uint, index int) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	if q := s.catalog.QuestionAt(sess.CurrentSectionID, sess.CurrentQuestionIndex); q != nil {
		sess.MarkVisited(q.ID)
	}
	sess.CurrentQuestionIndex = index
	s.clampLocked(sess)
	s.dirty[userID] = true
	return sess, nil
}

// ChangeSection 切换小节并把下标归零。不校验前一小节是否答完，自由导航
func (s *SessionService) ChangeSection(userID uint, sectionID string) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	if sess.CurrentSectionID == sectionID {
		return sess, nil
	}
	if s.catalog.SectionByID(sectionID) == nil {
		return nil, util.ErrSectionNotFound
	}
	sess.CurrentSectionID = sectionID
	sess.CurrentQuestionIndex = 0
	s.dirty[userID] = true
	return sess, nil
}

// RecordResponse 记录一次作答。同题后写覆盖先写，已累计的浏览时长保留
func (s *SessionService) RecordResponse(userID uint, questionID string, in AnswerInput, tags []model.HonestyTag) (*model.QuestionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	q := s.catalog.QuestionByID(questionID)
	if q == nil {
		return nil, util.ErrQuestionNotFound
	}
	for _, t := range tags {
		if !model.ValidHonestyTag(t) {
			return nil, util.ErrInvalidHonestyTag
		}
	}
	if !q.AllowsTags {
		tags = nil
	}

	prevRaw := ""
	if prev := sess.Response(questionID); prev != nil {
		prevRaw = prev.RawAnswer
	}
	raw, err := EncodeAnswer(q, in, prevRaw)
	if err != nil {
		return nil, err
	}

	resp := sess.EnsureResponse(questionID)
	resp.RawAnswer = raw
	resp.Tags = tags
	resp.CreatedAt = time.Now()
	sess.MarkVisited(questionID)
	s.dirty[userID] = true
	return resp, nil
}

// AccumulateViewTime 累加浏览时长。只加不覆盖，未作答的题也建占位响应，
// 保证浏览过但没答的题同样带计时数据
func (s *SessionService) AccumulateViewTime(userID uint, questionID string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulateLocked(userID, questionID, seconds)
}

func (s *SessionService) accumulateLocked(userID uint, questionID string, seconds int) error {
	sess, err := s.sessionLocked(userID)
	if err != nil {
		return err
	}
	if s.catalog.QuestionByID(questionID) == nil {
		return util.ErrQuestionNotFound
	}
	if seconds < 0 {
		seconds = 0
	}
	resp := sess.EnsureResponse(questionID)
	resp.ViewSeconds += seconds
	sess.MarkVisited(questionID)
	s.dirty[userID] = true
	return nil
}

// BeginView 开始浏览一道题。上一条浏览被隐式终止并把耗时折入对应响应
func (s *SessionService) BeginView(userID uint, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return err
	}
	if s.catalog.QuestionByID(questionID) == nil {
		return util.ErrQuestionNotFound
	}
	prevID, elapsed := s.timer.Begin(sess.ID, questionID)
	if prevID != "" && elapsed > 0 {
		if err := s.accumulateLocked(userID, prevID, elapsed); err != nil {
			return err
		}
	}
	sess.MarkVisited(questionID)
	s.dirty[userID] = true
	return nil
}

// settleViewLocked 结算当前还在计时的浏览，交卷和同步落盘前调用
func (s *SessionService) settleViewLocked(userID uint, sess *model.AssessmentSession) {
	if qid, elapsed, ok := s.timer.End(sess.ID); ok && elapsed > 0 {
		_ = s.accumulateLocked(userID, qid, elapsed)
	}
}

// Position 当前位置及全局进度
type Position struct {
	SectionID          string          `json:"sectionId"`
	SectionTitle       string          `json:"sectionTitle"`
	QuestionIndex      int             `json:"questionIndex"`
	GlobalIndex        int             `json:"globalIndex"`
	TotalQuestions     int             `json:"totalQuestions"`
	ProgressPercent    float64         `json:"progressPercent"`
	IsLastOfSection    bool            `json:"isLastOfSection"`
	IsLastOfAssessment bool            `json:"isLastOfAssessment"`
	Question           *model.Question `json:"question"`
}

func (s *SessionService) Position(userID uint) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	sec := s.catalog.SectionByID(sess.CurrentSectionID)
	if sec == nil {
		return nil, util.ErrSectionNotFound
	}
	global := s.catalog.GlobalIndex(sess.CurrentSectionID, sess.CurrentQuestionIndex)
	total := s.catalog.TotalQuestions()
	pos := &Position{
		SectionID:          sec.ID,
		SectionTitle:       sec.Title,
		QuestionIndex:      sess.CurrentQuestionIndex,
		GlobalIndex:        global,
		TotalQuestions:     total,
		IsLastOfSection:    s.catalog.IsLastOfSection(sess.CurrentSectionID, sess.CurrentQuestionIndex),
		IsLastOfAssessment: s.catalog.IsLastOfAssessment(sess.CurrentSectionID, sess.CurrentQuestionIndex),
		Question:           s.catalog.QuestionAt(sess.CurrentSectionID, sess.CurrentQuestionIndex),
	}
	if total > 0 && global >= 0 {
		pos.ProgressPercent = float64(global+1) / float64(total) * 100
	}
	return pos, nil
}

// Completeness 全卷完成度检查。缺答不是错误，返回结构化结果
// 让调用方把用户带到第一处缺答
func (s *SessionService) Completeness(userID uint) (*model.IncompleteReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return nil, err
	}
	report := &model.IncompleteReport{FirstIncompleteIndex: -1}
	secStart := make(map[string]int)
	s.catalog.WalkQuestions(func(global int, sec *model.Section, q *model.Question) bool {
		if _, ok := secStart[sec.ID]; !ok {
			secStart[sec.ID] = global
		}
		if !IsComplete(q, sess.Response(q.ID)) {
			report.Count++
			if !report.HasIncomplete {
				report.HasIncomplete = true
				report.FirstIncompleteSection = sec.ID
				report.FirstIncompleteIndex = global - secStart[sec.ID]
			}
		}
		return true
	})
	return report, nil
}

// CompletionPercent 已完成题目占比，进提交元数据
func (s *SessionService) CompletionPercent(sess *model.AssessmentSession) float64 {
	total := s.catalog.TotalQuestions()
	if total == 0 {
		return 0
	}
	done := 0
	s.catalog.WalkQuestions(func(_ int, _ *model.Section, q *model.Question) bool {
		if IsComplete(q, sess.Response(q.ID)) {
			done++
		}
		return true
	})
	return float64(done) / float64(total) * 100
}

// MarkCompleted 提交确认成功后的终态迁移，落一份终版快照
func (s *SessionService) MarkCompleted(ctx context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return err
	}
	if sess.Status == model.SessionCompleted {
		return nil
	}
	if !sess.Status.CanTransition(model.SessionCompleted) {
		return util.ErrSessionFinished
	}
	s.settleViewLocked(userID, sess)
	now := time.Now()
	sess.Status = model.SessionCompleted
	sess.CompletedAt = &now
	delete(s.dirty, userID)
	return s.store.SaveSnapshot(ctx, userID, sess)
}

// Abandon 放弃当前会话并清掉快照
func (s *SessionService) Abandon(ctx context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return err
	}
	if !sess.Status.CanTransition(model.SessionAbandoned) {
		return util.ErrSessionFinished
	}
	sess.Status = model.SessionAbandoned
	s.timer.Drop(sess.ID)
	delete(s.live, userID)
	delete(s.dirty, userID)
	return s.store.ClearSnapshot(ctx, userID)
}

// Flush 同步落盘。页面隐藏/卸载信号触发，在途作答不能悄悄丢掉
func (s *SessionService) Flush(ctx context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(userID)
	if err != nil {
		return err
	}
	s.settleViewLocked(userID, sess)
	delete(s.dirty, userID)
	return s.store.SaveSnapshot(ctx, userID, sess)
}

// FlushAll 关机前把所有在内存中的会话写入快照存储
func (s *SessionService) FlushAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, sess := range s.live {
		s.settleViewLocked(userID, sess)
		if err := s.store.SaveSnapshot(ctx, userID, sess); err != nil {
			logger.Log.Error("Shutdown snapshot failed", zap.Uint("userId", userID), zap.Error(err))
			continue
		}
		delete(s.dirty, userID)
	}
}

// StartAutosave 防抖自动落盘：固定间隔把有改动的会话写入快照存储。
// 只读会话做快照，不与导航互斥竞争长临界区
func (s *SessionService) StartAutosave(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopAutosave:
				return
			case <-ticker.C:
				s.autosaveTick(ctx)
			}
		}
	}()
}

func (s *SessionService) autosaveTick(ctx context.Context) {
	s.mu.Lock()
	// 深拷贝后再出锁：落盘方序列化的是副本，导航处理可以继续改活动会话
	pending := make(map[uint]*model.AssessmentSession, len(s.dirty))
	for userID := range s.dirty {
		if sess, ok := s.live[userID]; ok {
			pending[userID] = sess.Clone()
		}
		delete(s.dirty, userID)
	}
	s.mu.Unlock()

	for userID, sess := range pending {
		if err := s.store.SaveSnapshot(ctx, userID, sess); err != nil {
			logger.Log.Error("Autosave snapshot failed", zap.Uint("userId", userID), zap.Error(err))
			s.mu.Lock()
			s.dirty[userID] = true
			s.mu.Unlock()
		}
	}
}

func (s *SessionService) StopAutosave() {
	close(s.stopAutosave)
}
