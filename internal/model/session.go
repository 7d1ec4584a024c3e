package model

import "time"

// 会话状态只允许前向迁移：not_started → in_progress → {completed, abandoned}
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// CanTransition 状态机前向迁移校验
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionNotStarted:
		return next == SessionInProgress
	case SessionInProgress:
		return next == SessionCompleted || next == SessionAbandoned
	default:
		return false
	}
}

// HonestyTag 用户对自己答案附加的自评标签，与答案内容无关
type HonestyTag string

const (
	TagHonest    HonestyTag = "honest"
	TagSarcastic HonestyTag = "sarcastic"
	TagUnsure    HonestyTag = "unsure"
	TagAvoiding  HonestyTag = "avoiding"
)

func ValidHonestyTag(t HonestyTag) bool {
	switch t {
	case TagHonest, TagSarcastic, TagUnsure, TagAvoiding:
		return true
	}
	return false
}

// QuestionResponse 单题作答，每会话每题至多一条，后写覆盖先写
type QuestionResponse struct {
	QuestionID  string       `json:"questionId"`
	RawAnswer   string       `json:"rawAnswer"`
	Tags        []HonestyTag `json:"tags,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	ViewSeconds int          `json:"viewSeconds"` // 历次浏览累计，只增不减
}

// AssessmentSession 一次测评会话，响应表由会话独占持有
type AssessmentSession struct {
	ID                   string                       `json:"id"`
	UserID               uint                         `json:"userId"`
	StartedAt            time.Time                    `json:"startedAt"`
	CompletedAt          *time.Time                   `json:"completedAt,omitempty"`
	Status               SessionStatus                `json:"status"`
	CurrentSectionID     string                       `json:"currentSectionId"`
	CurrentQuestionIndex int                          `json:"currentQuestionIndex"`
	Responses            map[string]*QuestionResponse `json:"responses"`
	VisitedQuestionIDs   map[string]bool              `json:"visitedQuestionIds"`
}

func NewAssessmentSession(userID uint, sectionID string) *AssessmentSession {
	return &AssessmentSession{
		ID:                 GenerateUUID(),
		UserID:             userID,
		StartedAt:          time.Now(),
		Status:             SessionInProgress,
		CurrentSectionID:   sectionID,
		Responses:          make(map[string]*QuestionResponse),
		VisitedQuestionIDs: make(map[string]bool),
	}
}

// Clone 会话深拷贝。持锁收集、锁外序列化的读取方必须拿副本，
// 不能与导航处理共享响应表指针
func (s *AssessmentSession) Clone() *AssessmentSession {
	c := *s
	if s.CompletedAt != nil {
		done := *s.CompletedAt
		c.CompletedAt = &done
	}
	c.Responses = make(map[string]*QuestionResponse, len(s.Responses))
	for id, r := range s.Responses {
		rc := *r
		if len(r.Tags) > 0 {
			rc.Tags = append([]HonestyTag(nil), r.Tags...)
		}
		c.Responses[id] = &rc
	}
	c.VisitedQuestionIDs = make(map[string]bool, len(s.VisitedQuestionIDs))
	for id, v := range s.VisitedQuestionIDs {
		c.VisitedQuestionIDs[id] = v
	}
	return &c
}

// Response 取指定题目的作答，不存在返回 nil
func (s *AssessmentSession) Response(questionID string) *QuestionResponse {
	return s.Responses[questionID]
}

// EnsureResponse 取或建占位作答（空答案），用于先计时后作答的题目
func (s *AssessmentSession) EnsureResponse(questionID string) *QuestionResponse {
	if r, ok := s.Responses[questionID]; ok {
		return r
	}
	r := &QuestionResponse{QuestionID: questionID, CreatedAt: time.Now()}
	s.Responses[questionID] = r
	return r
}

func (s *AssessmentSession) MarkVisited(questionID string) {
	if questionID == "" {
		return
	}
	if s.VisitedQuestionIDs == nil {
		s.VisitedQuestionIDs = make(map[string]bool)
	}
	s.VisitedQuestionIDs[questionID] = true
}
