package model

import (
	"encoding/json"
	"time"
)

// AnswerRow 提交载荷中的一行，题库每道题恰好出现一次
type AnswerRow struct {
	Index            int          `json:"index"`
	QuestionID       string       `json:"questionId"`
	Text             string       `json:"text"`
	Answer           string       `json:"answer"`
	SectionID        string       `json:"sectionId"`
	SectionName      string       `json:"sectionName"`
	Tags             []HonestyTag `json:"tags"`
	TimeTakenSeconds int          `json:"timeTakenSeconds"`
}

// EvaluationPayload 发往评分服务的完整载荷
type EvaluationPayload struct {
	SubmissionID      string      `json:"submissionId"`
	SessionID         string      `json:"sessionId"`
	UserID            uint        `json:"userId"`
	Answers           []AnswerRow `json:"answers"`
	DurationSeconds   int         `json:"durationSeconds"`
	CompletionPercent float64     `json:"completionPercent"`
	DeviceClass       string      `json:"deviceClass"`
	Browser           string      `json:"browser"`
	OS                string      `json:"os"`
	ReferralCode      string      `json:"referralCode,omitempty"`
}

// ScoringAck 评分服务对提交的确认响应
type ScoringAck struct {
	Status       string `json:"status"` // accepted 为确认标记
	SubmissionID string `json:"submissionId"`
	SessionID    string `json:"sessionId"`
	TestID       string `json:"testId"`
	Redirect     string `json:"redirect"`
}

// 评分服务状态端点的处理状态
type ScoringState string

const (
	ScoringProcessing ScoringState = "processing"
	ScoringReady      ScoringState = "ready"
	ScoringUnknown    ScoringState = "unknown"
)

// SubmissionRef 本地缓存的提交标识，断网对账与防重复提交的依据
type SubmissionRef struct {
	SubmissionID string     `json:"submissionId"`
	SessionID    string     `json:"sessionId"`
	TestID       string     `json:"testId,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty"`
}

// SubmitResult 提交成功后的路由结果
type SubmitResult struct {
	SubmissionID string `json:"submissionId"`
	SessionID    string `json:"sessionId"`
	TestID       string `json:"testId"`
	Redirect     string `json:"redirect"`
	Reconciled   bool   `json:"reconciled"` // 经状态对账确认而非直接确认
}

// IncompleteReport 完成度检查的结构化结果，供前端定位第一处缺答
type IncompleteReport struct {
	HasIncomplete          bool   `json:"hasIncomplete"`
	FirstIncompleteSection string `json:"firstIncompleteSectionId,omitempty"`
	FirstIncompleteIndex   int    `json:"firstIncompleteIndex"`
	Count                  int    `json:"count"`
}

// SubmissionRecord 服务端留档的提交记录
// swagger:model SubmissionRecord
type SubmissionRecord struct {
	BaseModel
	SubmissionID      string          `gorm:"size:36;uniqueIndex" json:"submissionId"`
	SessionID         string          `gorm:"size:36;index" json:"sessionId"`
	UserID            uint            `gorm:"index;type:bigint unsigned" json:"userId"`
	TestID            string          `gorm:"size:64" json:"testId"`
	Status            string          `gorm:"size:20;default:'accepted'" json:"status"` // accepted, reconciled
	Payload           json.RawMessage `gorm:"type:json" json:"payload"`
	DurationSeconds   int             `gorm:"default:0" json:"durationSeconds"`
	CompletionPercent float64         `gorm:"default:0" json:"completionPercent"`
	DeviceClass       string          `gorm:"size:20" json:"deviceClass"`
	Browser           string          `gorm:"size:40" json:"browser"`
	OS                string          `gorm:"size:40" json:"os"`
	ReferralCode      string          `gorm:"size:64" json:"referralCode"`
}

func (SubmissionRecord) TableName() string {
	return "submission_records"
}
