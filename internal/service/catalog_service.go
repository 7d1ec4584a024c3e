package service

import (
	"encoding/json"
	"fmt"
	"os"

	"selfinsight_backend/internal/model"
	"selfinsight_backend/pkg/logger"

	"go.uber.org/zap"
)

// CatalogService 持有静态题库。题库是版本化数据，改动会改变评分语义，
// 字段名映射（answerFieldName）必须与评分端约定保持一致
type CatalogService struct {
	catalog *model.Catalog
}

// NewCatalogService 优先加载 path 指向的 JSON 题库，文件缺失或损坏时
// 退回编译期内置题库
func NewCatalogService(path string) *CatalogService {
	if path != "" {
		if c, err := loadCatalogFile(path); err == nil {
			logger.Log.Info("Catalog loaded",
				zap.String("path", path),
				zap.String("version", c.Version),
				zap.Int("questions", c.TotalQuestions()))
			return &CatalogService{catalog: c}
		} else if !os.IsNotExist(err) {
			logger.Log.Warn("Catalog file unreadable, falling back to built-in catalog",
				zap.String("path", path), zap.Error(err))
		}
	}
	c := defaultCatalog()
	logger.Log.Info("Using built-in catalog",
		zap.String("version", c.Version),
		zap.Int("questions", c.TotalQuestions()))
	return &CatalogService{catalog: c}
}

func loadCatalogFile(path string) (*model.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c model.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if len(c.Sections) == 0 {
		return nil, fmt.Errorf("catalog %s has no sections", path)
	}
	return &c, nil
}

func (s *CatalogService) Catalog() *model.Catalog {
	return s.catalog
}

// NumericOptions 为数值选择题生成选项区间的字面量
func NumericOptions(from, to int) []string {
	if to < from {
		from, to = to, from
	}
	opts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		opts = append(opts, fmt.Sprintf("%d", i))
	}
	return opts
}

// defaultCatalog 内置题库。小节与题目顺序决定全局题序
func defaultCatalog() *model.Catalog {
	agreeScale := []string{"strongly disagree", "disagree", "neutral", "agree", "strongly agree"}

	return &model.Catalog{
		Version: "2025.3",
		Sections: []model.Section{
			{
				ID:    "about_you",
				Title: "About You",
				Questions: []model.Question{
					{
						ID: "q_name", SectionID: "about_you",
						Type: model.QuestionFreeText,
						Text: "What is your name?",
						AllowsAnonymous: true, AnswerFieldName: "name",
					},
					{
						ID: "q_email", SectionID: "about_you",
						Type: model.QuestionFreeText,
						Text: "What email can we reach you at?",
						AllowsAnonymous: true, AnswerFieldName: "email",
					},
					{
						ID: "q_age", SectionID: "about_you",
						Type:    model.QuestionNumericChoice,
						Text:    "How old are you?",
						Options: NumericOptions(16, 99),
					},
					{
						ID: "q_birthdate", SectionID: "about_you",
						Type: model.QuestionDate,
						Text: "When were you born?",
					},
					{
						ID: "q_city", SectionID: "about_you",
						Type: model.QuestionFreeText,
						Text: "Where do you live, and what does home mean to you?",
						AllowsAnonymous: true, HasLocationField: true,
						AnswerFieldName: "details",
					},
				},
			},
			{
				ID:    "self_view",
				Title: "How You See Yourself",
				Questions: []model.Question{
					{
						ID: "q_strength", SectionID: "self_view",
						Type: model.QuestionFreeText,
						Text: "Describe a personal strength you rely on.",
						AllowsTags: true,
					},
					{
						ID: "q_weakness", SectionID: "self_view",
						Type: model.QuestionFreeText,
						Text: "Describe a weakness you would like to change.",
						AllowsTags: true,
					},
					{
						ID: "q_self_worth", SectionID: "self_view",
						Type: model.QuestionSingleChoice,
						Text: "I feel that I am a person of worth.",
						Options: agreeScale, AllowsTags: true,
					},
					{
						ID: "q_priorities", SectionID: "self_view",
						Type: model.QuestionRanking,
						Text: "Rank these life areas by how much they matter to you right now.",
						Options: []string{"career", "family", "health", "friendship", "growth"},
						AllowsTags: true,
					},
				},
			},
			{
				ID:    "daily_life",
				Title: "Daily Life",
				Questions: []model.Question{
					{
						ID: "q_stress_level", SectionID: "daily_life",
						Type:    model.QuestionNumericChoice,
						Text:    "On a scale of 1 to 10, how stressed have you felt this month?",
						Options: NumericOptions(1, 10),
						AllowsTags: true,
					},
					{
						ID: "q_sleep", SectionID: "daily_life",
						Type: model.QuestionSingleChoice,
						Text: "I sleep well most nights.",
						Options: agreeScale, AllowsTags: true,
					},
					{
						ID: "q_last_change", SectionID: "daily_life",
						Type: model.QuestionDate,
						Text: "When did you last make a major change in your life?",
					},
					{
						ID: "q_coping", SectionID: "daily_life",
						Type: model.QuestionRanking,
						Text: "Rank how you usually cope with a bad week.",
						Options: []string{"talk to someone", "exercise", "distract myself", "sleep it off", "work harder"},
						AllowsTags: true,
					},
					{
						ID: "q_future", SectionID: "daily_life",
						Type: model.QuestionFreeText,
						Text: "Where do you hope to be in five years?",
						AllowsTags: true,
					},
				},
			},
		},
	}
}
