package service

import (
	"os"
	"path/filepath"
	"testing"

	"selfinsight_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsConsistent(t *testing.T) {
	cat := defaultCatalog()
	require.NotEmpty(t, cat.Sections)

	seen := make(map[string]bool)
	cat.WalkQuestions(func(_ int, sec *model.Section, q *model.Question) bool {
		assert.False(t, seen[q.ID], "duplicate question id %s", q.ID)
		seen[q.ID] = true
		assert.Equal(t, sec.ID, q.SectionID)
		if q.Type == model.QuestionSingleChoice || q.Type == model.QuestionNumericChoice || q.Type == model.QuestionRanking {
			assert.NotEmpty(t, q.Options, "question %s needs options", q.ID)
		}
		return true
	})
	assert.Equal(t, len(seen), cat.TotalQuestions())
}

func TestCatalogLookups(t *testing.T) {
	cat := defaultCatalog()

	assert.Nil(t, cat.SectionByID("nope"))
	assert.Equal(t, -1, cat.SectionIndex("nope"))
	assert.Nil(t, cat.QuestionAt("about_you", 99))
	assert.Nil(t, cat.QuestionAt("about_you", -1))
	assert.Equal(t, -1, cat.GlobalIndex("about_you", 99))

	q := cat.QuestionByID("q_city")
	require.NotNil(t, q)
	assert.True(t, q.HasLocationField)
	assert.Equal(t, "details", q.AnswerFieldName)

	assert.True(t, cat.IsLastOfSection("about_you", 4))
	assert.False(t, cat.IsLastOfAssessment("about_you", 4))
	assert.True(t, cat.IsLastOfAssessment("daily_life", 4))
}

func TestNumericOptions(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, NumericOptions(1, 3))
	assert.Equal(t, []string{"5"}, NumericOptions(5, 5))
	// 区间倒置时自动矫正
	assert.Equal(t, []string{"1", "2"}, NumericOptions(2, 1))
}

func TestNewCatalogServiceFileFallback(t *testing.T) {
	// 路径不存在时退回内置题库
	svc := NewCatalogService(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, defaultCatalog().TotalQuestions(), svc.Catalog().TotalQuestions())

	// 损坏的文件同样退回内置题库
	broken := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o644))
	svc = NewCatalogService(broken)
	assert.Equal(t, defaultCatalog().TotalQuestions(), svc.Catalog().TotalQuestions())
}

func TestNewCatalogServiceLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	payload := `{
		"version": "test.1",
		"sections": [
			{
				"id": "only",
				"title": "Only Section",
				"questions": [
					{"id": "q1", "sectionId": "only", "type": "free_text", "text": "hi"}
				]
			}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	svc := NewCatalogService(path)
	assert.Equal(t, "test.1", svc.Catalog().Version)
	assert.Equal(t, 1, svc.Catalog().TotalQuestions())
}
