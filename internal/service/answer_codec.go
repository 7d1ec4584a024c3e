package service

import (
	"encoding/json"
	"strings"

	"selfinsight_backend/internal/model"
)

// AnswerKind 由题目类型与特性开关共同决定的编码分支，
// 编码、解码、完成度判定都按它穷举
type AnswerKind int

const (
	KindPlainText AnswerKind = iota
	KindAnonymousText
	KindLocationText
	KindChoice
	KindDate
	KindRanking
)

func KindOf(q *model.Question) AnswerKind {
	switch q.Type {
	case model.QuestionSingleChoice, model.QuestionNumericChoice:
		return KindChoice
	case model.QuestionDate:
		return KindDate
	case model.QuestionRanking:
		return KindRanking
	default:
		if q.HasLocationField {
			return KindLocationText
		}
		if q.AllowsAnonymous {
			return KindAnonymousText
		}
		return KindPlainText
	}
}

// RankedItem 排序题中的一个条目，顺序即用户排定的顺序
type RankedItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AnswerInput 表现层在每次导航动作时推送的已提交值，
// 按题目类型取用其中一部分字段
type AnswerInput struct {
	Text         string       `json:"text"`
	Choice       string       `json:"choice"`
	Date         string       `json:"date"`
	IsAnonymous  bool         `json:"isAnonymous"`
	SelectedCity string       `json:"selectedCity"`
	Details      string       `json:"details"`
	Rankings     []RankedItem `json:"rankings"`
	Explanation  string       `json:"explanation"`
	IsUserRanked bool         `json:"isUserRanked"`
}

// LocationAnswer 匿名+城市子字段题目的结构化编码
type LocationAnswer struct {
	SelectedCity string `json:"selectedCity"`
	Details      string `json:"details"`
	IsAnonymous  bool   `json:"isAnonymous"`
}

// RankingAnswer 排序题的结构化编码。IsUserRanked 仅在用户真正拖动
// 过条目后置真，用于区分"默认顺序未动过"和"认真排过"
type RankingAnswer struct {
	Rankings     []RankedItem `json:"rankings"`
	Explanation  string       `json:"explanation"`
	IsUserRanked bool         `json:"isUserRanked"`
}

// EncodeAnswer 把一次用户输入编码为存储串。prevRaw 是该题上一次的
// 存储串，匿名题在 isAnonymous=true 时需要保留上次非匿名编辑的字段值
func EncodeAnswer(q *model.Question, in AnswerInput, prevRaw string) (string, error) {
	switch KindOf(q) {
	case KindChoice:
		return in.Choice, nil
	case KindDate:
		// 日期按输入原样存储，不做规范化，格式约定由评分端负责
		return in.Date, nil
	case KindAnonymousText:
		field := answerField(q)
		value := in.Text
		if in.IsAnonymous {
			if prev, _, ok := decodeAnonymousText(q, prevRaw); ok {
				value = prev
			} else {
				value = ""
			}
		}
		raw, err := json.Marshal(map[string]interface{}{
			"isAnonymous": in.IsAnonymous,
			field:         value,
		})
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case KindLocationText:
		city := in.SelectedCity
		if in.IsAnonymous {
			// 匿名时城市子字段强制清空
			city = ""
		}
		raw, err := json.Marshal(LocationAnswer{
			SelectedCity: city,
			Details:      in.Details,
			IsAnonymous:  in.IsAnonymous,
		})
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case KindRanking:
		raw, err := json.Marshal(RankingAnswer{
			Rankings:     in.Rankings,
			Explanation:  in.Explanation,
			IsUserRanked: in.IsUserRanked,
		})
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return in.Text, nil
	}
}

func answerField(q *model.Question) string {
	if q.AnswerFieldName != "" {
		return q.AnswerFieldName
	}
	return "answer"
}

// decodeAnonymousText 解出匿名文本题的字段值，解析失败返回 ok=false
func decodeAnonymousText(q *model.Question, raw string) (value string, isAnonymous bool, ok bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", false, false
	}
	if v, exists := m["isAnonymous"]; exists {
		_ = json.Unmarshal(v, &isAnonymous)
	}
	if v, exists := m[answerField(q)]; exists {
		_ = json.Unmarshal(v, &value)
	}
	return value, isAnonymous, true
}

func DecodeLocation(raw string) (LocationAnswer, bool) {
	var a LocationAnswer
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return LocationAnswer{}, false
	}
	return a, true
}

func DecodeRanking(raw string) (RankingAnswer, bool) {
	var a RankingAnswer
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return RankingAnswer{}, false
	}
	return a, true
}

// IsComplete 单题完成度判定。残缺输入一律按未完成处理而不报错，
// 部分作答不能让导航流程崩掉
func IsComplete(q *model.Question, resp *model.QuestionResponse) bool {
	if resp == nil {
		return false
	}
	trimmed := strings.TrimSpace(resp.RawAnswer)
	if trimmed == "" || trimmed == model.DeclinedAnswer {
		return false
	}

	switch KindOf(q) {
	case KindAnonymousText:
		value, isAnonymous, ok := decodeAnonymousText(q, resp.RawAnswer)
		if !ok {
			return false
		}
		return isAnonymous || strings.TrimSpace(value) != ""
	case KindLocationText:
		a, ok := DecodeLocation(resp.RawAnswer)
		if !ok {
			return false
		}
		if strings.TrimSpace(a.Details) == "" {
			return false
		}
		return a.IsAnonymous || strings.TrimSpace(a.SelectedCity) != ""
	case KindRanking:
		a, ok := DecodeRanking(resp.RawAnswer)
		if !ok {
			return false
		}
		return a.IsUserRanked || strings.TrimSpace(a.Explanation) != ""
	default:
		return true
	}
}
