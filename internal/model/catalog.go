package model

// 题目类型
type QuestionType string

const (
	QuestionSingleChoice  QuestionType = "single_choice"
	QuestionFreeText      QuestionType = "free_text"
	QuestionNumericChoice QuestionType = "numeric_choice"
	QuestionDate          QuestionType = "date"
	QuestionRanking       QuestionType = "ranking"
)

// DeclinedAnswer 未作答题目在提交载荷中的占位答案，评分端依赖该字面量
const DeclinedAnswer = "declined to answer"

// Question 题库中的一道题，构建期定义，运行期只读
// swagger:model Question
type Question struct {
	ID        string       `json:"id"`
	SectionID string       `json:"sectionId"`
	Type      QuestionType `json:"type"`
	Text      string       `json:"text"`
	Options   []string     `json:"options,omitempty"`
	// 匿名开关、城市子字段、诚实度标签等正交特性
	AllowsAnonymous  bool `json:"allowsAnonymous"`
	HasLocationField bool `json:"hasLocationField"`
	AllowsTags       bool `json:"allowsTags"`
	// AnswerFieldName 匿名类题目编码时使用的字段名（name/email/age/details 等），
	// 与评分端的字段约定一一对应，不可从题目 ID 推断
	AnswerFieldName string `json:"answerFieldName,omitempty"`
}

// Section 有序题组，组间顺序决定全局题序
// swagger:model Section
type Section struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Catalog 整套测评的静态题库
type Catalog struct {
	Version  string    `json:"version"`
	Sections []Section `json:"sections"`
}

func (c *Catalog) SectionByID(id string) *Section {
	for i := range c.Sections {
		if c.Sections[i].ID == id {
			return &c.Sections[i]
		}
	}
	return nil
}

func (c *Catalog) SectionIndex(id string) int {
	for i := range c.Sections {
		if c.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

// QuestionAt 返回指定小节内指定下标的题目，越界返回 nil
func (c *Catalog) QuestionAt(sectionID string, index int) *Question {
	sec := c.SectionByID(sectionID)
	if sec == nil || index < 0 || index >= len(sec.Questions) {
		return nil
	}
	return &sec.Questions[index]
}

func (c *Catalog) QuestionByID(id string) *Question {
	for i := range c.Sections {
		for j := range c.Sections[i].Questions {
			if c.Sections[i].Questions[j].ID == id {
				return &c.Sections[i].Questions[j]
			}
		}
	}
	return nil
}

// GlobalIndex 题目全局序号 = 前置各小节题数之和 + 小节内下标，未找到返回 -1
func (c *Catalog) GlobalIndex(sectionID string, index int) int {
	total := 0
	for i := range c.Sections {
		if c.Sections[i].ID == sectionID {
			if index < 0 || index >= len(c.Sections[i].Questions) {
				return -1
			}
			return total + index
		}
		total += len(c.Sections[i].Questions)
	}
	return -1
}

func (c *Catalog) TotalQuestions() int {
	total := 0
	for i := range c.Sections {
		total += len(c.Sections[i].Questions)
	}
	return total
}

// IsLastOfSection 是否为所在小节最后一题
func (c *Catalog) IsLastOfSection(sectionID string, index int) bool {
	sec := c.SectionByID(sectionID)
	return sec != nil && len(sec.Questions) > 0 && index == len(sec.Questions)-1
}

// IsLastOfAssessment 是否为整套测评最后一题（末小节且小节内末题）
func (c *Catalog) IsLastOfAssessment(sectionID string, index int) bool {
	if len(c.Sections) == 0 {
		return false
	}
	last := c.Sections[len(c.Sections)-1]
	return last.ID == sectionID && c.IsLastOfSection(sectionID, index)
}

// WalkQuestions 按全局题序遍历，回调返回 false 时提前终止
func (c *Catalog) WalkQuestions(fn func(global int, sec *Section, q *Question) bool) {
	global := 0
	for i := range c.Sections {
		for j := range c.Sections[i].Questions {
			if !fn(global, &c.Sections[i], &c.Sections[i].Questions[j]) {
				return
			}
			global++
		}
	}
}
