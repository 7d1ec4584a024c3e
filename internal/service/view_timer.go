package service

import (
	"strings"
	"sync"
	"time"
)

type viewEntry struct {
	questionID string
	since      time.Time
}

// ViewTimer 记录每个会话当前正在浏览的题目。同一会话同一时刻只有
// 一条在计时，开始新的浏览会隐式终止上一条，保证不会重复计时。
// 整秒以下的余量按题保留，短促的反复切题累计起来不丢时长
type ViewTimer struct {
	mu     sync.Mutex
	active map[string]viewEntry
	carry  map[string]time.Duration
	now    func() time.Time
}

func NewViewTimer() *ViewTimer {
	return &ViewTimer{
		active: make(map[string]viewEntry),
		carry:  make(map[string]time.Duration),
		now:    time.Now,
	}
}

func carryKey(sessionID, questionID string) string {
	return sessionID + "\x00" + questionID
}

// settleLocked 结算一条浏览：本次耗时并入该题的亚秒余量，
// 返回可上报的整秒数，余量留待下次浏览
func (t *ViewTimer) settleLocked(sessionID string, entry viewEntry, now time.Time) int {
	key := carryKey(sessionID, entry.questionID)
	total := now.Sub(entry.since) + t.carry[key]
	if total < 0 {
		total = 0
	}
	seconds := int(total / time.Second)
	if rem := total % time.Second; rem > 0 {
		t.carry[key] = rem
	} else {
		delete(t.carry, key)
	}
	return seconds
}

// Begin 开始浏览一道题，返回被隐式终止的上一条浏览及其耗时秒数。
// 上一条必须先结算，再开新计时，避免切题瞬间双计
func (t *ViewTimer) Begin(sessionID, questionID string) (prevQuestionID string, elapsedSeconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if prev, ok := t.active[sessionID]; ok {
		prevQuestionID = prev.questionID
		elapsedSeconds = t.settleLocked(sessionID, prev, now)
	}
	t.active[sessionID] = viewEntry{questionID: questionID, since: now}
	return prevQuestionID, elapsedSeconds
}

// End 结束当前浏览并返回耗时，会话没有在计时的浏览时 ok=false
func (t *ViewTimer) End(sessionID string) (questionID string, elapsedSeconds int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.active[sessionID]
	if !exists {
		return "", 0, false
	}
	delete(t.active, sessionID)
	return entry.questionID, t.settleLocked(sessionID, entry, t.now()), true
}

// Drop 丢弃会话的在途计时和全部亚秒余量
func (t *ViewTimer) Drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, sessionID)
	prefix := sessionID + "\x00"
	for key := range t.carry {
		if strings.HasPrefix(key, prefix) {
			delete(t.carry, key)
		}
	}
}
