package service

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"selfinsight_backend/internal/model"
	"selfinsight_backend/internal/util"
	"selfinsight_backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// fakeSnapshotStore 内存版快照存储，按真实仓库的语义做深拷贝，
// 避免测试里内存会话和"落盘"快照共享指针
type fakeSnapshotStore struct {
	snapshots map[uint][]byte
	refs      map[uint]*model.SubmissionRef
	saveErr   error
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{
		snapshots: make(map[uint][]byte),
		refs:      make(map[uint]*model.SubmissionRef),
	}
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, userID uint, s *model.AssessmentSession) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return err
	}
	f.snapshots[userID] = blob
	return nil
}

func (f *fakeSnapshotStore) LoadSnapshot(_ context.Context, userID uint) (*model.AssessmentSession, error) {
	blob, ok := f.snapshots[userID]
	if !ok {
		return nil, nil
	}
	var s model.AssessmentSession
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSnapshotStore) ClearSnapshot(_ context.Context, userID uint) error {
	delete(f.snapshots, userID)
	return nil
}

func (f *fakeSnapshotStore) SaveSubmissionRef(_ context.Context, userID uint, ref *model.SubmissionRef) error {
	f.refs[userID] = ref
	return nil
}

func (f *fakeSnapshotStore) LoadSubmissionRef(_ context.Context, userID uint) (*model.SubmissionRef, error) {
	return f.refs[userID], nil
}

func (f *fakeSnapshotStore) ClearSubmissionRef(_ context.Context, userID uint) error {
	delete(f.refs, userID)
	return nil
}

func (f *fakeSnapshotStore) ClearTagCache(_ context.Context, userID uint) error {
	return nil
}

func newTestSessionService(store SnapshotStore) *SessionService {
	return NewSessionService(&CatalogService{catalog: defaultCatalog()}, store)
}

func TestStartFreshSession(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())

	sess, resumed, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, model.SessionInProgress, sess.Status)
	assert.Equal(t, "about_you", sess.CurrentSectionID)
	assert.Equal(t, 0, sess.CurrentQuestionIndex)
	assert.NotEmpty(t, sess.ID)
}

func TestStartResumesInProgressSnapshot(t *testing.T) {
	store := newFakeSnapshotStore()
	svc := newTestSessionService(store)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	_, err = svc.RecordResponse(7, "q_age", AnswerInput{Choice: "30"}, nil)
	require.NoError(t, err)
	_, err = svc.ChangeSection(7, "self_view")
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx, 7))

	// 另起服务实例模拟进程重启
	svc2 := newTestSessionService(store)
	restored, resumed, err := svc2.Start(ctx, 7, "")
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, sess.ID, restored.ID)
	assert.Equal(t, model.SessionInProgress, restored.Status)
	assert.Equal(t, "self_view", restored.CurrentSectionID)
	require.NotNil(t, restored.Response("q_age"))
	assert.Equal(t, "30", restored.Response("q_age").RawAnswer)
}

func TestStartDiscardsCompletedSnapshot(t *testing.T) {
	store := newFakeSnapshotStore()
	svc := newTestSessionService(store)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkCompleted(ctx, 7))

	// 已完成的会话不重开，直接换新
	fresh, resumed, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, sess.ID, fresh.ID)
	assert.Equal(t, model.SessionInProgress, fresh.Status)
}

func TestStartClearsStaleSubmissionRef(t *testing.T) {
	store := newFakeSnapshotStore()
	store.refs[7] = &model.SubmissionRef{SubmissionID: "stale"}
	svc := newTestSessionService(store)

	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Nil(t, store.refs[7])
}

func TestStartWithSectionJump(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())

	sess, _, err := svc.Start(context.Background(), 7, "daily_life")
	require.NoError(t, err)
	assert.Equal(t, "daily_life", sess.CurrentSectionID)
	assert.Equal(t, 0, sess.CurrentQuestionIndex)

	// 未知小节按默认处理
	sess, _, err = svc.Start(context.Background(), 8, "no_such_section")
	require.NoError(t, err)
	assert.Equal(t, "about_you", sess.CurrentSectionID)
}

func TestAdvanceStopsAtSectionEnd(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	// about_you 有 5 题，连进 10 次也停在末题
	var sess *model.AssessmentSession
	for i := 0; i < 10; i++ {
		sess, err = svc.Advance(7)
		require.NoError(t, err)
	}
	assert.Equal(t, "about_you", sess.CurrentSectionID)
	assert.Equal(t, 4, sess.CurrentQuestionIndex)
}

func TestRetreatCrossesSectionBoundary(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "self_view")
	require.NoError(t, err)

	sess, err := svc.Retreat(7)
	require.NoError(t, err)
	assert.Equal(t, "about_you", sess.CurrentSectionID)
	assert.Equal(t, 4, sess.CurrentQuestionIndex)

	// 全卷首题继续后退不动
	for i := 0; i < 10; i++ {
		sess, err = svc.Retreat(7)
		require.NoError(t, err)
	}
	assert.Equal(t, "about_you", sess.CurrentSectionID)
	assert.Equal(t, 0, sess.CurrentQuestionIndex)
}

func TestJumpClampsToBounds(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	sess, err := svc.JumpTo(7, 99)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.CurrentQuestionIndex)

	sess, err = svc.JumpTo(7, -3)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.CurrentQuestionIndex)
}

func TestChangeSectionResetsIndex(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)
	_, err = svc.JumpTo(7, 3)
	require.NoError(t, err)

	sess, err := svc.ChangeSection(7, "daily_life")
	require.NoError(t, err)
	assert.Equal(t, "daily_life", sess.CurrentSectionID)
	assert.Equal(t, 0, sess.CurrentQuestionIndex)

	_, err = svc.ChangeSection(7, "no_such_section")
	assert.ErrorIs(t, err, util.ErrSectionNotFound)

	// 切到当前所在小节是无操作，下标不归零
	_, err = svc.JumpTo(7, 2)
	require.NoError(t, err)
	sess, err = svc.ChangeSection(7, "daily_life")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.CurrentQuestionIndex)
}

func TestGlobalIndexStrictlyIncreasesAcrossSections(t *testing.T) {
	cat := defaultCatalog()
	prev := -1
	cat.WalkQuestions(func(global int, _ *model.Section, _ *model.Question) bool {
		assert.Equal(t, prev+1, global)
		prev = global
		return true
	})
	assert.Equal(t, cat.TotalQuestions()-1, prev)
}

func TestRecordResponseTagHandling(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	// q_age 不支持标签，标签被丢弃
	resp, err := svc.RecordResponse(7, "q_age", AnswerInput{Choice: "30"}, []model.HonestyTag{model.TagHonest})
	require.NoError(t, err)
	assert.Empty(t, resp.Tags)

	// q_strength 支持标签
	resp, err = svc.RecordResponse(7, "q_strength", AnswerInput{Text: "patience"}, []model.HonestyTag{model.TagHonest, model.TagUnsure})
	require.NoError(t, err)
	assert.Equal(t, []model.HonestyTag{model.TagHonest, model.TagUnsure}, resp.Tags)

	_, err = svc.RecordResponse(7, "q_strength", AnswerInput{Text: "x"}, []model.HonestyTag{"bogus"})
	assert.ErrorIs(t, err, util.ErrInvalidHonestyTag)

	_, err = svc.RecordResponse(7, "no_such_question", AnswerInput{}, nil)
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)
}

func TestRecordResponseOverwriteKeepsViewTime(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	require.NoError(t, svc.AccumulateViewTime(7, "q_age", 40))
	resp, err := svc.RecordResponse(7, "q_age", AnswerInput{Choice: "30"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, resp.ViewSeconds)
	assert.Equal(t, "30", resp.RawAnswer)

	// 后写覆盖先写
	resp, err = svc.RecordResponse(7, "q_age", AnswerInput{Choice: "31"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "31", resp.RawAnswer)
	assert.Equal(t, 40, resp.ViewSeconds)
}

func TestAccumulateViewTimeIsAdditive(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	require.NoError(t, svc.AccumulateViewTime(7, "q_name", 10))
	require.NoError(t, svc.AccumulateViewTime(7, "q_name", 5))
	require.NoError(t, svc.AccumulateViewTime(7, "q_name", -99)) // 负值按 0 处理

	sess, err := svc.Session(7)
	require.NoError(t, err)
	assert.Equal(t, 15, sess.Response("q_name").ViewSeconds)
}

func TestBeginViewFoldsPreviousElapsed(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.timer.now = func() time.Time { return now }

	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	require.NoError(t, svc.BeginView(7, "q_name"))
	now = now.Add(8 * time.Second)
	require.NoError(t, svc.BeginView(7, "q_email"))

	sess, err := svc.Session(7)
	require.NoError(t, err)
	require.NotNil(t, sess.Response("q_name"))
	assert.Equal(t, 8, sess.Response("q_name").ViewSeconds)

	// Flush 结算仍在计时的 q_email
	now = now.Add(4 * time.Second)
	require.NoError(t, svc.Flush(context.Background(), 7))
	assert.Equal(t, 4, sess.Response("q_email").ViewSeconds)
}

func TestPositionProgress(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	pos, err := svc.Position(7)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.GlobalIndex)
	assert.Equal(t, 14, pos.TotalQuestions)
	assert.False(t, pos.IsLastOfSection)
	assert.False(t, pos.IsLastOfAssessment)
	require.NotNil(t, pos.Question)
	assert.Equal(t, "q_name", pos.Question.ID)

	_, err = svc.ChangeSection(7, "daily_life")
	require.NoError(t, err)
	_, err = svc.JumpTo(7, 4)
	require.NoError(t, err)

	pos, err = svc.Position(7)
	require.NoError(t, err)
	assert.Equal(t, 13, pos.GlobalIndex)
	assert.True(t, pos.IsLastOfSection)
	assert.True(t, pos.IsLastOfAssessment)
	assert.InDelta(t, 100.0, pos.ProgressPercent, 0.001)
}

func answerEverything(t *testing.T, svc *SessionService, userID uint) {
	t.Helper()
	cat := svc.Catalog()
	cat.WalkQuestions(func(_ int, _ *model.Section, q *model.Question) bool {
		var in AnswerInput
		switch KindOf(q) {
		case KindChoice:
			in.Choice = q.Options[0]
		case KindDate:
			in.Date = "1990-01-01"
		case KindAnonymousText:
			in.Text = "some value"
		case KindLocationText:
			in.SelectedCity = "Lisbon"
			in.Details = "home"
		case KindRanking:
			for _, opt := range q.Options {
				in.Rankings = append(in.Rankings, RankedItem{ID: opt, Text: opt})
			}
			in.IsUserRanked = true
		default:
			in.Text = "free text"
		}
		_, err := svc.RecordResponse(userID, q.ID, in, nil)
		require.NoError(t, err)
		return true
	})
}

func TestCompletenessReport(t *testing.T) {
	svc := newTestSessionService(newFakeSnapshotStore())
	_, _, err := svc.Start(context.Background(), 7, "")
	require.NoError(t, err)

	report, err := svc.Completeness(7)
	require.NoError(t, err)
	assert.True(t, report.HasIncomplete)
	assert.Equal(t, 14, report.Count)
	assert.Equal(t, "about_you", report.FirstIncompleteSection)
	assert.Equal(t, 0, report.FirstIncompleteIndex)

	answerEverything(t, svc, 7)

	// 再清掉一道中段的题，报告应指到小节内下标
	_, err = svc.RecordResponse(7, "q_sleep", AnswerInput{Choice: ""}, nil)
	require.NoError(t, err)

	report, err = svc.Completeness(7)
	require.NoError(t, err)
	assert.True(t, report.HasIncomplete)
	assert.Equal(t, 1, report.Count)
	assert.Equal(t, "daily_life", report.FirstIncompleteSection)
	assert.Equal(t, 1, report.FirstIncompleteIndex)

	sess, err := svc.Session(7)
	require.NoError(t, err)
	assert.InDelta(t, 13.0/14.0*100, svc.CompletionPercent(sess), 0.001)

	_, err = svc.RecordResponse(7, "q_sleep", AnswerInput{Choice: "agree"}, nil)
	require.NoError(t, err)
	report, err = svc.Completeness(7)
	require.NoError(t, err)
	assert.False(t, report.HasIncomplete)
	assert.Equal(t, 0, report.Count)
}

func TestMarkCompletedIsTerminal(t *testing.T) {
	store := newFakeSnapshotStore()
	svc := newTestSessionService(store)
	ctx := context.Background()

	_, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkCompleted(ctx, 7))

	sess, err := svc.Session(7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)
	require.NotNil(t, sess.CompletedAt)

	// 幂等：重复调用不报错
	require.NoError(t, svc.MarkCompleted(ctx, 7))

	// 完成后不可再放弃
	assert.ErrorIs(t, svc.Abandon(ctx, 7), util.ErrSessionFinished)
}

func TestAbandonClearsSnapshot(t *testing.T) {
	store := newFakeSnapshotStore()
	svc := newTestSessionService(store)
	ctx := context.Background()

	_, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx, 7))
	require.NotEmpty(t, store.snapshots[7])

	require.NoError(t, svc.Abandon(ctx, 7))
	assert.Empty(t, store.snapshots[7])

	_, err = svc.Session(7)
	assert.ErrorIs(t, err, util.ErrSessionNotFound)
}

func TestAutosavePersistsDirtySessions(t *testing.T) {
	store := newFakeSnapshotStore()
	svc := newTestSessionService(store)
	ctx := context.Background()

	_, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	_, err = svc.RecordResponse(7, "q_age", AnswerInput{Choice: "42"}, nil)
	require.NoError(t, err)

	svc.autosaveTick(ctx)

	restored, err := store.LoadSnapshot(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, restored)
	require.NotNil(t, restored.Response("q_age"))
	assert.Equal(t, "42", restored.Response("q_age").RawAnswer)
}

func TestAutosaveRetriesAfterSaveFailure(t *testing.T) {
	store := newFakeSnapshotStore()
	svc := newTestSessionService(store)
	ctx := context.Background()

	_, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)

	store.saveErr = assert.AnError
	svc.autosaveTick(ctx)
	assert.Empty(t, store.snapshots[7])

	// 失败的会话保持脏标记，下一轮重试
	store.saveErr = nil
	svc.autosaveTick(ctx)
	assert.NotEmpty(t, store.snapshots[7])
}

// retainingSnapshotStore 额外留住落盘时拿到的会话指针，
// 用来验证落盘方拿到的是副本而非活动会话
type retainingSnapshotStore struct {
	*fakeSnapshotStore
	saved []*model.AssessmentSession
}

func (r *retainingSnapshotStore) SaveSnapshot(ctx context.Context, userID uint, s *model.AssessmentSession) error {
	r.saved = append(r.saved, s)
	return r.fakeSnapshotStore.SaveSnapshot(ctx, userID, s)
}

func TestAutosaveSnapshotDetachedFromLiveSession(t *testing.T) {
	store := &retainingSnapshotStore{fakeSnapshotStore: newFakeSnapshotStore()}
	svc := newTestSessionService(store)
	ctx := context.Background()

	_, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	_, err = svc.RecordResponse(7, "q_age", AnswerInput{Choice: "30"}, nil)
	require.NoError(t, err)

	svc.autosaveTick(ctx)
	require.Len(t, store.saved, 1)

	// 落盘之后继续改活动会话，已落盘的副本不能跟着变
	_, err = svc.RecordResponse(7, "q_age", AnswerInput{Choice: "99"}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AccumulateViewTime(7, "q_name", 12))

	live, err := svc.Session(7)
	require.NoError(t, err)
	snap := store.saved[0]
	assert.NotSame(t, live, snap)
	assert.Equal(t, "30", snap.Response("q_age").RawAnswer)
	assert.Nil(t, snap.Response("q_name"))
}

func TestAutosaveDuringConcurrentNavigation(t *testing.T) {
	store := newFakeSnapshotStore()
	svc := newTestSessionService(store)
	ctx := context.Background()

	_, _, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)

	// 自动落盘与导航处理并发跑，活动会话不能被落盘方裸读
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := svc.RecordResponse(7, "q_strength", AnswerInput{Text: "patience"}, nil)
				assert.NoError(t, err)
				assert.NoError(t, svc.AccumulateViewTime(7, "q_name", 1))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			svc.autosaveTick(ctx)
		}
	}()
	wg.Wait()

	require.NoError(t, svc.Flush(ctx, 7))
	restored, err := store.LoadSnapshot(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, 800, restored.Response("q_name").ViewSeconds)
	assert.Equal(t, "patience", restored.Response("q_strength").RawAnswer)
}
