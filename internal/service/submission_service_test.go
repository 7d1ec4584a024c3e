package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"selfinsight_backend/internal/model"
	"selfinsight_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScoringClient struct {
	submitErr   error
	submitCalls int
	statusState model.ScoringState
	statusErr   error
	statusCalls int
	lastPayload *model.EvaluationPayload
}

func (f *fakeScoringClient) SubmitEvaluation(_ context.Context, payload *model.EvaluationPayload) (*model.ScoringAck, error) {
	f.submitCalls++
	f.lastPayload = payload
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &model.ScoringAck{
		Status:       "accepted",
		SubmissionID: payload.SubmissionID,
		SessionID:    payload.SessionID,
		TestID:       "test-42",
		Redirect:     "/results/test-42",
	}, nil
}

func (f *fakeScoringClient) EvaluationStatus(_ context.Context, _ string) (model.ScoringState, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return model.ScoringUnknown, f.statusErr
	}
	return f.statusState, nil
}

type fakeRecordStore struct {
	created []*model.SubmissionRecord
}

func (f *fakeRecordStore) Create(rec *model.SubmissionRecord) error {
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeRecordStore) List(page, limit int, userID uint) ([]model.SubmissionRecord, int64, error) {
	out := make([]model.SubmissionRecord, 0, len(f.created))
	for _, r := range f.created {
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRecordStore) FindByID(id uint) (*model.SubmissionRecord, error) {
	for _, r := range f.created {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.New("record not found")
}

type submissionFixture struct {
	sessions *SessionService
	store    *fakeSnapshotStore
	scoring  *fakeScoringClient
	records  *fakeRecordStore
	svc      *SubmissionService
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	store := newFakeSnapshotStore()
	sessions := newTestSessionService(store)
	scoring := &fakeScoringClient{statusState: model.ScoringUnknown}
	records := &fakeRecordStore{}
	svc := NewSubmissionService(sessions, store, scoring, records, nil)

	_, _, err := sessions.Start(context.Background(), 7, "")
	require.NoError(t, err)
	answerEverything(t, sessions, 7)

	return &submissionFixture{
		sessions: sessions,
		store:    store,
		scoring:  scoring,
		records:  records,
		svc:      svc,
	}
}

func TestSubmitSuccess(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	result, err := fx.svc.Submit(ctx, 7, "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0", "ref-abc")
	require.NoError(t, err)
	assert.Equal(t, "test-42", result.TestID)
	assert.Equal(t, "/results/test-42", result.Redirect)
	assert.False(t, result.Reconciled)

	// 会话进入终态
	sess, err := fx.sessions.Session(7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)

	// 提交标识已确认
	ref := fx.store.refs[7]
	require.NotNil(t, ref)
	assert.Equal(t, result.SubmissionID, ref.SubmissionID)
	require.NotNil(t, ref.ConfirmedAt)

	// 留档一条记录
	require.Len(t, fx.records.created, 1)
	rec := fx.records.created[0]
	assert.Equal(t, "accepted", rec.Status)
	assert.Equal(t, uint(7), rec.UserID)
	assert.Equal(t, "desktop", rec.DeviceClass)
	assert.Equal(t, "ref-abc", rec.ReferralCode)
	assert.InDelta(t, 100.0, rec.CompletionPercent, 0.001)
}

func TestSubmitPayloadCoversEveryQuestionOnce(t *testing.T) {
	fx := newSubmissionFixture(t)

	// 清掉一题答案，载荷里应以占位答案出现
	_, err := fx.sessions.RecordResponse(7, "q_future", AnswerInput{Text: ""}, nil)
	require.NoError(t, err)

	_, err = fx.svc.Submit(context.Background(), 7, "", "")
	require.NoError(t, err)

	payload := fx.scoring.lastPayload
	require.NotNil(t, payload)
	require.Len(t, payload.Answers, 14)

	seen := make(map[string]bool)
	for i, row := range payload.Answers {
		assert.Equal(t, i, row.Index)
		assert.False(t, seen[row.QuestionID])
		seen[row.QuestionID] = true
		assert.NotNil(t, row.Tags)
		if row.QuestionID == "q_future" {
			assert.Equal(t, model.DeclinedAnswer, row.Answer)
		} else {
			assert.NotEqual(t, model.DeclinedAnswer, row.Answer)
		}
	}
}

func TestSubmitIsIdempotentAfterConfirmation(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, 7, "", "")
	require.NoError(t, err)
	second, err := fx.svc.Submit(ctx, 7, "", "")
	require.NoError(t, err)

	assert.Equal(t, first.SubmissionID, second.SubmissionID)
	assert.Equal(t, 1, fx.scoring.submitCalls)
	assert.Len(t, fx.records.created, 1)
}

func TestSubmitTimeoutThenReconcileReady(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	// 提交超时，但评分端实际已收到
	fx.scoring.submitErr = &ScoringUnreachableError{Err: errors.New("context deadline exceeded")}
	fx.scoring.statusState = model.ScoringReady

	result, err := fx.svc.Submit(ctx, 7, "", "")
	require.NoError(t, err)
	assert.True(t, result.Reconciled)
	assert.Equal(t, 1, fx.scoring.submitCalls)
	assert.Equal(t, 1, fx.scoring.statusCalls)

	sess, err := fx.sessions.Session(7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)

	require.Len(t, fx.records.created, 1)
	assert.Equal(t, "reconciled", fx.records.created[0].Status)
}

func TestSubmitTimeoutThenUnknownKeepsRefForRetry(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	fx.scoring.submitErr = &ScoringUnreachableError{Err: errors.New("connection refused")}
	fx.scoring.statusState = model.ScoringUnknown

	_, err := fx.svc.Submit(ctx, 7, "", "")
	var unreachable *ScoringUnreachableError
	require.ErrorAs(t, err, &unreachable)

	// 标识已落地，供下次重试对账
	ref := fx.store.refs[7]
	require.NotNil(t, ref)
	assert.Nil(t, ref.ConfirmedAt)
	firstID := ref.SubmissionID

	// 会话不迁移到终态
	sess, serr := fx.sessions.Session(7)
	require.NoError(t, serr)
	assert.Equal(t, model.SessionInProgress, sess.Status)
	assert.Empty(t, fx.records.created)

	// 网络恢复后的重试沿用同一个提交标识
	fx.scoring.submitErr = nil
	result, err := fx.svc.Submit(ctx, 7, "", "")
	require.NoError(t, err)
	assert.Equal(t, firstID, result.SubmissionID)
}

func TestSubmitRetryReconcilesBeforeResending(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	fx.scoring.submitErr = &ScoringUnreachableError{Err: errors.New("timeout")}
	fx.scoring.statusState = model.ScoringUnknown
	_, err := fx.svc.Submit(ctx, 7, "", "")
	require.Error(t, err)
	require.Equal(t, 1, fx.scoring.submitCalls)

	// 第二次进来先查状态，发现 processing 就不再重发
	fx.scoring.statusState = model.ScoringProcessing
	result, err := fx.svc.Submit(ctx, 7, "", "")
	require.NoError(t, err)
	assert.True(t, result.Reconciled)
	assert.Equal(t, 1, fx.scoring.submitCalls)
}

func TestSubmitRejectedPropagates(t *testing.T) {
	fx := newSubmissionFixture(t)

	fx.scoring.submitErr = &ScoringRejectedError{StatusCode: 422, Message: "bad payload"}

	_, err := fx.svc.Submit(context.Background(), 7, "", "")
	var rejected *ScoringRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 422, rejected.StatusCode)

	// 明确拒绝不触发状态对账
	assert.Equal(t, 0, fx.scoring.statusCalls)
	sess, serr := fx.sessions.Session(7)
	require.NoError(t, serr)
	assert.Equal(t, model.SessionInProgress, sess.Status)
}

func TestSubmitWithoutSession(t *testing.T) {
	store := newFakeSnapshotStore()
	sessions := newTestSessionService(store)
	svc := NewSubmissionService(sessions, store, &fakeScoringClient{}, &fakeRecordStore{}, nil)

	_, err := svc.Submit(context.Background(), 99, "", "")
	assert.ErrorIs(t, err, util.ErrSessionNotFound)
}

func TestSubmitConcurrentWithNavigation(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	// 提交组装载荷期间用户仍在改答案，载荷基于锁下取出的副本组装
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			_, err := fx.sessions.RecordResponse(7, "q_strength", AnswerInput{Text: "patience"}, nil)
			assert.NoError(t, err)
		}
	}()

	result, err := fx.svc.Submit(ctx, 7, "", "")
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "test-42", result.TestID)
	require.NotNil(t, fx.scoring.lastPayload)
	assert.Len(t, fx.scoring.lastPayload.Answers, 14)
}

func TestResetConfirmedAllowsNewRound(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Submit(ctx, 7, "", "")
	require.NoError(t, err)

	// 新一轮：会话重开 + 幂等缓存清空
	_, _, err = fx.sessions.Start(ctx, 7, "")
	require.NoError(t, err)
	fx.svc.ResetConfirmed(7)
	answerEverything(t, fx.sessions, 7)

	result, err := fx.svc.Submit(ctx, 7, "", "")
	require.NoError(t, err)
	assert.False(t, result.Reconciled)
	assert.Equal(t, 2, fx.scoring.submitCalls)
	assert.Len(t, fx.records.created, 2)
}
