package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"selfinsight_backend/internal/model"
	"selfinsight_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	snapshotKeyFmt      = "assessment:snapshot:%d"
	submissionRefKeyFmt = "assessment:submission:%d"
	tagCacheKeyFmt      = "assessment:tags:%d:*"
)

// SessionSnapshotRepository 会话快照的持久化适配层。每个用户只保留
// 一份快照键，值是完整会话的 JSON 快照，会话本体始终由内存持有
type SessionSnapshotRepository struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewSessionSnapshotRepository(rdb *redis.Client, ttl time.Duration) *SessionSnapshotRepository {
	return &SessionSnapshotRepository{RDB: rdb, TTL: ttl}
}

func (r *SessionSnapshotRepository) SaveSnapshot(ctx context.Context, userID uint, s *model.AssessmentSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.RDB.Set(ctx, fmt.Sprintf(snapshotKeyFmt, userID), data, r.TTL).Err()
}

// LoadSnapshot 读取快照。快照缺失或损坏都返回 (nil, nil)：
// 损坏的快照直接丢弃，让调用方重新开始而不是中断会话
func (r *SessionSnapshotRepository) LoadSnapshot(ctx context.Context, userID uint) (*model.AssessmentSession, error) {
	data, err := r.RDB.Get(ctx, fmt.Sprintf(snapshotKeyFmt, userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s model.AssessmentSession
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Log.Warn("Discarding malformed session snapshot",
			zap.Uint("userId", userID), zap.Error(err))
		r.RDB.Del(ctx, fmt.Sprintf(snapshotKeyFmt, userID))
		return nil, nil
	}
	if s.Responses == nil {
		s.Responses = make(map[string]*model.QuestionResponse)
	}
	if s.VisitedQuestionIDs == nil {
		s.VisitedQuestionIDs = make(map[string]bool)
	}
	return &s, nil
}

func (r *SessionSnapshotRepository) ClearSnapshot(ctx context.Context, userID uint) error {
	return r.RDB.Del(ctx, fmt.Sprintf(snapshotKeyFmt, userID)).Err()
}

func (r *SessionSnapshotRepository) SaveSubmissionRef(ctx context.Context, userID uint, ref *model.SubmissionRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return r.RDB.Set(ctx, fmt.Sprintf(submissionRefKeyFmt, userID), data, r.TTL).Err()
}

func (r *SessionSnapshotRepository) LoadSubmissionRef(ctx context.Context, userID uint) (*model.SubmissionRef, error) {
	data, err := r.RDB.Get(ctx, fmt.Sprintf(submissionRefKeyFmt, userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ref model.SubmissionRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, nil
	}
	return &ref, nil
}

func (r *SessionSnapshotRepository) ClearSubmissionRef(ctx context.Context, userID uint) error {
	return r.RDB.Del(ctx, fmt.Sprintf(submissionRefKeyFmt, userID)).Err()
}

// ClearTagCache 清掉历史版本客户端遗留的按题标签缓存键。
// 标签现在随响应一起存在快照里，这些键只清不写
func (r *SessionSnapshotRepository) ClearTagCache(ctx context.Context, userID uint) error {
	pattern := fmt.Sprintf(tagCacheKeyFmt, userID)
	iter := r.RDB.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.RDB.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
